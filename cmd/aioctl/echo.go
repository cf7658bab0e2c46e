// File: cmd/aioctl/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/control"
	"github.com/momentics/hioload-aio/executor"
	"github.com/momentics/hioload-aio/facade"
)

type echoCmd struct {
	listen    string
	executors int
	bufSize   int
	duration  time.Duration
}

func (*echoCmd) Name() string     { return "echo" }
func (*echoCmd) Synopsis() string { return "serve TCP echo on one or more executors" }
func (*echoCmd) Usage() string {
	return `echo [-listen addr] [-executors N] [-duration d]:
  Runs N executors, each on its own thread with its own listening socket,
  echoing every connection until interrupted or d elapses.
`
}

func (e *echoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&e.listen, "listen", "127.0.0.1:9002", "listen address")
	f.IntVar(&e.executors, "executors", 1, "number of executors; more than one needs SO_REUSEPORT")
	f.IntVar(&e.bufSize, "buf", 16*1024, "per-connection buffer size")
	f.DurationVar(&e.duration, "duration", 0, "stop after this long; 0 runs until interrupted")
}

func (e *echoCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	addr, err := netip.ParseAddrPort(e.listen)
	if err != nil || e.executors <= 0 || e.bufSize <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if e.executors > 1 && !reusePortSupported {
		fmt.Fprintln(os.Stderr, "echo: multiple executors need SO_REUSEPORT, unavailable on this platform")
		return subcommands.ExitUsageError
	}
	cfg, err := global.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "echo: %v\n", err)
		return subcommands.ExitUsageError
	}
	if e.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.duration)
		defer cancel()
	}
	ready := func(a netip.AddrPort) { fmt.Printf("[aioctl-echo] listening on %s\n", a) }
	if err := serveEcho(ctx, cfg, addr, e.executors, e.bufSize, ready); err != nil {
		fmt.Fprintf(os.Stderr, "echo: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// serveEcho runs n echo executors until ctx is done. ready is called from
// each executor's goroutine with its bound address.
func serveEcho(ctx context.Context, cfg control.Config, addr netip.AddrPort, n, bufSize int, ready func(netip.AddrPort)) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		c := cfg
		if cfg.CPU >= 0 {
			c.CPU = (cfg.CPU + i) % runtime.NumCPU()
		}
		g.Go(func() error {
			return runEchoExecutor(ctx, c, addr, n > 1, bufSize, ready)
		})
	}
	return g.Wait()
}

// echoServer is the state of one executor's echo service. Its fields are
// only touched from tasks of that executor.
type echoServer struct {
	h       *facade.HioloadAIO
	log     *zap.Logger
	ln      api.Handle
	bufSize int
	conns   map[uint64]*executor.JoinHandle
}

func runEchoExecutor(ctx context.Context, cfg control.Config, addr netip.AddrPort, reusePort bool, bufSize int, ready func(netip.AddrPort)) (err error) {
	h, err := facade.New(&cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, h.Shutdown()) }()

	ln, bound, err := listen(addr, reusePort)
	if err != nil {
		return err
	}
	if err := attach(h.GetExecutor(), ln); err != nil {
		return multierr.Append(err, closeSocket(ln))
	}
	if ready != nil {
		ready(bound)
	}
	srv := &echoServer{
		h:       h,
		log:     h.Logger().With(zap.Stringer("listen", bound)),
		ln:      ln,
		bufSize: bufSize,
		conns:   make(map[uint64]*executor.JoinHandle),
	}
	return h.Run(srv.run(ctx))
}

// run is the root task: it accepts until ctx is done, then tears down.
func (s *echoServer) run(ctx context.Context) func(*executor.Task) error {
	return func(task *executor.Task) error {
		acceptor := task.Spawn(s.acceptLoop)
		for ctx.Err() == nil && !acceptor.Done() {
			if err := task.Sleep(50 * time.Millisecond); err != nil {
				break
			}
		}
		acceptor.Abort()
		err := task.Join(acceptor)
		if errors.Is(err, api.ErrCancelled) {
			err = nil
		}
		open := make([]*executor.JoinHandle, 0, len(s.conns))
		for _, c := range s.conns {
			open = append(open, c)
		}
		for _, c := range open {
			c.Abort()
			task.Join(c)
		}
		return multierr.Append(err, executor.Close(task, s.ln))
	}
}

func (s *echoServer) acceptLoop(t *executor.Task) error {
	ex := s.h.GetExecutor()
	for {
		sock, err := acceptSocket(s.ln)
		if err != nil {
			return err
		}
		fd, peer, err := executor.Accept(t, s.ln, sock)
		if err != nil {
			if sock != 0 {
				closeSocket(sock)
			}
			return err
		}
		if err := attach(ex, fd); err != nil {
			s.log.Warn("attach failed", zap.Error(err))
			closeSocket(fd)
			continue
		}
		s.log.Debug("accepted", zap.Stringer("peer", peer))
		var jh *executor.JoinHandle
		jh = t.Spawn(func(c *executor.Task) error {
			defer delete(s.conns, jh.ID())
			return s.serve(c, fd)
		})
		s.conns[jh.ID()] = jh
	}
}

// serve echoes fd until the peer closes it.
func (s *echoServer) serve(t *executor.Task, fd api.Handle) (err error) {
	pool := s.h.GetBufferPool()
	buf := pool.Get(s.bufSize)
	defer pool.Put(buf)
	defer func() {
		cerr := executor.Close(t, fd)
		if errors.Is(cerr, api.ErrCancelled) {
			cerr = closeSocket(fd)
		}
		err = multierr.Append(err, cerr)
	}()
	for {
		n, b, err := executor.Recv(t, fd, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, b, err = executor.WriteAll(t, fd, b); err != nil {
			return err
		}
		buf = b
	}
}
