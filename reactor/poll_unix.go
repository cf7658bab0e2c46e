//go:build unix

// File: reactor/poll_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness backend: operations wait in an interest set and are performed in
// user space once poll(2) reports the descriptor ready. It emulates
// completion semantics on every unix, including kernels without io_uring.

package reactor

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/op"
)

type pollBackend struct {
	log      *zap.Logger
	waiting  []*inflight
	direct   []*inflight
	ready    []*inflight
	nonblock map[int]struct{}
	fds      []unix.PollFd
}

func newPollBackend(o Options) (*pollBackend, error) {
	return &pollBackend{
		log:      o.Logger,
		nonblock: make(map[int]struct{}),
		waiting:  make([]*inflight, 0, o.Capacity),
	}, nil
}

func (p *pollBackend) kind() api.BackendKind { return api.BackendPoll }

func (p *pollBackend) attach(h api.Handle) error {
	fd := int(h)
	if _, ok := p.nonblock[fd]; ok {
		return nil
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	p.nonblock[fd] = struct{}{}
	return nil
}

func (p *pollBackend) submit(e *inflight) error {
	switch o := e.op.(type) {
	case op.Nop, op.Close, op.Fsync, op.ReadAt, op.WriteAt, op.ReadVectoredAt, op.WriteVectoredAt:
		p.direct = append(p.direct, e)
		return nil
	case op.ReadVectored:
		if vecLen(writableVecs(o.Bufs)) == 0 {
			p.direct = append(p.direct, e)
			return nil
		}
	case op.WriteVectored:
		if vecLen(readableVecs(o.Bufs)) == 0 {
			p.direct = append(p.direct, e)
			return nil
		}
	case op.Read:
		if len(o.Buf.Writable()) == 0 {
			p.direct = append(p.direct, e)
			return nil
		}
	case op.Recv:
		if len(o.Buf.Writable()) == 0 {
			p.direct = append(p.direct, e)
			return nil
		}
	case op.Write:
		if len(o.Buf.Bytes()) == 0 {
			p.direct = append(p.direct, e)
			return nil
		}
	case op.Send:
		if len(o.Buf.Bytes()) == 0 {
			p.direct = append(p.direct, e)
			return nil
		}
	}
	if err := p.attach(e.op.Handle()); err != nil {
		return err
	}
	if c, ok := e.op.(op.Connect); ok {
		err := unix.Connect(int(c.Fd), sockaddrOf(c.Addr))
		switch {
		case err == nil:
			e.complete(0, nil)
			p.ready = append(p.ready, e)
			return nil
		case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
			// completes on writability
		default:
			e.complete(0, err)
			p.ready = append(p.ready, e)
			return nil
		}
	}
	e.stage = stageKernel
	p.waiting = append(p.waiting, e)
	return nil
}

// cancel synthesizes the cancelled completion; no kernel state references
// the operation.
func (p *pollBackend) cancel(e *inflight) {
	if e.stage == stageDone {
		return
	}
	if removeInflight(&p.waiting, e) || removeInflight(&p.direct, e) {
		if e.n > 0 {
			// part of the buffer already left; report it instead
			e.complete(e.n, nil)
		} else {
			e.complete(0, api.ErrCancelled)
		}
		p.ready = append(p.ready, e)
	}
}

func (p *pollBackend) poll(timeout time.Duration, _ func(api.Key) *inflight) ([]*inflight, error) {
	out := p.ready
	p.ready = nil

	for _, e := range p.direct {
		p.performDirect(e)
		out = append(out, e)
	}
	p.direct = p.direct[:0]

	if len(out) > 0 {
		timeout = 0
	}
	if len(p.waiting) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return out, nil
	}

	p.fds = p.fds[:0]
	for _, e := range p.waiting {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(e.op.Handle()), Events: interest(e)})
	}
	n, err := unix.Poll(p.fds, msTimeout(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return out, nil
		}
		return out, err
	}
	if n == 0 {
		return out, nil
	}

	kept := p.waiting[:0]
	for i, e := range p.waiting {
		rev := p.fds[i].Revents
		if rev == 0 {
			kept = append(kept, e)
			continue
		}
		if rev&unix.POLLNVAL != 0 {
			e.complete(0, unix.EBADF)
			out = append(out, e)
			continue
		}
		if p.perform(e) {
			out = append(out, e)
		} else {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(p.waiting); i++ {
		p.waiting[i] = nil
	}
	p.waiting = kept
	return out, nil
}

func (p *pollBackend) close() error {
	p.waiting, p.direct, p.ready = nil, nil, nil
	return nil
}

func interest(e *inflight) int16 {
	switch e.op.Kind() {
	case op.KindWrite, op.KindWriteVectored, op.KindSend, op.KindConnect:
		return unix.POLLOUT
	}
	return unix.POLLIN
}

// perform runs the operation after a readiness event. It returns false when
// the descriptor turned out not to be ready and interest must be re-armed.
func (p *pollBackend) perform(e *inflight) bool {
	fd := int(e.op.Handle())
	switch o := e.op.(type) {
	case op.Read:
		n, err := unix.Read(fd, o.Buf.Writable())
		return p.settle(e, n, err)
	case op.Recv:
		n, _, err := unix.Recvfrom(fd, o.Buf.Writable(), o.Flags)
		return p.settle(e, n, err)
	case op.ReadVectored:
		n, err := readv(fd, writableVecs(o.Bufs))
		return p.settle(e, n, err)
	case op.Write:
		return p.drain(e, o.Buf.Bytes(), func(b []byte) (int, error) { return unix.Write(fd, b) })
	case op.WriteVectored:
		return p.drainVecs(e, readableVecs(o.Bufs), func(v [][]byte) (int, error) { return writev(fd, v) })
	case op.Send:
		return p.drain(e, o.Buf.Bytes(), func(b []byte) (int, error) { return unix.SendmsgN(fd, b, nil, nil, o.Flags) })
	case op.Accept:
		nfd, sa, err := unix.Accept(fd)
		if err != nil {
			return p.settle(e, 0, err)
		}
		unix.CloseOnExec(nfd)
		o.Peer = addrPortOf(sa)
		e.op = o
		e.complete(nfd, nil)
		return true
	case op.Connect:
		v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err == nil && v != 0 {
			err = unix.Errno(v)
		}
		return p.settle(e, 0, err)
	}
	e.complete(0, api.ErrNotSupported)
	return true
}

func (p *pollBackend) settle(e *inflight, n int, err error) bool {
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return false
		}
		var errno unix.Errno
		if errors.As(err, &errno) {
			err = mapErrno(errno, e.cancelRequested)
		}
		e.complete(0, err)
		return true
	}
	if n < 0 {
		n = 0
	}
	e.complete(n, nil)
	return true
}

// drain writes until the buffer is exhausted, the descriptor would block or
// an error occurs. e.n accumulates progress across readiness events.
func (p *pollBackend) drain(e *inflight, b []byte, write func([]byte) (int, error)) bool {
	for e.n < len(b) {
		n, err := write(b[e.n:])
		if n > 0 {
			e.n += n
		}
		if err == nil {
			continue
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return false
		}
		if e.n > 0 {
			break
		}
		e.complete(0, err)
		return true
	}
	e.complete(e.n, nil)
	return true
}

// drainVecs is drain for a gather list.
func (p *pollBackend) drainVecs(e *inflight, vecs [][]byte, write func([][]byte) (int, error)) bool {
	total := vecLen(vecs)
	for e.n < total {
		n, err := write(skipVecs(vecs, e.n))
		if n > 0 {
			e.n += n
		}
		if err == nil {
			if n == 0 {
				break
			}
			continue
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return false
		}
		if e.n > 0 {
			break
		}
		e.complete(0, err)
		return true
	}
	e.complete(e.n, nil)
	return true
}

// performDirect runs operations that have no readiness notion.
func (p *pollBackend) performDirect(e *inflight) {
	fd := int(e.op.Handle())
	var (
		n   int
		err error
	)
	switch o := e.op.(type) {
	case op.Nop, op.Read, op.Recv, op.Write, op.Send, op.ReadVectored, op.WriteVectored:
		// zero-length transfers
	case op.ReadVectoredAt:
		n, err = retryEINTR(func() (int, error) { return preadv(fd, writableVecs(o.Bufs), o.Offset) })
	case op.WriteVectoredAt:
		vecs := readableVecs(o.Bufs)
		total := vecLen(vecs)
		for n < total {
			w, werr := retryEINTR(func() (int, error) { return pwritev(fd, skipVecs(vecs, n), o.Offset+int64(n)) })
			if werr != nil {
				if n == 0 {
					err = werr
				}
				break
			}
			if w == 0 {
				break
			}
			n += w
		}
	case op.ReadAt:
		n, err = retryEINTR(func() (int, error) { return unix.Pread(fd, o.Buf.Writable(), o.Offset) })
	case op.WriteAt:
		b := o.Buf.Bytes()
		for n < len(b) {
			w, werr := retryEINTR(func() (int, error) { return unix.Pwrite(fd, b[n:], o.Offset+int64(n)) })
			if werr != nil {
				if n == 0 {
					err = werr
				}
				break
			}
			if w == 0 {
				break
			}
			n += w
		}
	case op.Fsync:
		if o.DataOnly {
			err = datasync(fd)
		} else {
			err = unix.Fsync(fd)
		}
	case op.Close:
		delete(p.nonblock, fd)
		err = unix.Close(fd)
	}
	if n < 0 {
		n = 0
	}
	e.complete(n, err)
}

func retryEINTR(fn func() (int, error)) (int, error) {
	for {
		n, err := fn()
		if !errors.Is(err, unix.EINTR) {
			return n, err
		}
	}
}

func removeInflight(list *[]*inflight, e *inflight) bool {
	s := *list
	for i, v := range s {
		if v == e {
			copy(s[i:], s[i+1:])
			s[len(s)-1] = nil
			*list = s[:len(s)-1]
			return true
		}
	}
	return false
}
