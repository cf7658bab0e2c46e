// File: cmd/aioctl/copy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/core/buffer"
	"github.com/momentics/hioload-aio/executor"
	"github.com/momentics/hioload-aio/facade"
	"github.com/momentics/hioload-aio/pool"
)

type copyCmd struct {
	chunk   int
	workers int
}

func (*copyCmd) Name() string     { return "copy" }
func (*copyCmd) Synopsis() string { return "copy a file with positional reads and writes" }
func (*copyCmd) Usage() string {
	return `copy [-chunk N] [-workers N] <src> <dst>:
  Copies src to dst with workers tasks each keeping one chunk in flight,
  then syncs dst.
`
}

func (c *copyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.chunk, "chunk", 64*1024, "bytes per read/write")
	f.IntVar(&c.workers, "workers", 4, "concurrent chunk tasks")
}

func (c *copyCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 || c.chunk <= 0 || c.workers <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, err := global.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "copy: %v\n", err)
		return subcommands.ExitUsageError
	}
	h, err := facade.New(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "copy: %v\n", err)
		return subcommands.ExitFailure
	}
	start := time.Now()
	n, err := copyFile(h, f.Arg(0), f.Arg(1), c.chunk, c.workers)
	err = multierr.Append(err, h.Shutdown())
	if err != nil {
		fmt.Fprintf(os.Stderr, "copy: %v\n", err)
		return subcommands.ExitFailure
	}
	h.Logger().Info("copy finished",
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)))
	return subcommands.ExitSuccess
}

// attacher is implemented by drivers that must learn handles before use.
type attacher interface {
	Attach(api.Handle) error
}

func attach(ex *executor.Executor, hs ...api.Handle) error {
	a, ok := ex.Driver().(attacher)
	if !ok {
		return nil
	}
	for _, h := range hs {
		if err := a.Attach(h); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies srcPath to dstPath on h's executor and returns the byte
// count.
func copyFile(h *facade.HioloadAIO, srcPath, dstPath string, chunk, workers int) (int64, error) {
	st, err := os.Stat(srcPath)
	if err != nil {
		return 0, err
	}
	size := st.Size()
	src, err := openRead(srcPath)
	if err != nil {
		return 0, err
	}
	dst, err := openWrite(dstPath)
	if err != nil {
		return 0, multierr.Append(err, closeFile(src))
	}
	ex := h.GetExecutor()
	if err := attach(ex, src, dst); err != nil {
		return 0, multierr.Combine(err, closeFile(src), closeFile(dst))
	}

	chunks := (size + int64(chunk) - 1) / int64(chunk)
	var copied int64
	err = h.Run(func(task *executor.Task) error {
		handles := make([]*executor.JoinHandle, 0, workers)
		for w := 0; w < workers && int64(w) < chunks; w++ {
			handles = append(handles, task.Spawn(func(t *executor.Task) error {
				for i := int64(w); i < chunks; i += int64(workers) {
					n, err := copyChunk(t, h.GetBufferPool(), src, dst, i*int64(chunk), chunk)
					copied += int64(n)
					if err != nil {
						return err
					}
				}
				return nil
			}))
		}
		var errs error
		for _, jh := range handles {
			errs = multierr.Append(errs, task.Join(jh))
		}
		if errs == nil {
			errs = executor.Fsync(task, dst)
		}
		return multierr.Combine(errs, executor.Close(task, src), executor.Close(task, dst))
	})
	return copied, err
}

// copyChunk moves up to size bytes at off from src to dst.
func copyChunk(t *executor.Task, bp *pool.BufferPool, src, dst api.Handle, off int64, size int) (int, error) {
	buf := bp.Get(size)
	defer bp.Put(buf)
	n, view, err := executor.ReadAt(t, src, buffer.NewSliceMut(buf, 0, size), off)
	if err != nil {
		return 0, err
	}
	data := view.Into()
	if n == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	written := 0
	for written < n {
		w, _, err := executor.WriteAt(t, dst, buffer.NewSlice(data, written, n), off+int64(written))
		written += w
		if err != nil {
			return written, err
		}
		if w == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
