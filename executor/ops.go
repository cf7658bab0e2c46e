// File: executor/ops.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package executor

import (
	"io"
	"net/netip"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/core/buffer"
	"github.com/momentics/hioload-aio/op"
)

// Typed wrappers over Task.Submit. Each returns the byte count, the buffer
// handed back by the driver and the error. The buffer is returned on every
// path, including failure and cancellation.

func Read[B api.IoBufMut](t *Task, fd api.Handle, buf B) (int, B, error) {
	c := t.Submit(op.Read{Fd: fd, Buf: buf})
	return c.N, c.Op.(op.Read).Buf.(B), c.Err
}

func ReadAt[B api.IoBufMut](t *Task, fd api.Handle, buf B, off int64) (int, B, error) {
	c := t.Submit(op.ReadAt{Fd: fd, Buf: buf, Offset: off})
	return c.N, c.Op.(op.ReadAt).Buf.(B), c.Err
}

func Recv[B api.IoBufMut](t *Task, fd api.Handle, buf B) (int, B, error) {
	c := t.Submit(op.Recv{Fd: fd, Buf: buf})
	return c.N, c.Op.(op.Recv).Buf.(B), c.Err
}

func Write[B api.IoBuf](t *Task, fd api.Handle, buf B) (int, B, error) {
	c := t.Submit(op.Write{Fd: fd, Buf: buf})
	return c.N, c.Op.(op.Write).Buf.(B), c.Err
}

func WriteAt[B api.IoBuf](t *Task, fd api.Handle, buf B, off int64) (int, B, error) {
	c := t.Submit(op.WriteAt{Fd: fd, Buf: buf, Offset: off})
	return c.N, c.Op.(op.WriteAt).Buf.(B), c.Err
}

func Send[B api.IoBuf](t *Task, fd api.Handle, buf B) (int, B, error) {
	c := t.Submit(op.Send{Fd: fd, Buf: buf})
	return c.N, c.Op.(op.Send).Buf.(B), c.Err
}

// ReadVectored scatters one read across bufs, filling them in order.
func ReadVectored[B api.IoBufMut](t *Task, fd api.Handle, bufs []B) (int, []B, error) {
	c := t.Submit(op.ReadVectored{Fd: fd, Bufs: mutVecs(bufs)})
	return c.N, typedVecs[B](c.Op.(op.ReadVectored).Bufs), c.Err
}

func ReadVectoredAt[B api.IoBufMut](t *Task, fd api.Handle, bufs []B, off int64) (int, []B, error) {
	c := t.Submit(op.ReadVectoredAt{Fd: fd, Bufs: mutVecs(bufs), Offset: off})
	return c.N, typedVecs[B](c.Op.(op.ReadVectoredAt).Bufs), c.Err
}

// WriteVectored gathers bufs into one write.
func WriteVectored[B api.IoBuf](t *Task, fd api.Handle, bufs []B) (int, []B, error) {
	c := t.Submit(op.WriteVectored{Fd: fd, Bufs: vecs(bufs)})
	return c.N, typedVecs[B](c.Op.(op.WriteVectored).Bufs), c.Err
}

func WriteVectoredAt[B api.IoBuf](t *Task, fd api.Handle, bufs []B, off int64) (int, []B, error) {
	c := t.Submit(op.WriteVectoredAt{Fd: fd, Bufs: vecs(bufs), Offset: off})
	return c.N, typedVecs[B](c.Op.(op.WriteVectoredAt).Bufs), c.Err
}

func mutVecs[B api.IoBufMut](bufs []B) []api.IoBufMut {
	out := make([]api.IoBufMut, len(bufs))
	for i, b := range bufs {
		out[i] = b
	}
	return out
}

func vecs[B api.IoBuf](bufs []B) []api.IoBuf {
	out := make([]api.IoBuf, len(bufs))
	for i, b := range bufs {
		out[i] = b
	}
	return out
}

func typedVecs[B any, V any](bufs []V) []B {
	out := make([]B, len(bufs))
	for i, b := range bufs {
		out[i] = any(b).(B)
	}
	return out
}

// WriteAll writes the whole of buf, resubmitting the unwritten tail after
// short writes. A zero-byte write is reported as io.ErrShortWrite.
func WriteAll[B api.IoBuf](t *Task, fd api.Handle, buf B) (int, B, error) {
	total := len(buf.Bytes())
	done := 0
	for done < total {
		c := t.Submit(op.Write{Fd: fd, Buf: buffer.NewSlice(buf, done, total)})
		buf = c.Op.(op.Write).Buf.(buffer.Slice[B]).Into()
		done += c.N
		if c.Err != nil {
			return done, buf, c.Err
		}
		if c.N == 0 {
			return done, buf, io.ErrShortWrite
		}
	}
	return done, buf, nil
}

// Accept waits for a connection on the listening socket fd. On Windows
// socket must be a fresh unbound socket; elsewhere it is ignored.
func Accept(t *Task, fd, socket api.Handle) (api.Handle, netip.AddrPort, error) {
	c := t.Submit(op.Accept{Fd: fd, Socket: socket})
	if c.Err != nil {
		return 0, netip.AddrPort{}, c.Err
	}
	a := c.Op.(op.Accept)
	return api.Handle(c.N), a.Peer, nil
}

func Connect(t *Task, fd api.Handle, addr netip.AddrPort) error {
	return t.Submit(op.Connect{Fd: fd, Addr: addr}).Err
}

func Close(t *Task, fd api.Handle) error {
	return t.Submit(op.Close{Fd: fd}).Err
}

func Fsync(t *Task, fd api.Handle) error {
	return t.Submit(op.Fsync{Fd: fd}).Err
}

func Fdatasync(t *Task, fd api.Handle) error {
	return t.Submit(op.Fsync{Fd: fd, DataOnly: true}).Err
}

func Nop(t *Task) error {
	return t.Submit(op.Nop{}).Err
}
