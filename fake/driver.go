// Package fake
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory completion driver for testing executors and callers without a
// kernel facility. Handles are plain numbers backed by byte streams, files
// and listeners that tests control.

package fake

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/op"
)

type pendingOp struct {
	key       api.Key
	op        op.Operation
	n         int
	err       error
	ready     bool
	cancelled bool
}

type conn struct {
	inbound  []byte
	eof      bool
	outbound []byte
	file     []byte
	maxWrite int
	failNext error
	accepts  []acceptedConn
}

type acceptedConn struct {
	fd   api.Handle
	peer netip.AddrPort
}

// Driver is a deterministic driver. Operations complete in submission order
// as soon as their data is available. Feed, Shut, Dial and Break may be
// called from any goroutine; the rest follow the single-owner rule of real
// drivers.
type Driver struct {
	mu     sync.Mutex
	wake   chan struct{}
	next   api.Key
	ops    []*pendingOp
	conns  map[api.Handle]*conn
	fatal  error
	closed bool

	submitted int
}

// NewDriver creates an empty driver.
func NewDriver() *Driver {
	return &Driver{
		wake:  make(chan struct{}, 1),
		conns: make(map[api.Handle]*conn),
	}
}

func (d *Driver) conn(fd api.Handle) *conn {
	c, ok := d.conns[fd]
	if !ok {
		c = &conn{}
		d.conns[fd] = c
	}
	return c
}

func (d *Driver) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Feed appends data readable from fd.
func (d *Driver) Feed(fd api.Handle, data []byte) {
	d.mu.Lock()
	c := d.conn(fd)
	c.inbound = append(c.inbound, data...)
	d.mu.Unlock()
	d.notify()
}

// Shut marks fd's inbound stream finished; drained reads then return 0.
func (d *Driver) Shut(fd api.Handle) {
	d.mu.Lock()
	d.conn(fd).eof = true
	d.mu.Unlock()
	d.notify()
}

// Dial queues a connection for the listener fd. An Accept on fd completes
// with conn as the new handle.
func (d *Driver) Dial(fd, conn api.Handle, peer netip.AddrPort) {
	d.mu.Lock()
	c := d.conn(fd)
	c.accepts = append(c.accepts, acceptedConn{fd: conn, peer: peer})
	d.mu.Unlock()
	d.notify()
}

// SetFile sets the contents served by ReadAt and changed by WriteAt on fd.
func (d *Driver) SetFile(fd api.Handle, data []byte) {
	d.mu.Lock()
	d.conn(fd).file = append([]byte(nil), data...)
	d.mu.Unlock()
}

// File returns a copy of fd's file contents.
func (d *Driver) File(fd api.Handle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.conn(fd).file...)
}

// Written returns a copy of everything written or sent to fd.
func (d *Driver) Written(fd api.Handle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.conn(fd).outbound...)
}

// LimitWrites caps the bytes accepted by each write on fd, forcing short
// writes. Zero removes the cap.
func (d *Driver) LimitWrites(fd api.Handle, max int) {
	d.mu.Lock()
	d.conn(fd).maxWrite = max
	d.mu.Unlock()
}

// FailNext makes the next operation on fd complete with err.
func (d *Driver) FailNext(fd api.Handle, err error) {
	d.mu.Lock()
	d.conn(fd).failNext = err
	d.mu.Unlock()
}

// Break makes the next Poll fail with err, latching the driver as failed.
func (d *Driver) Break(err error) {
	d.mu.Lock()
	d.fatal = fmt.Errorf("%w: %w", api.ErrDriverFatal, err)
	d.mu.Unlock()
	d.notify()
}

// Submitted returns the number of accepted submissions.
func (d *Driver) Submitted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

// Pending returns the number of operations without a reaped completion.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ops)
}

// Submit accepts o with the same validation and custody rules as a real
// driver.
func (d *Driver) Submit(o op.Operation) (api.Key, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, api.ErrDriverClosed
	}
	if d.fatal != nil {
		return 0, d.fatal
	}
	if err := op.Validate(o); err != nil {
		return 0, err
	}
	if err := op.Acquire(o); err != nil {
		return 0, err
	}
	d.next++
	d.submitted++
	d.ops = append(d.ops, &pendingOp{key: d.next, op: o})
	return d.next, nil
}

// Cancel completes a not yet finished operation as cancelled.
func (d *Driver) Cancel(key api.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.ops {
		if p.key == key && !p.ready {
			p.cancelled = true
			d.notify()
			return
		}
	}
}

// Poll completes every operation that can make progress. A negative timeout
// waits until one can; zero never blocks.
func (d *Driver) Poll(timeout time.Duration) ([]op.Completion, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return nil, api.ErrDriverClosed
		}
		if d.fatal != nil {
			err := d.fatal
			d.mu.Unlock()
			return nil, err
		}
		out := d.progress()
		idle := len(d.ops) == 0
		d.mu.Unlock()
		if len(out) > 0 || timeout == 0 || (timeout < 0 && idle) {
			return out, nil
		}
		select {
		case <-d.wake:
		case <-deadline:
			return nil, nil
		}
	}
}

// Close cancels everything still pending and releases its buffers.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	for _, p := range d.ops {
		op.Release(p.op)
	}
	d.ops = nil
	d.closed = true
	return nil
}

func (d *Driver) progress() []op.Completion {
	var out []op.Completion
	rest := d.ops[:0]
	for _, p := range d.ops {
		if !p.ready {
			d.step(p)
		}
		if !p.ready {
			rest = append(rest, p)
			continue
		}
		out = append(out, d.finish(p))
	}
	for i := len(rest); i < len(d.ops); i++ {
		d.ops[i] = nil
	}
	d.ops = rest
	return out
}

func (d *Driver) finish(p *pendingOp) op.Completion {
	op.Release(p.op)
	if p.err == nil {
		op.Fill(p.op, p.n)
	}
	return op.Completion{Key: p.key, Op: p.op, N: p.n, Err: p.err}
}

func (d *Driver) done(p *pendingOp, n int, err error) {
	p.n, p.err, p.ready = n, err, true
}

// step tries to finish p against the in-memory state.
func (d *Driver) step(p *pendingOp) {
	if p.cancelled {
		d.done(p, 0, api.ErrCancelled)
		return
	}
	c := d.conn(p.op.Handle())
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		d.done(p, 0, err)
		return
	}
	switch o := p.op.(type) {
	case op.Nop, op.Close, op.Fsync, op.Connect:
		d.done(p, 0, nil)
	case op.Read, op.Recv, op.ReadVectored:
		d.read(p, c, op.ReadBuffers(o))
	case op.Write, op.Send, op.WriteVectored:
		d.write(p, c, op.WriteBuffers(o))
	case op.ReadAt:
		d.done(p, c.readAt(o.Offset, op.ReadBuffers(o)), nil)
	case op.ReadVectoredAt:
		d.done(p, c.readAt(o.Offset, o.Bufs), nil)
	case op.WriteAt:
		d.done(p, c.writeAt(o.Offset, op.WriteBuffers(o)), nil)
	case op.WriteVectoredAt:
		d.done(p, c.writeAt(o.Offset, o.Bufs), nil)
	case op.Accept:
		if len(c.accepts) == 0 {
			return
		}
		a := c.accepts[0]
		c.accepts = c.accepts[1:]
		o.Peer = a.peer
		p.op = o
		d.done(p, int(a.fd), nil)
	default:
		d.done(p, 0, fmt.Errorf("%w: fake %s", api.ErrNotSupported, p.op.Kind()))
	}
}

func (d *Driver) read(p *pendingOp, c *conn, bufs []api.IoBufMut) {
	room := 0
	for _, b := range bufs {
		room += len(b.Writable())
	}
	if room == 0 {
		d.done(p, 0, nil)
		return
	}
	if len(c.inbound) == 0 {
		if c.eof {
			d.done(p, 0, nil)
		}
		return
	}
	n := 0
	for _, b := range bufs {
		n += copy(b.Writable(), c.inbound[n:])
		if n == len(c.inbound) {
			break
		}
	}
	c.inbound = c.inbound[n:]
	d.done(p, n, nil)
}

func (d *Driver) write(p *pendingOp, c *conn, bufs []api.IoBuf) {
	var src []byte
	for _, b := range bufs {
		src = append(src, b.Bytes()...)
	}
	if c.maxWrite > 0 && len(src) > c.maxWrite {
		src = src[:c.maxWrite]
	}
	c.outbound = append(c.outbound, src...)
	d.done(p, len(src), nil)
}

func (c *conn) readAt(off int64, bufs []api.IoBufMut) int {
	n := 0
	for _, b := range bufs {
		if off >= int64(len(c.file)) {
			break
		}
		m := copy(b.Writable(), c.file[off:])
		off += int64(m)
		n += m
	}
	return n
}

func (c *conn) writeAt(off int64, bufs []api.IoBuf) int {
	n := 0
	for _, b := range bufs {
		src := b.Bytes()
		end := int(off) + len(src)
		if end > len(c.file) {
			c.file = append(c.file, make([]byte, end-len(c.file))...)
		}
		m := copy(c.file[off:], src)
		off += int64(m)
		n += m
	}
	return n
}
