// File: reactor/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Driver is the backend-neutral completion interface. It assigns keys, keeps
// every in-flight operation reachable until its completion is reaped and
// turns backend results into op.Completion values.

package reactor

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/op"
)

type stage uint8

const (
	stageQueued stage = iota // accepted, not yet visible to the kernel
	stageKernel              // owned by the kernel
	stageDone                // result recorded, waiting to be reaped
)

// inflight is the driver-side record of one submitted operation. sys holds
// backend structures the kernel may point into (sockaddrs, overlapped
// records); keeping them here keeps them alive.
type inflight struct {
	key             api.Key
	op              op.Operation
	stage           stage
	cancelRequested bool
	n               int
	err             error
	sys             any
}

func (e *inflight) complete(n int, err error) {
	e.n, e.err, e.stage = n, err, stageDone
}

// backend is implemented by each kernel facility.
type backend interface {
	kind() api.BackendKind
	attach(h api.Handle) error
	submit(e *inflight) error
	cancel(e *inflight)
	// poll waits up to timeout and returns the records that finished.
	poll(timeout time.Duration, lookup func(api.Key) *inflight) ([]*inflight, error)
	close() error
}

// Driver submits operations to the selected backend and reports their
// completions.
type Driver struct {
	b      backend
	log    *zap.Logger
	next   api.Key
	ops    map[api.Key]*inflight
	fatal  error
	closed bool
}

// New builds a driver on the backend chosen by opts.
func New(opts ...Option) (*Driver, error) {
	o := buildOptions(opts)
	b, err := newBackend(o)
	if err != nil {
		return nil, err
	}
	o.Logger.Debug("driver created",
		zap.Stringer("backend", b.kind()),
		zap.Int("capacity", o.Capacity))
	return &Driver{
		b:   b,
		log: o.Logger,
		ops: make(map[api.Key]*inflight, o.Capacity),
	}, nil
}

// Kind reports the backend in use.
func (d *Driver) Kind() api.BackendKind { return d.b.kind() }

// Pending returns the number of submitted operations whose completion has not
// been reaped yet.
func (d *Driver) Pending() int { return len(d.ops) }

// Attach associates h with the backend. Submit attaches lazily, so calling it
// is only needed to surface association errors early.
func (d *Driver) Attach(h api.Handle) error {
	if err := d.usable(); err != nil {
		return err
	}
	return d.b.attach(h)
}

// Submit hands o to the kernel facility and returns its key. It never blocks.
// On error the caller keeps o and its buffer.
func (d *Driver) Submit(o op.Operation) (api.Key, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}
	if err := op.Validate(o); err != nil {
		return 0, err
	}
	if err := op.Acquire(o); err != nil {
		return 0, err
	}
	d.next++
	e := &inflight{key: d.next, op: o}
	if err := d.b.submit(e); err != nil {
		op.Release(o)
		return 0, err
	}
	d.ops[e.key] = e
	return e.key, nil
}

// Cancel requests cancellation of key. Unknown or already completed keys are
// ignored. The operation still yields exactly one completion.
func (d *Driver) Cancel(key api.Key) {
	e, ok := d.ops[key]
	if !ok || e.cancelRequested || e.stage == stageDone || d.closed {
		return
	}
	e.cancelRequested = true
	d.b.cancel(e)
}

// Poll waits for completions. A negative timeout waits until at least one
// completion is available; zero never blocks. Timeout expiry is not an error.
func (d *Driver) Poll(timeout time.Duration) ([]op.Completion, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	done, err := d.b.poll(timeout, d.lookup)
	comps := make([]op.Completion, 0, len(done))
	for _, e := range done {
		if _, ok := d.ops[e.key]; !ok {
			d.log.Warn("dropping completion for unknown key", zap.Uint64("key", uint64(e.key)))
			continue
		}
		delete(d.ops, e.key)
		comps = append(comps, d.finish(e))
	}
	if err != nil {
		d.fatal = fmt.Errorf("%w: %w", api.ErrDriverFatal, err)
		d.log.Error("driver failed", zap.Stringer("backend", d.b.kind()), zap.Error(err))
		return comps, d.fatal
	}
	return comps, nil
}

// Close cancels every in-flight operation, waits for the kernel to release
// them and frees the backend. Buffers of drained operations are released.
func (d *Driver) Close() error {
	if d.closed {
		return nil
	}
	var errs error
	if d.fatal == nil {
		for key := range d.ops {
			d.Cancel(key)
		}
		for attempt := 0; len(d.ops) > 0 && attempt < closeDrainAttempts; attempt++ {
			if _, err := d.Poll(closeDrainStep); err != nil {
				errs = multierr.Append(errs, err)
				break
			}
		}
	}
	if n := len(d.ops); n > 0 {
		d.log.Warn("closing driver with operations still in flight", zap.Int("pending", n))
	}
	d.closed = true
	errs = multierr.Append(errs, d.b.close())
	return errs
}

const (
	closeDrainAttempts = 64
	closeDrainStep     = 50 * time.Millisecond
)

func (d *Driver) usable() error {
	if d.closed {
		return api.ErrDriverClosed
	}
	return d.fatal
}

func (d *Driver) lookup(key api.Key) *inflight { return d.ops[key] }

func (d *Driver) finish(e *inflight) op.Completion {
	op.Release(e.op)
	if e.err == nil {
		op.Fill(e.op, e.n)
	} else if errors.Is(e.err, api.ErrCancelled) {
		e.n = 0
	}
	return op.Completion{Key: e.key, Op: e.op, N: e.n, Err: e.err}
}
