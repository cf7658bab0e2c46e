// File: core/buffer/owned.go
// Package buffer provides owned buffers and slice views for completion IO.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Owned is the default buffer type handed to operations. It tracks custody so
// the driver can refuse a buffer that is already lent to the kernel.

package buffer

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-aio/api"
)

// Owned is a growable-once byte region with an explicit fill length.
type Owned struct {
	data     []byte
	inflight atomic.Bool
}

var (
	_ api.IoBufMut = (*Owned)(nil)
	_ api.Custody  = (*Owned)(nil)
)

// New allocates an empty buffer with the given capacity.
func New(capacity int) *Owned {
	if capacity < 0 {
		capacity = 0
	}
	return &Owned{data: make([]byte, 0, capacity)}
}

// From wraps b. The fill length is len(b) and the capacity cap(b).
func From(b []byte) *Owned {
	return &Owned{data: b}
}

// Bytes returns the filled region.
func (o *Owned) Bytes() []byte { return o.data }

// Writable returns the whole capacity.
func (o *Owned) Writable() []byte { return o.data[:cap(o.data)] }

// SetLen sets the fill length. Panics if n is outside [0, Cap()].
func (o *Owned) SetLen(n int) {
	if n < 0 || n > cap(o.data) {
		panic(fmt.Sprintf("buffer: SetLen(%d) out of range [0,%d]", n, cap(o.data)))
	}
	o.data = o.data[:n]
}

// Len returns the fill length.
func (o *Owned) Len() int { return len(o.data) }

// Cap returns the capacity.
func (o *Owned) Cap() int { return cap(o.data) }

// Reset empties the buffer keeping its capacity.
func (o *Owned) Reset() { o.data = o.data[:0] }

// InFlight reports whether the buffer is currently owned by an operation.
func (o *Owned) InFlight() bool { return o.inflight.Load() }

// Acquire implements api.Custody.
func (o *Owned) Acquire() error {
	if !o.inflight.CompareAndSwap(false, true) {
		return api.ErrBufferInFlight
	}
	return nil
}

// Release implements api.Custody.
func (o *Owned) Release() { o.inflight.Store(false) }

// Slice returns a read view over [begin, end) of o.
func (o *Owned) Slice(begin, end int) Slice[*Owned] { return NewSlice(o, begin, end) }

// SliceMut returns a read-target view over [begin, end) of o.
func (o *Owned) SliceMut(begin, end int) SliceMut[*Owned] { return NewSliceMut(o, begin, end) }
