// File: core/buffer/slice.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"fmt"

	"github.com/momentics/hioload-aio/api"
)

// Slice is a window over a write-source buffer. It keeps ownership of the
// parent; Into hands it back.
type Slice[B api.IoBuf] struct {
	buf        B
	begin, end int
}

// NewSlice builds a view over [begin, end) of buf. begin must not exceed the
// fill length and end must not exceed the capacity.
func NewSlice[B api.IoBuf](buf B, begin, end int) Slice[B] {
	checkBounds(begin, end, len(buf.Bytes()), capOf(buf))
	return Slice[B]{buf: buf, begin: begin, end: end}
}

// Bytes returns the filled part of the window.
func (s Slice[B]) Bytes() []byte {
	b := s.buf.Bytes()
	end := min(s.end, len(b))
	if s.begin >= end {
		return b[len(b):]
	}
	return b[s.begin:end]
}

// Begin returns the window start offset within the parent.
func (s Slice[B]) Begin() int { return s.begin }

// End returns the window end offset within the parent.
func (s Slice[B]) End() int { return s.end }

// Into returns the parent buffer.
func (s Slice[B]) Into() B { return s.buf }

// Acquire forwards custody to the parent when it tracks it.
func (s Slice[B]) Acquire() error {
	if c, ok := any(s.buf).(api.Custody); ok {
		return c.Acquire()
	}
	return nil
}

// Release forwards custody to the parent when it tracks it.
func (s Slice[B]) Release() {
	if c, ok := any(s.buf).(api.Custody); ok {
		c.Release()
	}
}

// SliceMut is a window over a read-target buffer.
type SliceMut[B api.IoBufMut] struct {
	buf        B
	begin, end int
}

// NewSliceMut builds a read-target view over [begin, end) of buf.
func NewSliceMut[B api.IoBufMut](buf B, begin, end int) SliceMut[B] {
	checkBounds(begin, end, len(buf.Bytes()), len(buf.Writable()))
	return SliceMut[B]{buf: buf, begin: begin, end: end}
}

// Bytes returns the filled part of the window.
func (s SliceMut[B]) Bytes() []byte {
	b := s.buf.Bytes()
	end := min(s.end, len(b))
	if s.begin >= end {
		return b[len(b):]
	}
	return b[s.begin:end]
}

// Writable returns the full window.
func (s SliceMut[B]) Writable() []byte { return s.buf.Writable()[s.begin:s.end] }

// SetLen sets the parent fill length to begin+n.
func (s SliceMut[B]) SetLen(n int) {
	if n < 0 || s.begin+n > s.end {
		panic(fmt.Sprintf("buffer: SetLen(%d) out of window [%d,%d)", n, s.begin, s.end))
	}
	s.buf.SetLen(s.begin + n)
}

// Begin returns the window start offset within the parent.
func (s SliceMut[B]) Begin() int { return s.begin }

// End returns the window end offset within the parent.
func (s SliceMut[B]) End() int { return s.end }

// Into returns the parent buffer.
func (s SliceMut[B]) Into() B { return s.buf }

// Acquire forwards custody to the parent when it tracks it.
func (s SliceMut[B]) Acquire() error {
	if c, ok := any(s.buf).(api.Custody); ok {
		return c.Acquire()
	}
	return nil
}

// Release forwards custody to the parent when it tracks it.
func (s SliceMut[B]) Release() {
	if c, ok := any(s.buf).(api.Custody); ok {
		c.Release()
	}
}

func capOf(b api.IoBuf) int {
	if m, ok := b.(api.IoBufMut); ok {
		return len(m.Writable())
	}
	return cap(b.Bytes())
}

func checkBounds(begin, end, length, capacity int) {
	if begin < 0 || begin > length {
		panic(fmt.Sprintf("buffer: slice begin %d out of range [0,%d]", begin, length))
	}
	if end < begin || end > capacity {
		panic(fmt.Sprintf("buffer: slice end %d out of range [%d,%d]", end, begin, capacity))
	}
}
