// File: op/completion.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package op

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-aio/api"
)

// Completion is the outcome of one operation. Op is always the submitted
// operation, so its buffer comes back on success, failure and cancellation.
type Completion struct {
	Key api.Key
	Op  Operation
	N   int
	Err error
}

// Cancelled reports whether the operation was cancelled before finishing.
func (c Completion) Cancelled() bool { return errors.Is(c.Err, api.ErrCancelled) }

func (c Completion) String() string {
	kind := "none"
	if c.Op != nil {
		kind = c.Op.Kind().String()
	}
	return fmt.Sprintf("completion{key=%d op=%s n=%d err=%v}", c.Key, kind, c.N, c.Err)
}

// ReadBuffer returns the read target of o, or nil when o has none.
func ReadBuffer(o Operation) api.IoBufMut {
	switch v := o.(type) {
	case Read:
		return v.Buf
	case ReadAt:
		return v.Buf
	case Recv:
		return v.Buf
	}
	return nil
}

// WriteBuffer returns the write source of o, or nil when o has none.
func WriteBuffer(o Operation) api.IoBuf {
	switch v := o.(type) {
	case Write:
		return v.Buf
	case WriteAt:
		return v.Buf
	case Send:
		return v.Buf
	}
	return nil
}

// Buffer returns whichever single buffer o owns, or nil. Vectored
// operations own several; see Buffers.
func Buffer(o Operation) api.IoBuf {
	if b := ReadBuffer(o); b != nil {
		return b
	}
	return WriteBuffer(o)
}

// MaxVectors bounds the buffers of one vectored operation, matching the
// smallest IOV_MAX of the supported platforms.
const MaxVectors = 1024

// ReadBuffers returns every read target of o in fill order.
func ReadBuffers(o Operation) []api.IoBufMut {
	switch v := o.(type) {
	case ReadVectored:
		return v.Bufs
	case ReadVectoredAt:
		return v.Bufs
	}
	if b := ReadBuffer(o); b != nil {
		return []api.IoBufMut{b}
	}
	return nil
}

// WriteBuffers returns every write source of o in drain order.
func WriteBuffers(o Operation) []api.IoBuf {
	switch v := o.(type) {
	case WriteVectored:
		return v.Bufs
	case WriteVectoredAt:
		return v.Bufs
	}
	if b := WriteBuffer(o); b != nil {
		return []api.IoBuf{b}
	}
	return nil
}

// Buffers returns every buffer o owns.
func Buffers(o Operation) []api.IoBuf {
	if rb := ReadBuffers(o); len(rb) > 0 {
		out := make([]api.IoBuf, len(rb))
		for i, b := range rb {
			out[i] = b
		}
		return out
	}
	return WriteBuffers(o)
}

// Fill records n bytes read by o, filling its read buffers in order. Each
// buffer gets at most its capacity; buffers past the data get length zero.
func Fill(o Operation, n int) {
	for _, b := range ReadBuffers(o) {
		c := len(b.Writable())
		if n < c {
			c = n
		}
		b.SetLen(c)
		n -= c
	}
}

// Validate checks the parts of o that can be rejected before submission.
func Validate(o Operation) error {
	if o == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil operation")
	}
	switch o.Kind() {
	case KindRead, KindReadAt, KindRecv:
		if ReadBuffer(o) == nil {
			return api.NewError(api.ErrCodeInvalidArgument, "read operation without buffer").
				WithContext("op", o.Kind().String())
		}
	case KindWrite, KindWriteAt, KindSend:
		if WriteBuffer(o) == nil {
			return api.NewError(api.ErrCodeInvalidArgument, "write operation without buffer").
				WithContext("op", o.Kind().String())
		}
	case KindReadVectored, KindReadVectoredAt, KindWriteVectored, KindWriteVectoredAt:
		if err := validateVectors(o); err != nil {
			return err
		}
	case KindConnect:
		if c := o.(Connect); !c.Addr.IsValid() {
			return api.NewError(api.ErrCodeInvalidArgument, "connect without address")
		}
	}
	var offset int64
	switch v := o.(type) {
	case ReadAt:
		offset = v.Offset
	case WriteAt:
		offset = v.Offset
	case ReadVectoredAt:
		offset = v.Offset
	case WriteVectoredAt:
		offset = v.Offset
	}
	if offset < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "negative offset")
	}
	return nil
}

func validateVectors(o Operation) error {
	bufs := Buffers(o)
	if len(bufs) == 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "vectored operation without buffers").
			WithContext("op", o.Kind().String())
	}
	if len(bufs) > MaxVectors {
		return api.NewError(api.ErrCodeInvalidArgument, "too many buffers").
			WithContext("op", o.Kind().String()).
			WithContext("buffers", len(bufs))
	}
	for i, b := range bufs {
		if b == nil {
			return api.NewError(api.ErrCodeInvalidArgument, "nil buffer in vector").
				WithContext("op", o.Kind().String()).
				WithContext("index", i)
		}
	}
	return nil
}

// Acquire takes custody of every buffer owned by o that tracks custody. On
// error none of them stays acquired.
func Acquire(o Operation) error {
	bufs := Buffers(o)
	for i, b := range bufs {
		c, ok := b.(api.Custody)
		if !ok {
			continue
		}
		if err := c.Acquire(); err != nil {
			releaseAll(bufs[:i])
			return err
		}
	}
	return nil
}

// Release returns custody of every buffer owned by o.
func Release(o Operation) {
	releaseAll(Buffers(o))
}

func releaseAll(bufs []api.IoBuf) {
	for _, b := range bufs {
		if c, ok := b.(api.Custody); ok {
			c.Release()
		}
	}
}
