// Package api
// Author: momentics <momentics@gmail.com>
//
// Ownership-transfer buffer contracts for completion-based IO.
//
// A buffer handed to an operation belongs to that operation until the driver
// reports its completion. The kernel may hold the buffer address for the whole
// time, so the submitter must not read, write or reuse it in between.

package api

// IoBuf is a readable memory region drained by write-direction operations.
type IoBuf interface {
	// Bytes returns the initialized region. Its base address must stay
	// stable while the buffer is owned by an in-flight operation.
	Bytes() []byte
}

// IoBufMut is a writable memory region filled by read-direction operations.
type IoBufMut interface {
	IoBuf

	// Writable returns the whole capacity of the buffer, starting at the
	// same base address as Bytes.
	Writable() []byte

	// SetLen records the fill length after a completion. n is never larger
	// than len(Writable()).
	SetLen(n int)
}

// Custody is implemented by buffers that track whether they are lent to the
// kernel. Drivers call Acquire on submission and Release once the completion
// has been reaped.
type Custody interface {
	// Acquire marks the buffer as in flight. It returns ErrBufferInFlight if
	// the buffer is already owned by another operation.
	Acquire() error

	// Release returns the buffer to its owner.
	Release()
}
