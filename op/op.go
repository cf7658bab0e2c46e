// File: op/op.go
// Package op defines the operations a driver accepts and the completions it
// returns.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Every operation owns its handle, its buffer and its parameters. Submitting
// moves the operation into the driver; the completion hands it back.

package op

import (
	"net/netip"

	"github.com/momentics/hioload-aio/api"
)

// Kind enumerates the supported operation kinds.
type Kind uint8

const (
	KindNop Kind = iota
	KindRead
	KindReadAt
	KindWrite
	KindWriteAt
	KindRecv
	KindSend
	KindAccept
	KindConnect
	KindClose
	KindFsync
	KindReadVectored
	KindReadVectoredAt
	KindWriteVectored
	KindWriteVectoredAt
)

var kindNames = [...]string{
	KindNop:     "nop",
	KindRead:    "read",
	KindReadAt:  "read_at",
	KindWrite:   "write",
	KindWriteAt: "write_at",
	KindRecv:    "recv",
	KindSend:    "send",
	KindAccept:  "accept",
	KindConnect: "connect",
	KindClose:   "close",
	KindFsync:   "fsync",

	KindReadVectored:    "readv",
	KindReadVectoredAt:  "preadv",
	KindWriteVectored:   "writev",
	KindWriteVectoredAt: "pwritev",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Operation is the sealed set of submittable operations.
type Operation interface {
	Kind() Kind
	// Handle returns the target handle; zero for Nop.
	Handle() api.Handle
	isOperation()
}

// Nop completes immediately with N == 0.
type Nop struct{}

// Read fills Buf from the current position of Fd.
type Read struct {
	Fd  api.Handle
	Buf api.IoBufMut
}

// ReadAt fills Buf from Offset of Fd.
type ReadAt struct {
	Fd     api.Handle
	Buf    api.IoBufMut
	Offset int64
}

// Write drains Buf into Fd at its current position.
type Write struct {
	Fd  api.Handle
	Buf api.IoBuf
}

// WriteAt drains Buf into Fd at Offset.
type WriteAt struct {
	Fd     api.Handle
	Buf    api.IoBuf
	Offset int64
}

// ReadVectored scatters one read from the current position of Fd across
// Bufs, filling each in order before the next.
type ReadVectored struct {
	Fd   api.Handle
	Bufs []api.IoBufMut
}

// ReadVectoredAt scatters one read from Offset of Fd across Bufs.
type ReadVectoredAt struct {
	Fd     api.Handle
	Bufs   []api.IoBufMut
	Offset int64
}

// WriteVectored gathers Bufs in order into one write at the current
// position of Fd.
type WriteVectored struct {
	Fd   api.Handle
	Bufs []api.IoBuf
}

// WriteVectoredAt gathers Bufs into one write at Offset of Fd.
type WriteVectoredAt struct {
	Fd     api.Handle
	Bufs   []api.IoBuf
	Offset int64
}

// Recv fills Buf from a connected socket.
type Recv struct {
	Fd    api.Handle
	Buf   api.IoBufMut
	Flags int
}

// Send drains Buf into a connected socket.
type Send struct {
	Fd    api.Handle
	Buf   api.IoBuf
	Flags int
}

// Accept takes one pending connection from a listening socket. On completion
// N holds the accepted handle and Peer the remote address when the backend
// reports it. On windows Socket must be a fresh unbound socket of the same
// family; it becomes the accepted connection.
type Accept struct {
	Fd     api.Handle
	Socket api.Handle
	Peer   netip.AddrPort
}

// Connect connects a stream socket to Addr.
type Connect struct {
	Fd   api.Handle
	Addr netip.AddrPort
}

// Close releases Fd.
type Close struct {
	Fd api.Handle
}

// Fsync flushes Fd to stable storage. DataOnly skips metadata where the
// platform allows it.
type Fsync struct {
	Fd       api.Handle
	DataOnly bool
}

func (Nop) Kind() Kind     { return KindNop }
func (Read) Kind() Kind    { return KindRead }
func (ReadAt) Kind() Kind  { return KindReadAt }
func (Write) Kind() Kind   { return KindWrite }
func (WriteAt) Kind() Kind { return KindWriteAt }
func (Recv) Kind() Kind    { return KindRecv }
func (Send) Kind() Kind    { return KindSend }
func (Accept) Kind() Kind  { return KindAccept }
func (Connect) Kind() Kind { return KindConnect }
func (Close) Kind() Kind   { return KindClose }
func (Fsync) Kind() Kind   { return KindFsync }

func (ReadVectored) Kind() Kind    { return KindReadVectored }
func (ReadVectoredAt) Kind() Kind  { return KindReadVectoredAt }
func (WriteVectored) Kind() Kind   { return KindWriteVectored }
func (WriteVectoredAt) Kind() Kind { return KindWriteVectoredAt }

func (Nop) Handle() api.Handle       { return 0 }
func (o Read) Handle() api.Handle    { return o.Fd }
func (o ReadAt) Handle() api.Handle  { return o.Fd }
func (o Write) Handle() api.Handle   { return o.Fd }
func (o WriteAt) Handle() api.Handle { return o.Fd }
func (o Recv) Handle() api.Handle    { return o.Fd }
func (o Send) Handle() api.Handle    { return o.Fd }
func (o Accept) Handle() api.Handle  { return o.Fd }
func (o Connect) Handle() api.Handle { return o.Fd }
func (o Close) Handle() api.Handle   { return o.Fd }
func (o Fsync) Handle() api.Handle   { return o.Fd }

func (o ReadVectored) Handle() api.Handle    { return o.Fd }
func (o ReadVectoredAt) Handle() api.Handle  { return o.Fd }
func (o WriteVectored) Handle() api.Handle   { return o.Fd }
func (o WriteVectoredAt) Handle() api.Handle { return o.Fd }

func (Nop) isOperation()     {}
func (Read) isOperation()    {}
func (ReadAt) isOperation()  {}
func (Write) isOperation()   {}
func (WriteAt) isOperation() {}
func (Recv) isOperation()    {}
func (Send) isOperation()    {}
func (Accept) isOperation()  {}
func (Connect) isOperation() {}
func (Close) isOperation()   {}
func (Fsync) isOperation()   {}

func (ReadVectored) isOperation()    {}
func (ReadVectoredAt) isOperation()  {}
func (WriteVectored) isOperation()   {}
func (WriteVectoredAt) isOperation() {}
