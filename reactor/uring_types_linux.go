//go:build linux

// File: reactor/uring_types_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// io_uring ABI types and constants.

package reactor

import (
	"fmt"
	"unsafe"
)

const (
	IORING_SETUP_CLAMP = 1 << 4

	IORING_FEAT_SINGLE_MMAP = 1 << 0
	IORING_FEAT_EXT_ARG     = 1 << 8

	IORING_OP_NOP          = 0
	IORING_OP_READV        = 1
	IORING_OP_WRITEV       = 2
	IORING_OP_FSYNC        = 3
	IORING_OP_TIMEOUT      = 11
	IORING_OP_ACCEPT       = 13
	IORING_OP_ASYNC_CANCEL = 14
	IORING_OP_CONNECT      = 16
	IORING_OP_CLOSE        = 19
	IORING_OP_READ         = 22
	IORING_OP_WRITE        = 23
	IORING_OP_SEND         = 26
	IORING_OP_RECV         = 27

	IORING_FSYNC_DATASYNC = 1 << 0

	IORING_ENTER_GETEVENTS = 1 << 0
	IORING_ENTER_EXT_ARG   = 1 << 3

	IORING_OFF_SQ_RING = 0
	IORING_OFF_CQ_RING = 0x8000000
	IORING_OFF_SQES    = 0x10000000

	uringSQESize = 64
	uringCQESize = 16
)

// user_data values with the top bit set never collide with operation keys.
const (
	userDataInternal = 1 << 63
	userDataCancel   = userDataInternal | 1
	userDataTimeout  = userDataInternal | 2
)

type uringSQOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	UserAddr    uint64
}

type uringCQOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	UserAddr    uint64
}

// uringParams mirrors struct io_uring_params.
type uringParams struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        uringSQOffsets
	CQOff        uringCQOffsets
}

// uringSQE mirrors struct io_uring_sqe.
type uringSQE struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	Fd          int32
	Off         uint64 // also addr2
	Addr        uint64
	Len         uint32
	OpFlags     uint32 // rw_flags, msg_flags, fsync_flags, accept_flags...
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	_           uint64
}

// uringCQE mirrors struct io_uring_cqe.
type uringCQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// uringGeteventsArg mirrors struct io_uring_getevents_arg.
type uringGeteventsArg struct {
	Sigmask   uint64
	SigmaskSz uint32
	Pad       uint32
	Ts        uint64
}

// kernelTimespec mirrors struct __kernel_timespec, which is 64-bit on every
// architecture.
type kernelTimespec struct {
	Sec  int64
	Nsec int64
}

func init() {
	if sz := unsafe.Sizeof(uringSQE{}); sz != uringSQESize {
		panic(fmt.Sprintf("io_uring SQE size mismatch: expected %d, got %d", uringSQESize, sz))
	}
	if sz := unsafe.Sizeof(uringCQE{}); sz != uringCQESize {
		panic(fmt.Sprintf("io_uring CQE size mismatch: expected %d, got %d", uringCQESize, sz))
	}
}
