//go:build linux

// File: reactor/uring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// io_uring backend. Submissions are parked in a backlog and flushed into the
// shared submission ring at poll time, so one io_uring_enter both submits and
// waits. Every SQE carries the operation key as user_data.

package reactor

import (
	"errors"
	"fmt"
	"net/netip"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/eapache/queue"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/op"
)

const userDataTimeoutBit = 1 << 62

type uring struct {
	log      *zap.Logger
	fd       int
	features uint32
	single   bool

	sqRing  []byte
	cqRing  []byte
	sqesMap []byte

	sqHead    *uint32
	sqTail    *uint32
	sqMask    uint32
	sqEntries uint32
	sqArray   []uint32
	sqes      []uringSQE

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []uringCQE

	toSubmit uint32
	inKernel int
	backlog  *queue.Queue // of uringReq
	ready    []*inflight

	timeoutSeq uint64
	timespecs  map[uint64]*kernelTimespec
}

// uringReq is one backlog entry: an operation to start or a cancel request
// for an operation already in the kernel.
type uringReq struct {
	e      *inflight
	cancel bool
}

// uringSockaddr is kept in inflight.sys while the kernel may write the peer
// address of an accept or read the target of a connect.
type uringSockaddr struct {
	rsa unix.RawSockaddrAny
	len uint32
}

func newURing(o Options) (*uring, error) {
	var params uringParams
	params.Flags = IORING_SETUP_CLAMP
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(o.Capacity), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}
	u := &uring{
		log:       o.Logger,
		fd:        int(fd),
		features:  params.Features,
		backlog:   queue.New(),
		timespecs: make(map[uint64]*kernelTimespec),
	}
	if err := u.mapRings(&params); err != nil {
		unix.Close(u.fd)
		return nil, fmt.Errorf("io_uring mmap: %w", err)
	}
	u.log.Debug("io_uring ready",
		zap.Uint32("sq_entries", params.SQEntries),
		zap.Uint32("cq_entries", params.CQEntries),
		zap.Bool("ext_arg", u.extArg()))
	return u, nil
}

func alignPage(v uint32) uint32 {
	page := uint32(unix.Getpagesize())
	return (v + page - 1) &^ (page - 1)
}

func (u *uring) mapRings(p *uringParams) error {
	sqSize := alignPage(p.SQOff.Array + p.SQEntries*4)
	cqSize := alignPage(p.CQOff.Cqes + p.CQEntries*uringCQESize)
	single := p.Features&IORING_FEAT_SINGLE_MMAP != 0
	u.single = single
	if single {
		sqSize = max(sqSize, cqSize)
	}

	sqRing, err := unix.Mmap(u.fd, IORING_OFF_SQ_RING, int(sqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return err
	}
	u.sqRing = sqRing
	if single {
		u.cqRing = sqRing
	} else {
		cqRing, err := unix.Mmap(u.fd, IORING_OFF_CQ_RING, int(cqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			unix.Munmap(u.sqRing)
			return err
		}
		u.cqRing = cqRing
	}
	sqesMap, err := unix.Mmap(u.fd, IORING_OFF_SQES, int(alignPage(p.SQEntries*uringSQESize)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		u.unmap()
		return err
	}
	u.sqesMap = sqesMap

	sq := unsafe.Pointer(&u.sqRing[0])
	u.sqHead = (*uint32)(unsafe.Add(sq, p.SQOff.Head))
	u.sqTail = (*uint32)(unsafe.Add(sq, p.SQOff.Tail))
	u.sqMask = *(*uint32)(unsafe.Add(sq, p.SQOff.RingMask))
	u.sqEntries = *(*uint32)(unsafe.Add(sq, p.SQOff.RingEntries))
	u.sqArray = unsafe.Slice((*uint32)(unsafe.Add(sq, p.SQOff.Array)), p.SQEntries)
	u.sqes = unsafe.Slice((*uringSQE)(unsafe.Pointer(&u.sqesMap[0])), p.SQEntries)

	cq := unsafe.Pointer(&u.cqRing[0])
	u.cqHead = (*uint32)(unsafe.Add(cq, p.CQOff.Head))
	u.cqTail = (*uint32)(unsafe.Add(cq, p.CQOff.Tail))
	u.cqMask = *(*uint32)(unsafe.Add(cq, p.CQOff.RingMask))
	u.cqes = unsafe.Slice((*uringCQE)(unsafe.Add(cq, p.CQOff.Cqes)), p.CQEntries)
	return nil
}

func (u *uring) unmap() error {
	var errs error
	if u.sqesMap != nil {
		errs = multierr.Append(errs, unix.Munmap(u.sqesMap))
		u.sqesMap = nil
	}
	if u.cqRing != nil && !u.single {
		errs = multierr.Append(errs, unix.Munmap(u.cqRing))
	}
	u.cqRing = nil
	if u.sqRing != nil {
		errs = multierr.Append(errs, unix.Munmap(u.sqRing))
		u.sqRing = nil
	}
	return errs
}

func (u *uring) extArg() bool { return u.features&IORING_FEAT_EXT_ARG != 0 }

func (u *uring) kind() api.BackendKind { return api.BackendURing }

func (u *uring) attach(api.Handle) error { return nil }

func (u *uring) submit(e *inflight) error {
	switch o := e.op.(type) {
	case op.Accept:
		e.sys = &uringSockaddr{len: unix.SizeofSockaddrAny}
	case op.Connect:
		sa := &uringSockaddr{}
		sa.len = putRawSockaddr(o.Addr, &sa.rsa)
		e.sys = sa
	case op.ReadVectored:
		e.sys = readIovecs(o.Bufs)
	case op.ReadVectoredAt:
		e.sys = readIovecs(o.Bufs)
	case op.WriteVectored:
		e.sys = writeIovecs(o.Bufs)
	case op.WriteVectoredAt:
		e.sys = writeIovecs(o.Bufs)
	}
	e.stage = stageQueued
	u.backlog.Add(uringReq{e: e})
	return nil
}

func (u *uring) cancel(e *inflight) {
	switch e.stage {
	case stageQueued:
		// never reached the kernel; the backlog entry is skipped on flush
		e.complete(0, api.ErrCancelled)
		u.ready = append(u.ready, e)
	case stageKernel:
		u.backlog.Add(uringReq{e: e, cancel: true})
	}
}

func (u *uring) poll(timeout time.Duration, lookup func(api.Key) *inflight) ([]*inflight, error) {
	out := u.ready
	u.ready = nil

	u.flush()
	wait := timeout != 0 && len(out) == 0
	if wait && timeout < 0 && u.inKernel == 0 && u.backlog.Length() == 0 {
		// nothing could ever complete
		wait = false
	}
	if wait && timeout > 0 && !u.extArg() {
		armed, err := u.armTimeout(timeout)
		if err != nil {
			return out, err
		}
		if !armed {
			// no slot for the timer even after a flush; a waiting enter
			// could block past the deadline
			wait = false
		}
	}
	if err := u.enter(wait, timeout); err != nil {
		return u.reap(out, lookup), err
	}
	out = u.reap(out, lookup)

	// A full ring leaves work in the backlog; keep feeding it without waiting.
	for u.backlog.Length() > 0 {
		before := u.backlog.Length()
		u.flush()
		if u.toSubmit == 0 {
			break
		}
		if err := u.enter(false, 0); err != nil {
			return u.reap(out, lookup), err
		}
		out = u.reap(out, lookup)
		if u.backlog.Length() >= before {
			break
		}
	}
	return out, nil
}

func (u *uring) close() error {
	errs := u.unmap()
	if err := unix.Close(u.fd); err != nil {
		errs = multierr.Append(errs, err)
	}
	u.timespecs = nil
	return errs
}

// nextSQE returns a zeroed free slot or nil if the ring is full. The slot is
// published by advance.
func (u *uring) nextSQE() *uringSQE {
	head := atomic.LoadUint32(u.sqHead)
	tail := atomic.LoadUint32(u.sqTail)
	if tail-head >= u.sqEntries {
		return nil
	}
	idx := tail & u.sqMask
	sqe := &u.sqes[idx]
	*sqe = uringSQE{}
	u.sqArray[idx] = idx
	return sqe
}

func (u *uring) advance() {
	atomic.AddUint32(u.sqTail, 1)
	u.toSubmit++
}

func (u *uring) flush() {
	for u.backlog.Length() > 0 {
		r := u.backlog.Peek().(uringReq)
		if (!r.cancel && r.e.stage != stageQueued) || (r.cancel && r.e.stage != stageKernel) {
			u.backlog.Remove()
			continue
		}
		sqe := u.nextSQE()
		if sqe == nil {
			return
		}
		u.backlog.Remove()
		if r.cancel {
			sqe.Opcode = IORING_OP_ASYNC_CANCEL
			sqe.Fd = -1
			sqe.Addr = uint64(r.e.key)
			sqe.UserData = userDataCancel
		} else {
			u.prep(sqe, r.e)
			r.e.stage = stageKernel
			u.inKernel++
		}
		u.advance()
	}
}

// armTimeout queues a TIMEOUT that bounds the next waiting enter. It reports
// false when the submission ring has no slot for it.
func (u *uring) armTimeout(d time.Duration) (bool, error) {
	sqe := u.nextSQE()
	if sqe == nil {
		if err := u.enter(false, 0); err != nil {
			return false, err
		}
		if sqe = u.nextSQE(); sqe == nil {
			return false, nil
		}
	}
	ts := &kernelTimespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
	u.timeoutSeq++
	ud := uint64(userDataInternal|userDataTimeoutBit) | u.timeoutSeq
	u.timespecs[ud] = ts
	sqe.Opcode = IORING_OP_TIMEOUT
	sqe.Fd = -1
	sqe.Addr = uint64(uintptr(unsafe.Pointer(ts)))
	sqe.Len = 1
	sqe.UserData = ud
	u.advance()
	return true, nil
}

func bufAddr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func readIovecs(bufs []api.IoBufMut) []unix.Iovec {
	iov := make([]unix.Iovec, len(bufs))
	for i, b := range bufs {
		iov[i] = iovec(b.Writable())
	}
	return iov
}

func writeIovecs(bufs []api.IoBuf) []unix.Iovec {
	iov := make([]unix.Iovec, len(bufs))
	for i, b := range bufs {
		iov[i] = iovec(b.Bytes())
	}
	return iov
}

func iovec(b []byte) unix.Iovec {
	var v unix.Iovec
	if len(b) > 0 {
		v.Base = &b[0]
		v.SetLen(len(b))
	}
	return v
}

func prepRW(sqe *uringSQE, opcode uint8, fd api.Handle, b []byte, off uint64) {
	sqe.Opcode = opcode
	sqe.Fd = int32(fd)
	sqe.Addr = bufAddr(b)
	sqe.Len = uint32(len(b))
	sqe.Off = off
}

// currentPos selects the file position for read/write.
const currentPos = ^uint64(0)

// prepVec points sqe at the iovec array kept in inflight.sys.
func prepVec(sqe *uringSQE, opcode uint8, fd api.Handle, iov []unix.Iovec, off uint64) {
	sqe.Opcode = opcode
	sqe.Fd = int32(fd)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&iov[0])))
	sqe.Len = uint32(len(iov))
	sqe.Off = off
}

func (u *uring) prep(sqe *uringSQE, e *inflight) {
	switch o := e.op.(type) {
	case op.Nop:
		sqe.Opcode = IORING_OP_NOP
		sqe.Fd = -1
	case op.Read:
		prepRW(sqe, IORING_OP_READ, o.Fd, o.Buf.Writable(), currentPos)
	case op.ReadAt:
		prepRW(sqe, IORING_OP_READ, o.Fd, o.Buf.Writable(), uint64(o.Offset))
	case op.Write:
		prepRW(sqe, IORING_OP_WRITE, o.Fd, o.Buf.Bytes(), currentPos)
	case op.WriteAt:
		prepRW(sqe, IORING_OP_WRITE, o.Fd, o.Buf.Bytes(), uint64(o.Offset))
	case op.ReadVectored:
		prepVec(sqe, IORING_OP_READV, o.Fd, e.sys.([]unix.Iovec), currentPos)
	case op.ReadVectoredAt:
		prepVec(sqe, IORING_OP_READV, o.Fd, e.sys.([]unix.Iovec), uint64(o.Offset))
	case op.WriteVectored:
		prepVec(sqe, IORING_OP_WRITEV, o.Fd, e.sys.([]unix.Iovec), currentPos)
	case op.WriteVectoredAt:
		prepVec(sqe, IORING_OP_WRITEV, o.Fd, e.sys.([]unix.Iovec), uint64(o.Offset))
	case op.Recv:
		prepRW(sqe, IORING_OP_RECV, o.Fd, o.Buf.Writable(), 0)
		sqe.OpFlags = uint32(o.Flags)
	case op.Send:
		prepRW(sqe, IORING_OP_SEND, o.Fd, o.Buf.Bytes(), 0)
		sqe.OpFlags = uint32(o.Flags | unix.MSG_NOSIGNAL)
	case op.Accept:
		sa := e.sys.(*uringSockaddr)
		sqe.Opcode = IORING_OP_ACCEPT
		sqe.Fd = int32(o.Fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&sa.rsa)))
		sqe.Off = uint64(uintptr(unsafe.Pointer(&sa.len)))
		sqe.OpFlags = unix.SOCK_CLOEXEC
	case op.Connect:
		sa := e.sys.(*uringSockaddr)
		sqe.Opcode = IORING_OP_CONNECT
		sqe.Fd = int32(o.Fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&sa.rsa)))
		sqe.Off = uint64(sa.len)
	case op.Close:
		sqe.Opcode = IORING_OP_CLOSE
		sqe.Fd = int32(o.Fd)
	case op.Fsync:
		sqe.Opcode = IORING_OP_FSYNC
		sqe.Fd = int32(o.Fd)
		if o.DataOnly {
			sqe.OpFlags = IORING_FSYNC_DATASYNC
		}
	}
	sqe.UserData = uint64(e.key)
}

// enter submits pending SQEs and, when wait is set, blocks until one
// completion is available or the timeout expires.
func (u *uring) enter(wait bool, timeout time.Duration) error {
	var (
		flags, minComplete uintptr
		argp, argsz        uintptr
		ts                 kernelTimespec
		arg                uringGeteventsArg
	)
	if wait {
		flags |= IORING_ENTER_GETEVENTS
		minComplete = 1
		if timeout > 0 && u.extArg() {
			ts = kernelTimespec{Sec: int64(timeout / time.Second), Nsec: int64(timeout % time.Second)}
			arg.Ts = uint64(uintptr(unsafe.Pointer(&ts)))
			flags |= IORING_ENTER_EXT_ARG
			argp = uintptr(unsafe.Pointer(&arg))
			argsz = unsafe.Sizeof(arg)
		}
	}
	if u.toSubmit == 0 && !wait {
		return nil
	}
	n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(u.fd), uintptr(u.toSubmit), minComplete, flags, argp, argsz)
	runtime.KeepAlive(&ts)
	runtime.KeepAlive(&arg)
	if errno == 0 {
		if uint32(n) >= u.toSubmit {
			u.toSubmit = 0
		} else {
			u.toSubmit -= uint32(n)
		}
		return nil
	}
	switch {
	case errors.Is(errno, unix.EINTR), errors.Is(errno, unix.ETIME):
		return nil
	case errors.Is(errno, unix.EAGAIN), errors.Is(errno, unix.EBUSY):
		// completion ring is backed up; reaping makes room
		return nil
	}
	return fmt.Errorf("io_uring_enter: %w", errno)
}

func (u *uring) reap(out []*inflight, lookup func(api.Key) *inflight) []*inflight {
	head := atomic.LoadUint32(u.cqHead)
	tail := atomic.LoadUint32(u.cqTail)
	for ; head != tail; head++ {
		cqe := u.cqes[head&u.cqMask]
		if cqe.UserData&userDataInternal != 0 {
			if cqe.UserData&userDataTimeoutBit != 0 {
				delete(u.timespecs, cqe.UserData)
			}
			continue
		}
		e := lookup(api.Key(cqe.UserData))
		if e == nil || e.stage != stageKernel {
			u.log.Warn("io_uring completion without in-flight operation", zap.Uint64("user_data", cqe.UserData))
			continue
		}
		u.inKernel--
		u.settle(e, cqe.Res)
		out = append(out, e)
	}
	atomic.StoreUint32(u.cqHead, head)
	return out
}

func (u *uring) settle(e *inflight, res int32) {
	if res < 0 {
		e.complete(0, mapErrno(unix.Errno(-res), e.cancelRequested))
		return
	}
	if a, ok := e.op.(op.Accept); ok {
		if sa, ok := e.sys.(*uringSockaddr); ok {
			a.Peer = rawAddrPort(&sa.rsa)
			e.op = a
		}
	}
	e.complete(int(res), nil)
}

func putRawSockaddr(ap netip.AddrPort, dst *unix.RawSockaddrAny) uint32 {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(dst))
		sa.Family = unix.AF_INET
		putPort(&sa.Port, ap.Port())
		sa.Addr = addr.Unmap().As4()
		return unix.SizeofSockaddrInet4
	}
	sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(dst))
	sa.Family = unix.AF_INET6
	putPort(&sa.Port, ap.Port())
	sa.Addr = addr.As16()
	if z := addr.Zone(); z != "" {
		if idx, err := zoneIndex(z); err == nil {
			sa.Scope_id = idx
		}
	}
	return unix.SizeofSockaddrInet6
}

func rawAddrPort(rsa *unix.RawSockaddrAny) netip.AddrPort {
	switch rsa.Addr.Family {
	case unix.AF_INET:
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(rsa))
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), getPort(&sa.Port))
	case unix.AF_INET6:
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(rsa))
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), getPort(&sa.Port))
	}
	return netip.AddrPort{}
}

// sockaddr ports are in network byte order
func putPort(p *uint16, port uint16) {
	b := (*[2]byte)(unsafe.Pointer(p))
	b[0], b[1] = byte(port>>8), byte(port)
}

func getPort(p *uint16) uint16 {
	b := (*[2]byte)(unsafe.Pointer(p))
	return uint16(b[0])<<8 | uint16(b[1])
}
