//go:build windows

// File: reactor/iocp_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// IOCP backend. Every operation is started at submission with an overlapped
// record embedded at the head of its per-operation context; the completion
// port hands that record back. Operations without an overlapped form
// complete synchronously and are delivered by the next poll.

package reactor

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/op"
)

const (
	soUpdateAcceptContext  = 0x700b
	soUpdateConnectContext = 0x7010

	waitTimeout = windows.Errno(258)
	wsaEINVAL   = windows.Errno(10022)
	wsaENOTSOCK = windows.Errno(10038)

	// acceptAddrLen is the per-address room AcceptEx requires.
	acceptAddrLen = uint32(unsafe.Sizeof(windows.RawSockaddrAny{})) + 16

	iocpBatch = 256
)

// overlappedOp is the per-operation context. ov must stay the first field:
// the completion port returns a pointer to it.
type overlappedOp struct {
	ov     windows.Overlapped
	e      *inflight
	wsabuf windows.WSABuf
	vecs   []windows.WSABuf
	flags  uint32
	qty    uint32
	accept [2 * acceptAddrLen]byte
}

type iocpBackend struct {
	log      *zap.Logger
	port     windows.Handle
	attached map[windows.Handle]struct{}
	ready    []*inflight
}

func newIOCPBackend(o Options) (*iocpBackend, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("CreateIoCompletionPort: %w", err)
	}
	return &iocpBackend{
		log:      o.Logger,
		port:     port,
		attached: make(map[windows.Handle]struct{}),
	}, nil
}

func (b *iocpBackend) kind() api.BackendKind { return api.BackendIOCP }

func (b *iocpBackend) attach(h api.Handle) error {
	wh := windows.Handle(h)
	if _, ok := b.attached[wh]; ok {
		return nil
	}
	if _, err := windows.CreateIoCompletionPort(wh, b.port, 0, 0); err != nil {
		return fmt.Errorf("associate handle with completion port: %w", err)
	}
	b.attached[wh] = struct{}{}
	return nil
}

func (b *iocpBackend) submit(e *inflight) error {
	switch o := e.op.(type) {
	case op.Nop:
		e.complete(0, nil)
		b.ready = append(b.ready, e)
		return nil
	case op.Close:
		h := windows.Handle(o.Fd)
		delete(b.attached, h)
		err := windows.Closesocket(h)
		if errors.Is(err, wsaENOTSOCK) {
			err = windows.CloseHandle(h)
		}
		e.complete(0, err)
		b.ready = append(b.ready, e)
		return nil
	case op.Fsync:
		e.complete(0, windows.FlushFileBuffers(windows.Handle(o.Fd)))
		b.ready = append(b.ready, e)
		return nil
	}

	h := windows.Handle(e.op.Handle())
	if err := b.attach(api.Handle(h)); err != nil {
		return err
	}
	ctx := &overlappedOp{e: e}
	e.sys = ctx

	var err error
	switch o := e.op.(type) {
	case op.Read:
		err = windows.ReadFile(h, o.Buf.Writable(), &ctx.qty, &ctx.ov)
	case op.ReadAt:
		setOffset(&ctx.ov, o.Offset)
		err = windows.ReadFile(h, o.Buf.Writable(), &ctx.qty, &ctx.ov)
	case op.Write:
		err = windows.WriteFile(h, o.Buf.Bytes(), &ctx.qty, &ctx.ov)
	case op.WriteAt:
		setOffset(&ctx.ov, o.Offset)
		err = windows.WriteFile(h, o.Buf.Bytes(), &ctx.qty, &ctx.ov)
	case op.Recv:
		ctx.wsabuf = wsaBuf(o.Buf.Writable())
		ctx.flags = uint32(o.Flags)
		err = windows.WSARecv(h, &ctx.wsabuf, 1, &ctx.qty, &ctx.flags, &ctx.ov, nil)
	case op.Send:
		ctx.wsabuf = wsaBuf(o.Buf.Bytes())
		err = windows.WSASend(h, &ctx.wsabuf, 1, &ctx.qty, uint32(o.Flags), &ctx.ov, nil)
	case op.ReadVectored:
		ctx.vecs = make([]windows.WSABuf, len(o.Bufs))
		for i, b := range o.Bufs {
			ctx.vecs[i] = wsaBuf(b.Writable())
		}
		err = windows.WSARecv(h, &ctx.vecs[0], uint32(len(ctx.vecs)), &ctx.qty, &ctx.flags, &ctx.ov, nil)
		err = vectoredSocketOnly(err)
	case op.WriteVectored:
		ctx.vecs = make([]windows.WSABuf, len(o.Bufs))
		for i, b := range o.Bufs {
			ctx.vecs[i] = wsaBuf(b.Bytes())
		}
		err = windows.WSASend(h, &ctx.vecs[0], uint32(len(ctx.vecs)), &ctx.qty, 0, &ctx.ov, nil)
		err = vectoredSocketOnly(err)
	case op.Accept:
		if o.Socket == 0 {
			return api.NewError(api.ErrCodeInvalidArgument, "accept requires a pre-created socket")
		}
		err = windows.AcceptEx(h, windows.Handle(o.Socket), &ctx.accept[0], 0,
			acceptAddrLen, acceptAddrLen, &ctx.qty, &ctx.ov)
	case op.Connect:
		if err := bindAny(h, o.Addr); err != nil {
			return err
		}
		err = windows.ConnectEx(h, windowsSockaddr(o.Addr), nil, 0, nil, &ctx.ov)
	default:
		return api.ErrNotSupported
	}

	switch {
	case err == nil, errors.Is(err, windows.ERROR_IO_PENDING):
		// the port reports the result, including for immediate success
		e.stage = stageKernel
		return nil
	case isEOF(err):
		e.complete(0, nil)
	default:
		e.complete(0, err)
	}
	b.ready = append(b.ready, e)
	return nil
}

// vectoredSocketOnly reports scatter/gather on a file handle as unsupported;
// ReadFileScatter needs page-aligned unbuffered files.
func vectoredSocketOnly(err error) error {
	if errors.Is(err, wsaENOTSOCK) {
		return fmt.Errorf("%w: vectored I/O on a non-socket handle", api.ErrNotSupported)
	}
	return err
}

func (b *iocpBackend) cancel(e *inflight) {
	if e.stage != stageKernel {
		return
	}
	ctx, ok := e.sys.(*overlappedOp)
	if !ok {
		return
	}
	err := windows.CancelIoEx(windows.Handle(e.op.Handle()), &ctx.ov)
	if err != nil && !errors.Is(err, windows.ERROR_NOT_FOUND) {
		b.log.Debug("CancelIoEx failed", zap.Uint64("key", uint64(e.key)), zap.Error(err))
	}
}

func (b *iocpBackend) poll(timeout time.Duration, _ func(api.Key) *inflight) ([]*inflight, error) {
	out := b.ready
	b.ready = nil

	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	if len(out) > 0 {
		ms = 0
	}
	for i := 0; i < iocpBatch; i++ {
		var (
			qty uint32
			key uintptr
			ov  *windows.Overlapped
		)
		err := windows.GetQueuedCompletionStatus(b.port, &qty, &key, &ov, ms)
		if ov == nil {
			if err == nil || errors.Is(err, waitTimeout) {
				break
			}
			return out, fmt.Errorf("GetQueuedCompletionStatus: %w", err)
		}
		ms = 0
		ctx := (*overlappedOp)(unsafe.Pointer(ov))
		e := ctx.e
		if e == nil || e.stage != stageKernel {
			continue
		}
		b.settle(e, ctx, qty, err)
		out = append(out, e)
	}
	return out, nil
}

func (b *iocpBackend) settle(e *inflight, ctx *overlappedOp, qty uint32, err error) {
	switch {
	case err == nil:
	case errors.Is(err, windows.ERROR_OPERATION_ABORTED):
		e.complete(0, api.ErrCancelled)
		return
	case isEOF(err):
		e.complete(0, nil)
		return
	default:
		e.complete(0, err)
		return
	}

	switch o := e.op.(type) {
	case op.Accept:
		ls := windows.Handle(o.Fd)
		as := windows.Handle(o.Socket)
		if err := windows.Setsockopt(as, windows.SOL_SOCKET, soUpdateAcceptContext,
			(*byte)(unsafe.Pointer(&ls)), int32(unsafe.Sizeof(ls))); err != nil {
			e.complete(0, err)
			return
		}
		var lrsa, rrsa *windows.RawSockaddrAny
		var llen, rlen int32
		windows.GetAcceptExSockaddrs(&ctx.accept[0], 0, acceptAddrLen, acceptAddrLen, &lrsa, &llen, &rrsa, &rlen)
		if rrsa != nil {
			if sa, err := rrsa.Sockaddr(); err == nil {
				o.Peer = windowsAddrPort(sa)
			}
		}
		e.op = o
		e.complete(int(as), nil)
		return
	case op.Connect:
		if err := windows.Setsockopt(windows.Handle(o.Fd), windows.SOL_SOCKET, soUpdateConnectContext, nil, 0); err != nil {
			e.complete(0, err)
			return
		}
	}
	e.complete(int(qty), nil)
}

func (b *iocpBackend) close() error {
	b.ready = nil
	return windows.CloseHandle(b.port)
}

func isEOF(err error) bool {
	return errors.Is(err, windows.ERROR_HANDLE_EOF) || errors.Is(err, windows.ERROR_BROKEN_PIPE)
}

func setOffset(ov *windows.Overlapped, off int64) {
	ov.Offset = uint32(off)
	ov.OffsetHigh = uint32(off >> 32)
}

func wsaBuf(b []byte) windows.WSABuf {
	w := windows.WSABuf{Len: uint32(len(b))}
	if len(b) > 0 {
		w.Buf = &b[0]
	}
	return w
}

func windowsSockaddr(ap netip.AddrPort) windows.Sockaddr {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		return &windows.SockaddrInet4{Port: int(ap.Port()), Addr: addr.Unmap().As4()}
	}
	return &windows.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}

func windowsAddrPort(sa windows.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *windows.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *windows.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port))
	}
	return netip.AddrPort{}
}

// bindAny binds h to the wildcard address of the target family; ConnectEx
// refuses unbound sockets. An already bound socket is left alone.
func bindAny(h windows.Handle, target netip.AddrPort) error {
	var sa windows.Sockaddr = &windows.SockaddrInet4{}
	if !target.Addr().Is4() && !target.Addr().Is4In6() {
		sa = &windows.SockaddrInet6{}
	}
	if err := windows.Bind(h, sa); err != nil && !errors.Is(err, wsaEINVAL) {
		return fmt.Errorf("bind before connect: %w", err)
	}
	return nil
}
