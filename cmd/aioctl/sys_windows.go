// File: cmd/aioctl/sys_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"net/netip"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-aio/api"
)

const reusePortSupported = false

func init() {
	var d windows.WSAData
	if err := windows.WSAStartup(uint32(0x202), &d); err != nil {
		panic(err)
	}
}

func openFile(path string, access, mode uint32) (api.Handle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	h, err := windows.CreateFile(p, access, windows.FILE_SHARE_READ, nil, mode,
		windows.FILE_ATTRIBUTE_NORMAL|windows.FILE_FLAG_OVERLAPPED, 0)
	return api.Handle(h), err
}

func openRead(path string) (api.Handle, error) {
	return openFile(path, windows.GENERIC_READ, windows.OPEN_EXISTING)
}

func openWrite(path string) (api.Handle, error) {
	return openFile(path, windows.GENERIC_WRITE, windows.CREATE_ALWAYS)
}

func closeFile(h api.Handle) error   { return windows.CloseHandle(windows.Handle(h)) }
func closeSocket(h api.Handle) error { return windows.Closesocket(windows.Handle(h)) }

func family(addr netip.AddrPort) int {
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		return windows.AF_INET6
	}
	return windows.AF_INET
}

func listen(addr netip.AddrPort, _ bool) (api.Handle, netip.AddrPort, error) {
	af := family(addr)
	s, err := windows.Socket(af, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	fail := func(err error) (api.Handle, netip.AddrPort, error) {
		windows.Closesocket(s)
		return 0, netip.AddrPort{}, err
	}
	var sa windows.Sockaddr = &windows.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
	if af == windows.AF_INET {
		sa = &windows.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().Unmap().As4()}
	}
	if err := windows.Bind(s, sa); err != nil {
		return fail(err)
	}
	if err := windows.Listen(s, windows.SOMAXCONN); err != nil {
		return fail(err)
	}
	got, err := windows.Getsockname(s)
	if err != nil {
		return fail(err)
	}
	bound := addr
	switch got := got.(type) {
	case *windows.SockaddrInet4:
		bound = netip.AddrPortFrom(netip.AddrFrom4(got.Addr), uint16(got.Port))
	case *windows.SockaddrInet6:
		bound = netip.AddrPortFrom(netip.AddrFrom16(got.Addr), uint16(got.Port))
	}
	return api.Handle(s), bound, nil
}

// acceptSocket creates the unbound socket AcceptEx fills in.
func acceptSocket(ln api.Handle) (api.Handle, error) {
	sa, err := windows.Getsockname(windows.Handle(ln))
	if err != nil {
		return 0, err
	}
	af := windows.AF_INET
	if _, ok := sa.(*windows.SockaddrInet6); ok {
		af = windows.AF_INET6
	}
	s, err := windows.Socket(af, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	return api.Handle(s), err
}
