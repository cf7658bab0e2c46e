//go:build unix

// File: cmd/aioctl/sys_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
)

func openRead(path string) (api.Handle, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	return api.Handle(fd), err
}

func openWrite(path string) (api.Handle, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, 0o644)
	return api.Handle(fd), err
}

func closeFile(h api.Handle) error   { return unix.Close(int(h)) }
func closeSocket(h api.Handle) error { return unix.Close(int(h)) }

// listen opens a listening TCP socket on addr and returns it with the bound
// address.
func listen(addr netip.AddrPort, reusePort bool) (api.Handle, netip.AddrPort, error) {
	domain := unix.AF_INET
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	unix.CloseOnExec(fd)
	fail := func(err error) (api.Handle, netip.AddrPort, error) {
		unix.Close(fd)
		return 0, netip.AddrPort{}, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail(err)
	}
	if reusePort {
		if err := setReusePort(fd); err != nil {
			return fail(err)
		}
	}
	if err := unix.Bind(fd, sockaddr(addr, domain)); err != nil {
		return fail(err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fail(err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fail(err)
	}
	bound := addr
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		bound = netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		bound = netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	}
	return api.Handle(fd), bound, nil
}

// acceptSocket returns the socket an Accept fills in. Unix kernels create it.
func acceptSocket(api.Handle) (api.Handle, error) { return 0, nil }

func sockaddr(addr netip.AddrPort, domain int) unix.Sockaddr {
	if domain == unix.AF_INET {
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().Unmap().As4()}
	}
	return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
}
