//go:build unix

// File: reactor/sys_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Errno mapping and sockaddr conversion shared by unix backends.

package reactor

import (
	"net"
	"net/netip"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
)

// mapErrno converts a kernel errno into the error carried by a completion.
// cancelRequested turns EINTR into a cancellation, which is how some kernels
// report an interrupted blocking operation that was cancelled.
func mapErrno(errno unix.Errno, cancelRequested bool) error {
	switch {
	case errno == unix.ECANCELED:
		return api.ErrCancelled
	case errno == unix.EINTR && cancelRequested:
		return api.ErrCancelled
	}
	return errno
}

func sockaddrOf(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.Unmap().As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
	if z := addr.Zone(); z != "" {
		if ifi, err := zoneIndex(z); err == nil {
			sa.ZoneId = ifi
		}
	}
	return sa
}

func addrPortOf(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port))
	}
	return netip.AddrPort{}
}

func zoneIndex(zone string) (uint32, error) {
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n), nil
	}
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0, err
	}
	return uint32(ifi.Index), nil
}

// msTimeout rounds d up to whole milliseconds; negative means infinite.
func msTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
