// File: cmd/aioctl/reuseport_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import "golang.org/x/sys/unix"

const reusePortSupported = true

func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
