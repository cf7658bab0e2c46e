//go:build linux

// File: reactor/sync_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "golang.org/x/sys/unix"

func datasync(fd int) error { return unix.Fdatasync(fd) }
