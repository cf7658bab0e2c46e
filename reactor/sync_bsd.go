//go:build unix && !linux

// File: reactor/sync_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "golang.org/x/sys/unix"

// datasync falls back to a full fsync where fdatasync is unavailable.
func datasync(fd int) error { return unix.Fsync(fd) }
