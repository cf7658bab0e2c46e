//go:build linux

// File: reactor/probe_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Kernel release detection used to gate io_uring.

package reactor

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sys/unix"
)

// minURingKernel is the first release with IORING_OP_READ/WRITE, ACCEPT,
// CONNECT, CLOSE and SEND/RECV.
var minURingKernel = semver.MustParse("5.6.0")

// KernelVersion returns the running kernel release.
func KernelVersion() (*semver.Version, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, fmt.Errorf("uname: %w", err)
	}
	return parseKernelRelease(unix.ByteSliceToString(uts.Release[:]))
}

// parseKernelRelease keeps the numeric part of a release string such as
// "6.8.0-45-generic" so distribution suffixes do not read as pre-releases.
func parseKernelRelease(release string) (*semver.Version, error) {
	end := strings.IndexFunc(release, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if end >= 0 {
		release = release[:end]
	}
	release = strings.TrimRight(release, ".")
	v, err := semver.NewVersion(release)
	if err != nil {
		return nil, fmt.Errorf("kernel release %q: %w", release, err)
	}
	return v, nil
}

func uringKernelSupported() (bool, *semver.Version, error) {
	v, err := KernelVersion()
	if err != nil {
		return false, nil, err
	}
	return !v.LessThan(minURingKernel), v, nil
}
