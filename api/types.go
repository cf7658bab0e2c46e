// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import (
	"fmt"
	"strings"
)

// Key identifies one submitted operation inside a driver. Keys are assigned
// in increasing order and never reused by the same driver.
type Key uint64

// Handle is an OS-level file descriptor (unix) or HANDLE/SOCKET (windows).
type Handle uintptr

// BackendKind selects the kernel facility a driver talks to.
type BackendKind int

const (
	BackendAuto BackendKind = iota
	BackendURing
	BackendIOCP
	BackendPoll
)

func (k BackendKind) String() string {
	switch k {
	case BackendURing:
		return "uring"
	case BackendIOCP:
		return "iocp"
	case BackendPoll:
		return "poll"
	default:
		return "auto"
	}
}

// ParseBackendKind converts a configuration string into a BackendKind.
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "uring", "io_uring", "iouring":
		return BackendURing, nil
	case "iocp":
		return BackendIOCP, nil
	case "poll":
		return BackendPoll, nil
	}
	return BackendAuto, NewError(ErrCodeInvalidArgument, fmt.Sprintf("unknown backend %q", s))
}

// MarshalText implements encoding.TextMarshaler.
func (k BackendKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *BackendKind) UnmarshalText(b []byte) error {
	v, err := ParseBackendKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
