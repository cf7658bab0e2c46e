//go:build !linux && !windows
// +build !linux,!windows

// File: internal/concurrency/pin_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

func platformPinCurrentThread(int) (func(), error) {
	return nil, ErrAffinityNotSupported
}
