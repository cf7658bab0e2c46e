//go:build windows
// +build windows

// File: internal/concurrency/pin_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinityMask = modkernel32.NewProc("SetThreadAffinityMask")
)

func platformPinCurrentThread(cpu int) (func(), error) {
	if cpu >= 64 {
		return nil, fmt.Errorf("cpu %d beyond the first processor group: %w", cpu, ErrAffinityNotSupported)
	}
	thread := windows.CurrentThread()
	prev, _, err := procSetThreadAffinityMask.Call(uintptr(thread), uintptr(1)<<uint(cpu))
	if prev == 0 {
		return nil, fmt.Errorf("SetThreadAffinityMask: %w", err)
	}
	return func() { procSetThreadAffinityMask.Call(uintptr(thread), prev) }, nil
}
