// File: internal/concurrency/pin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"errors"
	"runtime"
)

// ErrAffinityNotSupported indicates CPU affinity is not supported on this platform.
var ErrAffinityNotSupported = errors.New("CPU affinity not supported")

// LockThread wires the calling goroutine to its OS thread and, when cpu >= 0,
// pins that thread to cpu. The returned function undoes both. A pinning
// failure leaves the goroutine locked and is reported as the error.
func LockThread(cpu int) (unlock func(), err error) {
	runtime.LockOSThread()
	if cpu < 0 {
		return runtime.UnlockOSThread, nil
	}
	restore, err := platformPinCurrentThread(cpu)
	if err != nil {
		return runtime.UnlockOSThread, err
	}
	return func() {
		restore()
		runtime.UnlockOSThread()
	}, nil
}
