//go:build !unix && !windows

// File: reactor/select_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-aio/api"
)

func newBackend(o Options) (backend, error) {
	return nil, fmt.Errorf("%w: reactor: this platform is not supported", api.ErrNotSupported)
}

// Available lists the backends that can be created on this host.
func Available() []api.BackendKind { return nil }
