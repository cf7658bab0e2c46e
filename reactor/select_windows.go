//go:build windows

// File: reactor/select_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-aio/api"
)

func newBackend(o Options) (backend, error) {
	switch o.Backend {
	case api.BackendAuto, api.BackendIOCP:
		return newIOCPBackend(o)
	}
	return nil, fmt.Errorf("%w: backend %s on windows", api.ErrNotSupported, o.Backend)
}

// Available lists the backends that can be created on this host.
func Available() []api.BackendKind { return []api.BackendKind{api.BackendIOCP} }
