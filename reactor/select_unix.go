//go:build unix && !linux

// File: reactor/select_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-aio/api"
)

func newBackend(o Options) (backend, error) {
	switch o.Backend {
	case api.BackendAuto, api.BackendPoll:
		return newPollBackend(o)
	}
	return nil, fmt.Errorf("%w: backend %s on this platform", api.ErrNotSupported, o.Backend)
}

// Available lists the backends that can be created on this host.
func Available() []api.BackendKind { return []api.BackendKind{api.BackendPoll} }
