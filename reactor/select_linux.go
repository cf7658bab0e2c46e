//go:build linux

// File: reactor/select_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend selection for Linux: io_uring when the kernel supports it, readiness
// polling otherwise.

package reactor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/hioload-aio/api"
)

func newBackend(o Options) (backend, error) {
	switch o.Backend {
	case api.BackendAuto:
		ok, v, err := uringKernelSupported()
		if err != nil || !ok {
			o.Logger.Debug("io_uring not supported by kernel, using poll",
				zap.Stringer("kernel", v), zap.Error(err))
			return newPollBackend(o)
		}
		u, err := newURing(o)
		if err != nil {
			o.Logger.Warn("io_uring setup failed, falling back to poll", zap.Error(err))
			return newPollBackend(o)
		}
		return u, nil
	case api.BackendURing:
		u, err := newURing(o)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", api.ErrNotSupported, err)
		}
		return u, nil
	case api.BackendPoll:
		return newPollBackend(o)
	}
	return nil, fmt.Errorf("%w: backend %s on linux", api.ErrNotSupported, o.Backend)
}

// Available lists the backends that can be created on this host.
func Available() []api.BackendKind {
	kinds := make([]api.BackendKind, 0, 2)
	if ok, _, _ := uringKernelSupported(); ok {
		if u, err := newURing(buildOptions([]Option{WithCapacity(2)})); err == nil {
			u.close()
			kinds = append(kinds, api.BackendURing)
		}
	}
	return append(kinds, api.BackendPoll)
}
