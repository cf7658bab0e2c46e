// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Functional options for Driver construction.

package reactor

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-aio/api"
)

// DefaultCapacity is the submission queue depth used when none is given.
const DefaultCapacity = 1024

// Options holds driver construction parameters.
type Options struct {
	Backend  api.BackendKind
	Capacity int
	Logger   *zap.Logger
}

// Option configures a Driver.
type Option func(*Options)

// WithBackend forces a backend instead of automatic selection.
func WithBackend(kind api.BackendKind) Option {
	return func(o *Options) { o.Backend = kind }
}

// WithCapacity sets the submission queue depth. Values are rounded up to a
// power of two.
func WithCapacity(n int) Option {
	return func(o *Options) { o.Capacity = n }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func buildOptions(opts []Option) Options {
	o := Options{Backend: api.BackendAuto, Capacity: DefaultCapacity, Logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	o.Capacity = roundPow2(o.Capacity)
	return o
}

func roundPow2(n int) int {
	if n < 2 {
		n = 2
	}
	if n > 1<<15 {
		n = 1 << 15
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}
