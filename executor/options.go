// File: executor/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package executor

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/control"
	"github.com/momentics/hioload-aio/op"
)

// Driver is the completion source an executor runs on. *reactor.Driver and
// *fake.Driver implement it.
type Driver interface {
	Submit(o op.Operation) (api.Key, error)
	Cancel(key api.Key)
	Poll(timeout time.Duration) ([]op.Completion, error)
	Pending() int
	Close() error
}

// kinder is implemented by drivers that can report their backend.
type kinder interface {
	Kind() api.BackendKind
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithDriver runs the executor on d instead of opening a reactor driver.
// The executor closes d on Close.
func WithDriver(d Driver) Option {
	return func(e *Executor) { e.driver = d }
}

// WithMetrics publishes loop counters to mr.
func WithMetrics(mr *control.MetricsRegistry) Option {
	return func(e *Executor) { e.metrics = mr }
}

// WithProbes registers the driver probes in dp.
func WithProbes(dp *control.DebugProbes) Option {
	return func(e *Executor) { e.probes = dp }
}
