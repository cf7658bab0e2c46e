// File: facade/hioload.go
// Unified facade layer for hioload-aio.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HioloadAIO bundles one executor with the services around it: the logger
// built from configuration, the metrics registry, debug probes and the
// shared buffer pool. BlockOn covers the common case of running a single
// root task to completion.

package facade

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-aio/control"
	"github.com/momentics/hioload-aio/executor"
	"github.com/momentics/hioload-aio/pool"
)

// HioloadAIO is the main facade type. Like the executor it wraps, it belongs
// to one goroutine.
type HioloadAIO struct {
	config   control.Config
	log      *zap.Logger
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes
	pool     *pool.BufferPool
	executor *executor.Executor
	closed   bool
}

// New constructs the facade. A nil cfg means control.DefaultConfig. Extra
// executor options are applied after the facade's own.
func New(cfg *control.Config, opts ...executor.Option) (*HioloadAIO, error) {
	c := control.DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log, err := c.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("logger init failure: %w", err)
	}
	h := &HioloadAIO{
		config:  c,
		log:     log,
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
		pool:    pool.Default(),
	}
	control.RegisterPlatformProbes(h.probes)
	base := []executor.Option{
		executor.WithLogger(log),
		executor.WithMetrics(h.metrics),
		executor.WithProbes(h.probes),
	}
	h.executor, err = executor.New(c, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("executor init failure: %w", err)
	}
	return h, nil
}

// Run drives fn as a root task on the facade's executor.
func (h *HioloadAIO) Run(fn func(*executor.Task) error) error {
	return h.executor.Run(fn)
}

// Shutdown closes the executor and flushes the logger. Calling it twice is a
// no-op.
func (h *HioloadAIO) Shutdown() error {
	if h.closed {
		return nil
	}
	h.closed = true
	err := h.executor.Close()
	// Sync reports EINVAL on terminals.
	_ = h.log.Sync()
	return err
}

// GetExecutor returns the executor.
func (h *HioloadAIO) GetExecutor() *executor.Executor { return h.executor }

// GetMetrics returns the metrics registry the executor publishes to.
func (h *HioloadAIO) GetMetrics() *control.MetricsRegistry { return h.metrics }

// GetDebugProbes returns the probe registry.
func (h *HioloadAIO) GetDebugProbes() *control.DebugProbes { return h.probes }

// GetBufferPool returns the shared buffer pool.
func (h *HioloadAIO) GetBufferPool() *pool.BufferPool { return h.pool }

// Logger returns the configured logger.
func (h *HioloadAIO) Logger() *zap.Logger { return h.log }

// Config returns the validated configuration.
func (h *HioloadAIO) Config() control.Config { return h.config }

// BlockOn creates a facade for cfg, runs fn to completion and shuts down.
// The error of fn and any shutdown error are combined.
func BlockOn(cfg control.Config, fn func(*executor.Task) error, opts ...executor.Option) error {
	h, err := New(&cfg, opts...)
	if err != nil {
		return err
	}
	return multierr.Append(h.Run(fn), h.Shutdown())
}
