// File: executor/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/control"
	"github.com/momentics/hioload-aio/internal/concurrency"
	"github.com/momentics/hioload-aio/op"
	"github.com/momentics/hioload-aio/reactor"
)

// Executor schedules tasks over one driver. It is not safe for concurrent
// use: create one per thread.
type Executor struct {
	cfg     control.Config
	log     *zap.Logger
	driver  Driver
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes

	runq   *queue.Queue
	reg    *registry
	timers *timerSet
	baton  chan struct{}
	live   map[*Task]struct{}
	nextID uint64

	running bool
	closing bool
	closed  bool
	fatal   error

	submitted, completed, cancelled, polls uint64
}

// New creates an executor for cfg. Unless WithDriver is given it opens a
// reactor driver for cfg.Backend and cfg.Capacity.
func New(cfg control.Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		cfg:    cfg,
		runq:   queue.New(),
		reg:    newRegistry(),
		timers: newTimerSet(),
		baton:  make(chan struct{}),
		live:   make(map[*Task]struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.driver == nil {
		d, err := reactor.New(
			reactor.WithBackend(cfg.Backend),
			reactor.WithCapacity(cfg.Capacity),
			reactor.WithLogger(e.log),
		)
		if err != nil {
			return nil, err
		}
		e.driver = d
	}
	if e.probes != nil {
		if k, ok := e.driver.(kinder); ok {
			e.probes.RegisterProbe(control.ProbeBackend, func() any { return k.Kind().String() })
		}
		e.probes.RegisterProbe(control.ProbePending, func() any { return e.driver.Pending() })
	}
	e.log.Debug("executor created",
		zap.Int("capacity", cfg.Capacity),
		zap.Duration("timer_resolution", cfg.TimerResolution))
	return e, nil
}

// Driver returns the underlying driver, e.g. to attach handles.
func (e *Executor) Driver() Driver { return e.driver }

// Tasks returns the number of tasks that have not completed.
func (e *Executor) Tasks() int { return len(e.live) }

// Spawn queues fn as a new task. It runs the next time the executor loop
// runs. Tasks spawned while Close drains start aborted.
func (e *Executor) Spawn(fn func(*Task) error) *JoinHandle {
	e.nextID++
	t := &Task{
		id:     e.nextID,
		ex:     e,
		fn:     fn,
		resume: make(chan struct{}),
	}
	if e.closing {
		t.aborted = true
	}
	e.live[t] = struct{}{}
	e.runq.Add(t)
	go t.main()
	return &JoinHandle{t: t}
}

// Run spawns fn as the root task and drives the loop until it completes,
// returning its error. Other tasks still parked at that point stay parked
// until the next Run or Close. Run returns api.ErrStalled if the root task
// can no longer make progress, and the driver error if the driver fails.
func (e *Executor) Run(fn func(*Task) error) error {
	if e.closed {
		return api.ErrExecutorClosed
	}
	if e.running {
		return api.NewError(api.ErrCodeInvalidArgument, "executor already running")
	}
	e.running = true
	defer func() { e.running = false }()

	unlock, err := concurrency.LockThread(e.cfg.CPU)
	if err != nil {
		e.log.Warn("cpu pinning failed", zap.Int("cpu", e.cfg.CPU), zap.Error(err))
	}
	defer unlock()

	root := e.Spawn(fn).t
	if err := e.loop(func() bool { return root.state == Completed }); err != nil {
		return err
	}
	return root.err
}

// Close aborts every live task, drives the loop until they have all
// completed and closes the driver.
func (e *Executor) Close() error {
	if e.closed {
		return nil
	}
	if e.running {
		return api.NewError(api.ErrCodeInvalidArgument, "close from inside a task")
	}
	e.running = true
	e.closing = true
	for t := range e.live {
		e.abort(t)
	}
	var errs error
	if err := e.loop(func() bool { return len(e.live) == 0 }); err != nil && !errors.Is(err, e.fatal) {
		errs = multierr.Append(errs, fmt.Errorf("drain: %w", err))
	}
	errs = multierr.Append(errs, e.driver.Close())
	if e.probes != nil {
		e.probes.UnregisterProbe(control.ProbeBackend)
		e.probes.UnregisterProbe(control.ProbePending)
	}
	e.running = false
	e.closed = true
	e.log.Debug("executor closed", zap.Error(errs))
	return errs
}

// loop runs tasks and polls the driver until done reports true.
func (e *Executor) loop(done func() bool) error {
	for {
		for e.runq.Length() > 0 {
			t := e.runq.Remove().(*Task)
			t.state = Runnable
			t.resume <- struct{}{}
			<-e.baton
		}
		if done() {
			e.publish()
			return nil
		}
		if e.fatal != nil {
			e.publish()
			return e.fatal
		}
		if e.reg.len() == 0 && e.timers.len() == 0 {
			e.publish()
			return api.ErrStalled
		}

		timeout := time.Duration(-1)
		if deadline, ok := e.timers.next(); ok {
			timeout = pollTimeout(time.Now(), deadline, e.cfg.TimerResolution)
		}
		comps, err := e.driver.Poll(timeout)
		e.polls++
		for _, c := range comps {
			e.dispatch(c)
		}
		e.fire(time.Now())
		if err != nil {
			e.log.Error("driver failed", zap.Error(err))
			e.fatal = err
			e.failAll(err)
		}
		e.publish()
	}
}

// dispatch resumes the task parked on c.Key.
func (e *Executor) dispatch(c op.Completion) {
	t, ok := e.reg.take(c.Key)
	if !ok {
		e.log.Warn("completion for unknown key", zap.Uint64("key", uint64(c.Key)))
		return
	}
	e.completed++
	if c.Cancelled() {
		e.cancelled++
	}
	if t.timer != nil {
		e.timers.disarm(t.timer)
		t.timer = nil
	}
	t.pending = nil
	t.comp = c
	e.wake(t)
}

// failAll resumes every task parked on I/O with err after the driver failed.
func (e *Executor) failAll(err error) {
	for key, t := range e.reg.drain() {
		e.timers.disarm(t.timer)
		t.timer = nil
		t.comp = op.Completion{Key: key, Op: t.pending, Err: err}
		t.pending = nil
		e.wake(t)
	}
}

func (e *Executor) fire(now time.Time) {
	for _, te := range e.timers.expire(now) {
		t := te.task
		t.timer = nil
		switch te.kind {
		case timerSleep:
			e.wake(t)
		case timerDeadline:
			t.timedOut = true
			e.driver.Cancel(t.key)
		}
	}
}

func (e *Executor) wake(t *Task) {
	t.state = Runnable
	e.runq.Add(t)
}

// finish runs on the task goroutine while it holds the baton.
func (e *Executor) finish(t *Task) {
	t.state = Completed
	delete(e.live, t)
	for _, j := range t.joiners {
		j.joining = nil
		e.wake(j)
	}
	t.joiners = nil
	if t.err != nil && !errors.Is(t.err, api.ErrCancelled) {
		e.log.Debug("task failed", zap.Uint64("task", t.id), zap.Error(t.err))
	}
}

func (e *Executor) abort(t *Task) {
	if t.state == Completed || t.aborted {
		return
	}
	t.aborted = true
	switch t.state {
	case SuspendedIO:
		e.driver.Cancel(t.key)
	case SuspendedTimer:
		e.timers.disarm(t.timer)
		t.timer = nil
		t.wakeErr = api.ErrCancelled
		e.wake(t)
	case SuspendedJoin:
		target := t.joining
		for i, j := range target.joiners {
			if j == t {
				target.joiners = append(target.joiners[:i], target.joiners[i+1:]...)
				break
			}
		}
		t.joining = nil
		t.wakeErr = api.ErrCancelled
		e.wake(t)
	}
}

// publish flushes loop counters into the metrics registry.
func (e *Executor) publish() {
	if e.metrics == nil {
		return
	}
	e.metrics.Add(control.MetricSubmitted, e.submitted)
	e.metrics.Add(control.MetricCompleted, e.completed)
	e.metrics.Add(control.MetricCancelled, e.cancelled)
	e.metrics.Add(control.MetricPolls, e.polls)
	e.submitted, e.completed, e.cancelled, e.polls = 0, 0, 0, 0
	e.metrics.Set(control.MetricTasks, len(e.live))
	e.metrics.Set(control.MetricPending, e.driver.Pending())
}
