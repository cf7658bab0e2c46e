// File: executor/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package executor

import (
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/op"
)

// TaskState is the scheduling state of a task.
type TaskState uint8

const (
	Runnable TaskState = iota
	SuspendedIO
	SuspendedTimer
	SuspendedJoin
	Completed
)

func (s TaskState) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case SuspendedIO:
		return "suspended-io"
	case SuspendedTimer:
		return "suspended-timer"
	case SuspendedJoin:
		return "suspended-join"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("TaskState(%d)", uint8(s))
}

// Task is a cooperative unit of work. Its methods may only be called from
// the task's own function.
type Task struct {
	id     uint64
	ex     *Executor
	fn     func(*Task) error
	resume chan struct{}

	state   TaskState
	aborted bool

	// set while parked
	key      api.Key
	pending  op.Operation
	timer    *timerEntry
	timedOut bool
	joining  *Task

	// handed back on resume
	comp    op.Completion
	wakeErr error

	joiners []*Task
	err     error
}

// ID returns the task identifier, unique within its executor.
func (t *Task) ID() uint64 { return t.id }

// State returns the current scheduling state.
func (t *Task) State() TaskState { return t.state }

// Aborted reports whether Abort was called on the task.
func (t *Task) Aborted() bool { return t.aborted }

// park hands the baton to the loop and blocks until resumed.
func (t *Task) park() {
	t.ex.baton <- struct{}{}
	<-t.resume
}

func (t *Task) main() {
	<-t.resume
	if t.aborted {
		t.err = api.ErrCancelled
	} else {
		t.err = t.invoke()
	}
	t.ex.finish(t)
	t.ex.baton <- struct{}{}
}

func (t *Task) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.ex.log.Error("task panicked",
				zap.Uint64("task", t.id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", api.ErrTaskPanicked, r)
		}
	}()
	return t.fn(t)
}

// Submit hands o to the driver and parks until its completion arrives. A
// submission the driver rejects comes back at once as a completion carrying
// the error, with o's buffers untouched. After Abort every Submit fails with
// api.ErrCancelled.
func (t *Task) Submit(o op.Operation) op.Completion {
	return t.submit(o, time.Time{})
}

// SubmitTimeout is Submit with a deadline. When d elapses first the
// operation is cancelled and, if the cancellation wins, the completion error
// matches both api.ErrTimeout and api.ErrCancelled.
func (t *Task) SubmitTimeout(o op.Operation, d time.Duration) op.Completion {
	return t.submit(o, time.Now().Add(d))
}

func (t *Task) submit(o op.Operation, deadline time.Time) op.Completion {
	if t.aborted {
		return op.Completion{Op: o, Err: api.ErrCancelled}
	}
	ex := t.ex
	key, err := ex.driver.Submit(o)
	if err != nil {
		return op.Completion{Op: o, Err: err}
	}
	ex.submitted++
	ex.reg.insert(key, t)
	t.key, t.pending = key, o
	if !deadline.IsZero() {
		t.timer = ex.timers.arm(deadline, timerDeadline, t)
	}
	t.state = SuspendedIO
	t.park()

	c := t.comp
	t.comp = op.Completion{}
	if t.timedOut && c.Cancelled() {
		c.Err = fmt.Errorf("%w: %w", api.ErrTimeout, c.Err)
	}
	t.timedOut = false
	return c
}

// Sleep parks the task for at least d.
func (t *Task) Sleep(d time.Duration) error {
	return t.SleepUntil(time.Now().Add(d))
}

// SleepUntil parks the task until deadline. It returns api.ErrCancelled if
// the task is aborted.
func (t *Task) SleepUntil(deadline time.Time) error {
	if t.aborted {
		return api.ErrCancelled
	}
	t.timer = t.ex.timers.arm(deadline, timerSleep, t)
	t.state = SuspendedTimer
	t.park()
	return t.takeWakeErr()
}

// Yield lets every other runnable task run before this one continues.
func (t *Task) Yield() {
	t.ex.runq.Add(t)
	t.park()
}

// Spawn starts fn as a new task on the same executor.
func (t *Task) Spawn(fn func(*Task) error) *JoinHandle {
	return t.ex.Spawn(fn)
}

// Join parks until h's task completes and returns its error. It returns
// api.ErrCancelled if this task is aborted while waiting.
func (t *Task) Join(h *JoinHandle) error {
	target := h.t
	if target == t {
		return api.NewError(api.ErrCodeInvalidArgument, "task cannot join itself")
	}
	if target.state == Completed {
		return target.err
	}
	if t.aborted {
		return api.ErrCancelled
	}
	target.joiners = append(target.joiners, t)
	t.joining = target
	t.state = SuspendedJoin
	t.park()
	if err := t.takeWakeErr(); err != nil {
		return err
	}
	return target.err
}

func (t *Task) takeWakeErr() error {
	err := t.wakeErr
	t.wakeErr = nil
	return err
}

// JoinHandle refers to a spawned task.
type JoinHandle struct {
	t *Task
}

// ID returns the task identifier.
func (h *JoinHandle) ID() uint64 { return h.t.id }

// Done reports whether the task completed.
func (h *JoinHandle) Done() bool { return h.t.state == Completed }

// Err returns the task result once Done.
func (h *JoinHandle) Err() error {
	if h.t.state != Completed {
		return nil
	}
	return h.t.err
}

// Join parks t until the task completes. It is t.Join(h).
func (h *JoinHandle) Join(t *Task) error { return t.Join(h) }

// Abort cancels the task. An operation it is parked on is cancelled through
// the driver and the task resumes with that completion. A parked sleep or
// join returns api.ErrCancelled. Further submissions fail fast. Abort of a
// completed task does nothing.
func (h *JoinHandle) Abort() { h.t.ex.abort(h.t) }
