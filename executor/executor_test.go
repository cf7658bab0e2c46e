package executor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/control"
	"github.com/momentics/hioload-aio/core/buffer"
	"github.com/momentics/hioload-aio/executor"
	"github.com/momentics/hioload-aio/fake"
	"github.com/momentics/hioload-aio/op"
)

func newExecutor(t *testing.T, opts ...executor.Option) (*executor.Executor, *fake.Driver) {
	t.Helper()
	d := fake.NewDriver()
	opts = append([]executor.Option{executor.WithDriver(d), executor.WithLogger(zaptest.NewLogger(t))}, opts...)
	ex, err := executor.New(control.DefaultConfig(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := ex.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return ex, d
}

func TestRunReturnsRootResult(t *testing.T) {
	ex, _ := newExecutor(t)
	want := errors.New("done")
	if err := ex.Run(func(*executor.Task) error { return want }); err != want {
		t.Fatalf("Run = %v, want %v", err, want)
	}
	if err := ex.Run(func(*executor.Task) error { return nil }); err != nil {
		t.Fatalf("second Run = %v", err)
	}
}

func TestReadHandsBufferBack(t *testing.T) {
	ex, d := newExecutor(t)
	d.Feed(3, []byte("ping"))
	buf := buffer.New(16)
	err := ex.Run(func(task *executor.Task) error {
		n, got, err := executor.Read(task, 3, buf)
		if err != nil {
			return err
		}
		if n != 4 || got != buf || string(got.Bytes()) != "ping" {
			t.Errorf("Read = %d %q", n, got.Bytes())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if buf.InFlight() {
		t.Fatal("buffer still in flight")
	}
}

func TestYieldInterleaves(t *testing.T) {
	ex, _ := newExecutor(t)
	var trace []string
	step := func(name string) func(*executor.Task) error {
		return func(task *executor.Task) error {
			for i := 0; i < 2; i++ {
				trace = append(trace, name)
				task.Yield()
			}
			return nil
		}
	}
	err := ex.Run(func(task *executor.Task) error {
		a := task.Spawn(step("a"))
		b := task.Spawn(step("b"))
		return errors.Join(task.Join(a), task.Join(b))
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b", "a", "b"}, trace); diff != "" {
		t.Fatalf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestSleepAndJoin(t *testing.T) {
	ex, _ := newExecutor(t)
	want := errors.New("child")
	start := time.Now()
	err := ex.Run(func(task *executor.Task) error {
		h := task.Spawn(func(c *executor.Task) error {
			if err := c.Sleep(20 * time.Millisecond); err != nil {
				return err
			}
			return want
		})
		if h.Done() {
			t.Error("child done before running")
		}
		return h.Join(task)
	})
	if err != want {
		t.Fatalf("Run = %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("sleep returned early")
	}
}

func TestSleepOrdering(t *testing.T) {
	ex, _ := newExecutor(t)
	var order []int
	err := ex.Run(func(task *executor.Task) error {
		var hs []*executor.JoinHandle
		for _, ms := range []int{30, 10, 20} {
			hs = append(hs, task.Spawn(func(c *executor.Task) error {
				err := c.Sleep(time.Duration(ms) * time.Millisecond)
				order = append(order, ms)
				return err
			}))
		}
		for _, h := range hs {
			if err := task.Join(h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{10, 20, 30}, order); diff != "" {
		t.Fatalf("wake order (-want +got):\n%s", diff)
	}
}

func TestAbortPendingRead(t *testing.T) {
	ex, d := newExecutor(t)
	buf := buffer.New(8)
	var after error
	err := ex.Run(func(task *executor.Task) error {
		h := task.Spawn(func(c *executor.Task) error {
			_, _, err := executor.Read(c, 5, buf)
			after = executor.Nop(c)
			return err
		})
		task.Yield()
		h.Abort()
		h.Abort()
		return task.Join(h)
	})
	if !errors.Is(err, api.ErrCancelled) {
		t.Fatalf("Join = %v, want ErrCancelled", err)
	}
	if !errors.Is(after, api.ErrCancelled) {
		t.Fatalf("submit after abort = %v", after)
	}
	if buf.InFlight() || d.Pending() != 0 {
		t.Fatalf("inflight=%v pending=%d", buf.InFlight(), d.Pending())
	}
}

func TestAbortSleepingAndJoiningTasks(t *testing.T) {
	ex, _ := newExecutor(t)
	err := ex.Run(func(task *executor.Task) error {
		sleeper := task.Spawn(func(c *executor.Task) error { return c.Sleep(time.Hour) })
		joiner := task.Spawn(func(c *executor.Task) error { return c.Join(sleeper) })
		task.Yield()
		joiner.Abort()
		if err := task.Join(joiner); !errors.Is(err, api.ErrCancelled) {
			t.Errorf("joiner = %v", err)
		}
		if sleeper.Done() {
			t.Error("sleeper finished early")
		}
		sleeper.Abort()
		return task.Join(sleeper)
	})
	if !errors.Is(err, api.ErrCancelled) {
		t.Fatalf("sleeper = %v", err)
	}
}

func TestSubmitTimeout(t *testing.T) {
	ex, _ := newExecutor(t)
	buf := buffer.New(8)
	err := ex.Run(func(task *executor.Task) error {
		c := task.SubmitTimeout(readOp(9, buf), 10*time.Millisecond)
		return c.Err
	})
	if !errors.Is(err, api.ErrTimeout) || !errors.Is(err, api.ErrCancelled) {
		t.Fatalf("err = %v", err)
	}
	if buf.InFlight() {
		t.Fatal("buffer still in flight")
	}
}

func TestSubmitTimeoutCompletesFirst(t *testing.T) {
	ex, d := newExecutor(t)
	d.Feed(9, []byte("x"))
	err := ex.Run(func(task *executor.Task) error {
		c := task.SubmitTimeout(readOp(9, buffer.New(4)), time.Hour)
		if c.N != 1 {
			t.Errorf("N = %d", c.N)
		}
		return c.Err
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStalled(t *testing.T) {
	ex, _ := newExecutor(t)
	var a, b *executor.JoinHandle
	err := ex.Run(func(task *executor.Task) error {
		a = task.Spawn(func(c *executor.Task) error { return c.Join(b) })
		b = task.Spawn(func(c *executor.Task) error { return c.Join(a) })
		return task.Join(a)
	})
	if !errors.Is(err, api.ErrStalled) {
		t.Fatalf("Run = %v, want ErrStalled", err)
	}
	if ex.Tasks() != 3 {
		t.Fatalf("Tasks = %d, want 3", ex.Tasks())
	}
}

func TestJoinSelf(t *testing.T) {
	ex, _ := newExecutor(t)
	err := ex.Run(func(task *executor.Task) error {
		var self *executor.JoinHandle
		self = task.Spawn(func(c *executor.Task) error { return c.Join(self) })
		return task.Join(self)
	})
	if !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("Run = %v", err)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	ex, _ := newExecutor(t)
	err := ex.Run(func(task *executor.Task) error {
		return task.Join(task.Spawn(func(*executor.Task) error { panic("kaboom") }))
	})
	if !errors.Is(err, api.ErrTaskPanicked) {
		t.Fatalf("Run = %v", err)
	}
}

func TestDriverFailureEndsRun(t *testing.T) {
	ex, d := newExecutor(t)
	boom := errors.New("ring gone")
	var readErr error
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Break(boom)
	}()
	err := ex.Run(func(task *executor.Task) error {
		_, _, readErr = executor.Read(task, 2, buffer.New(4))
		return readErr
	})
	if !errors.Is(err, api.ErrDriverFatal) || !errors.Is(readErr, boom) {
		t.Fatalf("Run = %v, read = %v", err, readErr)
	}
}

func TestWriteAllResubmitsTail(t *testing.T) {
	ex, d := newExecutor(t)
	d.LimitWrites(4, 3)
	buf := buffer.From([]byte("hello world"))
	err := ex.Run(func(task *executor.Task) error {
		n, got, err := executor.WriteAll(task, 4, buf)
		if n != 11 || got != buf {
			t.Errorf("WriteAll n=%d", n)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(d.Written(4)); got != "hello world" {
		t.Fatalf("written %q", got)
	}
	if d.Submitted() != 4 {
		t.Fatalf("Submitted = %d, want 4", d.Submitted())
	}
}

func TestCloseAbortsParkedTasks(t *testing.T) {
	d := fake.NewDriver()
	ex, err := executor.New(control.DefaultConfig(), executor.WithDriver(d), executor.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}
	var h, idle *executor.JoinHandle
	err = ex.Run(func(task *executor.Task) error {
		h = task.Spawn(func(c *executor.Task) error {
			_, _, err := executor.Recv(c, 7, buffer.New(8))
			return err
		})
		task.Yield()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	idle = ex.Spawn(func(*executor.Task) error { return nil })
	if ex.Tasks() != 2 {
		t.Fatalf("Tasks = %d", ex.Tasks())
	}
	if err := ex.Close(); err != nil {
		t.Fatal(err)
	}
	if !h.Done() || !errors.Is(h.Err(), api.ErrCancelled) {
		t.Fatalf("parked task: done=%v err=%v", h.Done(), h.Err())
	}
	if !errors.Is(idle.Err(), api.ErrCancelled) {
		t.Fatalf("unstarted task err = %v", idle.Err())
	}
	if err := ex.Run(func(*executor.Task) error { return nil }); !errors.Is(err, api.ErrExecutorClosed) {
		t.Fatalf("Run after Close = %v", err)
	}
	if err := ex.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
}

func TestMetricsAndProbes(t *testing.T) {
	mr := control.NewMetricsRegistry()
	dp := control.NewDebugProbes()
	ex, _ := newExecutor(t, executor.WithMetrics(mr), executor.WithProbes(dp))
	err := ex.Run(func(task *executor.Task) error {
		for i := 0; i < 3; i++ {
			if err := executor.Nop(task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := mr.Counter(control.MetricSubmitted); got != 3 {
		t.Fatalf("submitted = %d", got)
	}
	if got := mr.Counter(control.MetricCompleted); got != 3 {
		t.Fatalf("completed = %d", got)
	}
	if got := dp.DumpState()[control.ProbePending]; got != 0 {
		t.Fatalf("pending probe = %v", got)
	}
}

func TestRunInsideTaskRejected(t *testing.T) {
	ex, _ := newExecutor(t)
	err := ex.Run(func(*executor.Task) error {
		return ex.Run(func(*executor.Task) error { return nil })
	})
	if !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("nested Run = %v", err)
	}
}

func readOp(fd api.Handle, buf *buffer.Owned) op.Operation {
	return op.Read{Fd: fd, Buf: buf}
}

func TestCloseAbortsTasksSpawnedWhileDraining(t *testing.T) {
	d := fake.NewDriver()
	ex, err := executor.New(control.DefaultConfig(), executor.WithDriver(d), executor.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}
	var late *executor.JoinHandle
	parent := ex.Spawn(func(task *executor.Task) error {
		_, _, err := executor.Recv(task, 7, buffer.New(8))
		late = task.Spawn(func(c *executor.Task) error {
			_, _, err := executor.Recv(c, 8, buffer.New(8))
			return err
		})
		return err
	})
	err = ex.Run(func(task *executor.Task) error {
		task.Yield()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	closed := make(chan error, 1)
	go func() { closed <- ex.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	if !errors.Is(parent.Err(), api.ErrCancelled) {
		t.Fatalf("parent err = %v", parent.Err())
	}
	if late == nil || !late.Done() || !errors.Is(late.Err(), api.ErrCancelled) {
		t.Fatal("task spawned during Close was not cancelled")
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending = %d after Close", d.Pending())
	}
}

func TestVectoredHelpersReturnTypedBuffers(t *testing.T) {
	ex, d := newExecutor(t)
	d.Feed(3, []byte("header:body"))
	hdr, body := buffer.New(7), buffer.New(16)
	err := ex.Run(func(task *executor.Task) error {
		n, got, err := executor.ReadVectored(task, 3, []*buffer.Owned{hdr, body})
		if err != nil {
			return err
		}
		if n != 11 || len(got) != 2 || got[0] != hdr || got[1] != body {
			t.Errorf("ReadVectored n=%d bufs=%v", n, got)
		}
		parts := []*buffer.Owned{buffer.From([]byte("a")), buffer.From([]byte("bc"))}
		n, _, err = executor.WriteVectored(task, 4, parts)
		if n != 3 {
			t.Errorf("WriteVectored n=%d", n)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"header:", "body"}, []string{string(hdr.Bytes()), string(body.Bytes())}); diff != "" {
		t.Fatalf("scatter mismatch (-want +got):\n%s", diff)
	}
	if got := string(d.Written(4)); got != "abc" {
		t.Fatalf("written %q", got)
	}
}
