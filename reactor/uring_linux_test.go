//go:build linux

package reactor

import (
	"testing"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-aio/api"
)

// fullRing builds a ring without a kernel side whose submission queue has
// no free slot. Its fd is invalid, so any syscall fails with EBADF.
func fullRing(t *testing.T) *uring {
	var sqHead, sqTail, cqHead, cqTail uint32
	sqTail = 1
	return &uring{
		log:       zaptest.NewLogger(t),
		fd:        -1,
		sqHead:    &sqHead,
		sqTail:    &sqTail,
		sqEntries: 1,
		sqArray:   make([]uint32, 1),
		sqes:      make([]uringSQE, 1),
		cqHead:    &cqHead,
		cqTail:    &cqTail,
		cqes:      make([]uringCQE, 1),
		inKernel:  1,
		backlog:   queue.New(),
		timespecs: make(map[uint64]*kernelTimespec),
	}
}

func TestArmTimeoutReportsFullRing(t *testing.T) {
	u := fullRing(t)
	armed, err := u.armTimeout(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if armed {
		t.Fatal("timeout armed on a full submission ring")
	}
	if len(u.timespecs) != 0 || u.toSubmit != 0 {
		t.Fatalf("timespecs = %d, toSubmit = %d", len(u.timespecs), u.toSubmit)
	}
}

func TestPollWithoutTimerSlotDoesNotWait(t *testing.T) {
	u := fullRing(t)
	start := time.Now()
	out, err := u.poll(time.Hour, func(api.Key) *inflight { return nil })
	if err != nil {
		t.Fatalf("poll entered the kernel: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("completions = %d", len(out))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("poll blocked for %v", elapsed)
	}
}
