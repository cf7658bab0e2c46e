// File: executor/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package executor

import (
	"time"

	"github.com/google/btree"
)

type timerKind uint8

const (
	// timerSleep resumes a task parked in Sleep.
	timerSleep timerKind = iota
	// timerDeadline cancels the operation of a task parked in SubmitTimeout.
	timerDeadline
)

type timerEntry struct {
	deadline time.Time
	seq      uint64
	kind     timerKind
	task     *Task
}

func timerLess(a, b *timerEntry) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.seq < b.seq
}

// timerSet orders pending timers by deadline, then by arming order.
type timerSet struct {
	tree *btree.BTreeG[*timerEntry]
	seq  uint64
}

func newTimerSet() *timerSet {
	return &timerSet{tree: btree.NewG[*timerEntry](16, timerLess)}
}

func (s *timerSet) arm(deadline time.Time, kind timerKind, t *Task) *timerEntry {
	s.seq++
	e := &timerEntry{deadline: deadline, seq: s.seq, kind: kind, task: t}
	s.tree.ReplaceOrInsert(e)
	return e
}

func (s *timerSet) disarm(e *timerEntry) {
	if e != nil {
		s.tree.Delete(e)
	}
}

func (s *timerSet) len() int { return s.tree.Len() }

// next returns the earliest deadline.
func (s *timerSet) next() (time.Time, bool) {
	e, ok := s.tree.Min()
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// expire removes and returns every timer due at or before now, earliest first.
func (s *timerSet) expire(now time.Time) []*timerEntry {
	var due []*timerEntry
	for {
		e, ok := s.tree.Min()
		if !ok || e.deadline.After(now) {
			return due
		}
		s.tree.DeleteMin()
		due = append(due, e)
	}
}

// pollTimeout converts the wait until deadline into a driver timeout rounded
// up to res.
func pollTimeout(now, deadline time.Time, res time.Duration) time.Duration {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	if res > 1 {
		d = (d + res - 1) / res * res
	}
	return d
}
