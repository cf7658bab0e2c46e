// File: executor/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package executor

import (
	"fmt"

	"github.com/momentics/hioload-aio/api"
)

// registry maps in-flight keys to the task parked on them. An entry lives
// until the driver reports the key's completion, including after Abort.
type registry struct {
	m map[api.Key]*Task
}

func newRegistry() *registry {
	return &registry{m: make(map[api.Key]*Task)}
}

func (r *registry) insert(key api.Key, t *Task) {
	if _, dup := r.m[key]; dup {
		panic(fmt.Sprintf("executor: key %d registered twice", key))
	}
	r.m[key] = t
}

func (r *registry) take(key api.Key) (*Task, bool) {
	t, ok := r.m[key]
	if ok {
		delete(r.m, key)
	}
	return t, ok
}

func (r *registry) len() int { return len(r.m) }

// drain removes every entry and returns the parked tasks.
func (r *registry) drain() map[api.Key]*Task {
	out := r.m
	r.m = make(map[api.Key]*Task)
	return out
}
