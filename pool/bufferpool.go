// File: pool/bufferpool.go
// Package pool implements lock-free buffer pooling with size class support.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-aio/core/buffer"
	"github.com/momentics/hioload-aio/core/concurrency"
)

// Predefined (power-of-two) buffer size classes (bytes).
var sizeClasses = [...]int{
	512,
	2 * 1024,
	4 * 1024,
	8 * 1024,
	16 * 1024,
	32 * 1024,
	64 * 1024,
	128 * 1024,
	256 * 1024,
	1024 * 1024,
}

const defaultClassCapacity = 1024

// classFor returns the index of the smallest class >= size, or -1 when size
// exceeds the largest class.
func classFor(size int) int {
	for i, c := range sizeClasses {
		if size <= c {
			return i
		}
	}
	return -1
}

// Stats reports pool activity counters.
type Stats struct {
	TotalAlloc uint64
	Reused     uint64
	Returned   uint64
	Dropped    uint64
}

// slab keeps idle buffers of one size class.
type slab struct {
	size  int
	queue *concurrency.LockFreeQueue[*buffer.Owned]
}

// BufferPool hands out *buffer.Owned grouped by capacity class. It is safe
// for concurrent use, so executors on different threads may share one pool.
type BufferPool struct {
	slabs [len(sizeClasses)]slab

	totalAlloc atomic.Uint64
	reused     atomic.Uint64
	returned   atomic.Uint64
	dropped    atomic.Uint64
}

// New creates a pool that keeps up to perClass idle buffers in each class.
func New(perClass int) *BufferPool {
	if perClass <= 0 {
		perClass = defaultClassCapacity
	}
	p := &BufferPool{}
	for i, size := range sizeClasses {
		p.slabs[i] = slab{size: size, queue: concurrency.NewLockFreeQueue[*buffer.Owned](perClass)}
	}
	return p
}

// Get returns an empty buffer with capacity >= size. Requests larger than the
// biggest class are allocated exactly and never pooled.
func (p *BufferPool) Get(size int) *buffer.Owned {
	i := classFor(size)
	if i < 0 {
		p.totalAlloc.Add(1)
		return buffer.New(size)
	}
	if b, ok := p.slabs[i].queue.Dequeue(); ok {
		p.reused.Add(1)
		return b
	}
	p.totalAlloc.Add(1)
	return buffer.New(p.slabs[i].size)
}

// Put recycles b. Buffers still owned by an operation, or whose capacity is
// not a class size, are dropped.
func (p *BufferPool) Put(b *buffer.Owned) {
	if b == nil || b.InFlight() {
		p.dropped.Add(1)
		return
	}
	i := classFor(b.Cap())
	if i < 0 || sizeClasses[i] != b.Cap() {
		p.dropped.Add(1)
		return
	}
	b.Reset()
	if p.slabs[i].queue.Enqueue(b) {
		p.returned.Add(1)
		return
	}
	p.dropped.Add(1)
}

// Stats returns a snapshot of the pool counters.
func (p *BufferPool) Stats() Stats {
	return Stats{
		TotalAlloc: p.totalAlloc.Load(),
		Reused:     p.reused.Load(),
		Returned:   p.returned.Load(),
		Dropped:    p.dropped.Load(),
	}
}

var defaultPool = New(defaultClassCapacity)

// Default returns the process-wide pool.
func Default() *BufferPool { return defaultPool }
