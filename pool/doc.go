// Package pool
// Author: momentics <momentics@gmail.com>
//
// Size-classed, lock-free pooling of owned IO buffers. Buffers come back from
// completions and are recycled here instead of being reallocated for every
// operation. See bufferpool.go for implementation details.
package pool
