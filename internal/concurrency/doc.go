// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread ownership helpers for executor loops: locking the loop goroutine to
// its OS thread and optionally pinning that thread to one CPU.
package concurrency
