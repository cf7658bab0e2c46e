// File: executor/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package executor runs cooperative tasks on top of a completion driver.
//
// One executor owns one driver and is driven from one goroutine. Tasks are
// goroutines that take turns holding a baton: exactly one of them, or the
// executor loop, runs at a time. A task gives the baton back when it submits
// an operation, sleeps, yields, joins another task or returns. The loop then
// polls the driver and resumes whichever task owns each completion.
package executor
