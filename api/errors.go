// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-aio.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrCancelled         = errors.New("operation cancelled")
	ErrDriverClosed      = errors.New("driver is closed")
	ErrDriverFatal       = errors.New("driver failed")
	ErrExecutorClosed    = errors.New("executor is closed")
	ErrBufferInFlight    = errors.New("buffer is owned by an in-flight operation")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNotSupported      = errors.New("operation not supported")
	ErrStalled           = errors.New("executor stalled: no runnable task and no pending work")
	ErrTaskPanicked      = errors.New("task panicked")
	ErrTimeout           = errors.New("operation timed out")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeNotSupported
	ErrCodeBufferInFlight
	ErrCodeClosed
	ErrCodeInternal
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeInvalidArgument:   ErrInvalidArgument,
	ErrCodeResourceExhausted: ErrResourceExhausted,
	ErrCodeNotSupported:      ErrNotSupported,
	ErrCodeBufferInFlight:    ErrBufferInFlight,
	ErrCodeClosed:            ErrDriverClosed,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is reports whether target is the sentinel error matching e.Code.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
