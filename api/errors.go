// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-pipeline.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrChannelClosed   = errors.New("channel is closed")
	ErrNotRegistered   = errors.New("channel not registered")
	ErrNotSupported    = errors.New("operation not supported")
	ErrInvalidArgument = errors.New("invalid argument")
)

// BindFailure reports why a channel could not start listening.
type BindFailure struct {
	Reason string
	Cause  error
}

// NewBindFailure creates a bind failure with an optional cause.
func NewBindFailure(reason string, cause error) *BindFailure {
	return &BindFailure{Reason: reason, Cause: cause}
}

func (e *BindFailure) Error() string {
	if e.Cause == nil {
		return "bind failure: " + e.Reason
	}
	return fmt.Sprintf("bind failure: %s: %v", e.Reason, e.Cause)
}

func (e *BindFailure) Unwrap() error { return e.Cause }

// WriteFailure wraps the error the transport returned for a write.
type WriteFailure struct {
	Cause error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write failure: %v", e.Cause)
}

func (e *WriteFailure) Unwrap() error { return e.Cause }

// ConnectFailure wraps the error an outbound connect attempt ended with.
type ConnectFailure struct {
	Cause error
}

func (e *ConnectFailure) Error() string {
	return fmt.Sprintf("connect failure: %v", e.Cause)
}

func (e *ConnectFailure) Unwrap() error { return e.Cause }

// FatalError is the panic value for contract violations by calling code
// (double registration, buffer cursors out of bounds). Event loops re-raise
// it instead of recovering, so it terminates the process.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string { return "fatal: " + e.Message }

// Fatalf panics with a *FatalError.
func Fatalf(format string, args ...any) {
	panic(&FatalError{Message: fmt.Sprintf(format, args...)})
}
