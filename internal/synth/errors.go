package synth

import (
	"errors"
	"fmt"
)

// Common synthesis errors
var (
	// ErrEngineClosed indicates the engine was used after Close
	ErrEngineClosed = errors.New("synthesis engine is closed")

	// ErrEmptyText indicates there was nothing to synthesize
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrTimeout indicates a synthesis request timed out
	ErrTimeout = errors.New("synthesis timed out")

	// ErrUnknownEngine indicates an unsupported engine kind was configured
	ErrUnknownEngine = errors.New("unknown synthesis engine")
)

// Error describes a failed engine operation.
type Error struct {
	Engine string
	Op     string
	Cause  error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Cause)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}
