package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// Sentinel errors.
var (
	// ErrCancelled settles a task whose cancellation signal fired. It is
	// distinct from failure: the engine does not broadcast a failed
	// status for it.
	ErrCancelled = errors.New("task cancelled")

	// ErrTaskNotFound is returned when a task id matches neither the
	// queue nor the currently executing task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrEmptySource rejects a submission with neither messages nor a factory.
	ErrEmptySource = errors.New("empty message source")
)

// transientError marks an error as retryable regardless of its type.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// fatalError marks an error as non-retryable regardless of its type.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so that IsTransient reports false for it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsCancellation reports whether err represents an explicit task
// cancellation. The scheduler normalizes every cancellation to
// ErrCancelled; a bare context.Canceled surfacing from a provider call
// while the task's own context is live is an abort, not a cancellation,
// and classifies as transient. Whether the task's context fired is
// checked where that context is in hand, not here.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsTransient classifies err for the retry policy. Network errors,
// timeouts, truncated responses and aborts without an explicit task
// cancellation are transient; validation errors, ErrCancelled and
// anything explicitly marked Fatal are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) {
		return false
	}
	var fe *fatalError
	if errors.As(err, &fe) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

// RetriesExhaustedError is returned when a task keeps failing
// transiently past its retry budget. It unwraps to the last attempt's
// error.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}
