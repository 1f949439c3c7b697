package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection reset" }
func (fakeNetError) Timeout() bool   { return false }
func (fakeNetError) Temporary() bool { return true }

var _ net.Error = fakeNetError{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled sentinel", ErrCancelled, false},
		{"bare context canceled", context.Canceled, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"net error", fakeNetError{}, true},
		{"wrapped net error", fmt.Errorf("chat: %w", fakeNetError{}), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"plain error", errors.New("bad prompt"), false},
		{"marked transient", Transient(errors.New("flaky")), true},
		{"marked fatal", Fatal(fakeNetError{}), false},
		{"empty source", ErrEmptySource, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(ErrCancelled) {
		t.Error("ErrCancelled should be a cancellation")
	}
	if !IsCancellation(fmt.Errorf("wait: %w", ErrCancelled)) {
		t.Error("wrapped ErrCancelled should be a cancellation")
	}
	// A provider surfacing context.Canceled on its own is an abort,
	// not a task cancellation; the scheduler normalizes real
	// cancellations to ErrCancelled.
	if IsCancellation(context.Canceled) {
		t.Error("bare context.Canceled should not be a cancellation")
	}
	if IsCancellation(errors.New("boom")) {
		t.Error("plain error should not be a cancellation")
	}
}

func TestRetriesExhaustedError(t *testing.T) {
	inner := errors.New("timeout")
	err := &RetriesExhaustedError{Attempts: 5, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("should unwrap to the last attempt's error")
	}
	var re *RetriesExhaustedError
	if !errors.As(fmt.Errorf("task: %w", err), &re) {
		t.Error("errors.As should find RetriesExhaustedError through wrapping")
	}
	if re.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", re.Attempts)
	}
}

func TestTransientNil(t *testing.T) {
	if Transient(nil) != nil || Fatal(nil) != nil {
		t.Error("wrapping nil should stay nil")
	}
}
