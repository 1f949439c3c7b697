// Package retry wraps external calls with transient-error retry and
// exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/genq/pkg/model"
)

// DefaultBase is the backoff unit. With the default, attempt n sleeps
// 2^n seconds: 2s, 4s, 8s, 16s, 32s.
const DefaultBase = time.Second

// Policy retries transient failures up to a per-task bound. The backoff
// before attempt n is Base << n.
type Policy struct {
	base   time.Duration
	logger *slog.Logger
}

// New creates a policy. base <= 0 selects DefaultBase.
func New(base time.Duration, logger *slog.Logger) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	return &Policy{
		base:   base,
		logger: logger.With("component", "retry"),
	}
}

// Do runs op, retrying transient errors until maxRetries is exhausted.
// attempts is the task's retry counter; it is incremented in place so
// the count survives across budget waits within the same task.
//
// Cancellation is never retried and never counts as an exhausted
// attempt: an interruption, including one during a backoff sleep,
// returns model.ErrCancelled.
func (p *Policy) Do(ctx context.Context, maxRetries int, attempts *int, op func(context.Context) error) error {
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || model.IsCancellation(err) {
			return model.ErrCancelled
		}
		if !model.IsTransient(err) {
			return err
		}
		if *attempts >= maxRetries {
			return &model.RetriesExhaustedError{Attempts: *attempts, Err: err}
		}
		*attempts++

		delay := p.base << *attempts
		p.logger.Info("transient error, backing off",
			"attempt", *attempts,
			"max_retries", maxRetries,
			"delay", delay.String(),
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return model.ErrCancelled
		}
	}
}

// sleep blocks for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
