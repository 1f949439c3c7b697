// Package budget gates task execution on the externally enforced
// output-token allowance.
package budget

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/genq/internal/retry"
	"github.com/me/genq/internal/statestore"
	"github.com/me/genq/pkg/model"
)

// DefaultPollInterval is the allowance re-check cadence while a task is
// waiting_for_budget.
const DefaultPollInterval = 5 * time.Second

// AllowanceFunc returns the output-token budget currently available.
type AllowanceFunc func(ctx context.Context) (int, error)

// Gate decides whether a pending task may proceed. Shortfalls usually
// need a user gesture on the host platform, so the gate first parks the
// task in waiting_for_user, then polls the allowance in
// waiting_for_budget once the interaction signal arrives.
type Gate struct {
	allowance AllowanceFunc
	store     *statestore.Store
	policy    *retry.Policy
	interact  <-chan struct{}
	poll      time.Duration
	logger    *slog.Logger
}

// New creates a gate. interact delivers user-interaction signals and
// must be buffered so a signal sent while the gate is between the
// waiting_for_user broadcast and its receive is latched rather than
// dropped. poll <= 0 selects DefaultPollInterval.
func New(allowance AllowanceFunc, store *statestore.Store, policy *retry.Policy, interact <-chan struct{}, poll time.Duration, logger *slog.Logger) *Gate {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Gate{
		allowance: allowance,
		store:     store,
		policy:    policy,
		interact:  interact,
		poll:      poll,
		logger:    logger.With("component", "budget"),
	}
}

// Wait blocks until the allowance covers the task's MinTokens, the
// task is cancelled, or the allowance query fails fatally. On
// cancellation it returns model.ErrCancelled at whichever suspension
// point the signal fired.
//
// The waiting_for_user and waiting_for_budget transitions are
// broadcast here; the caller owns the transition back to generating.
func (g *Gate) Wait(ctx context.Context, task *model.Task) error {
	allowed, err := g.query(ctx, task)
	if err != nil {
		return err
	}
	if allowed >= task.Params.MinTokens {
		return nil
	}

	g.logger.Info("allowance short, waiting for user",
		"task_id", task.ID,
		"allowed", allowed,
		"min_tokens", task.Params.MinTokens,
	)

	// Discard a gesture latched before this wait began: only an
	// interaction after waiting_for_user is announced may satisfy it.
	select {
	case <-g.interact:
	default:
	}

	g.store.Apply(func(s *model.GenerationState) {
		s.Status = model.StatusWaitingForUser
	})

	select {
	case <-ctx.Done():
		return model.ErrCancelled
	case <-g.interact:
	}

	now := time.Now().UTC()
	g.store.Apply(func(s *model.GenerationState) {
		s.Status = model.StatusWaitingForBudget
		s.BudgetWaitEndTime = &now
	})

	for {
		allowed, err := g.query(ctx, task)
		if err != nil {
			return err
		}
		if allowed >= task.Params.MinTokens {
			g.logger.Info("allowance satisfied", "task_id", task.ID, "allowed", allowed)
			return nil
		}
		if err := sleep(ctx, g.poll); err != nil {
			return model.ErrCancelled
		}
	}
}

// query fetches the allowance under the retry policy. Query failures
// are treated as transient and share the task's retry budget.
func (g *Gate) query(ctx context.Context, task *model.Task) (int, error) {
	var allowed int
	err := g.policy.Do(ctx, task.Params.MaxRetries, &task.RetryCount, func(ctx context.Context) error {
		n, err := g.allowance(ctx)
		if err != nil {
			// The policy checks the task context itself, so every
			// query failure classifies transient here.
			return model.Transient(err)
		}
		allowed = n
		return nil
	})
	return allowed, err
}

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
