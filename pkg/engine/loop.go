package engine

import (
	"context"
	"errors"
	"time"

	"github.com/me/genq/pkg/model"
)

// run is the single drive goroutine: it pops tasks one at a time and
// drives each to settlement before touching the next. Started by New,
// stopped by Close. This is the only writer of e.current and the sole
// driver of the generating -> completed/failed transitions.
func (e *Engine) run() {
	defer close(e.doneCh)

	for {
		e.mu.Lock()
		t, ok := e.queue.Dequeue()
		var h *TaskHandle
		if ok {
			h = e.handles[t.ID]
			delete(e.handles, t.ID)
			e.current = h
		}
		e.mu.Unlock()

		if !ok {
			// Queue drained. The idle transition is conditional inside
			// the serialized mutator: a submission racing with the
			// drain keeps its queued status.
			e.store.Apply(func(s *model.GenerationState) {
				if e.queue.Len() == 0 && s.Status != model.StatusIdle {
					s.Status = model.StatusIdle
					s.QueueLength = 0
					s.Error = ""
					s.BudgetWaitEndTime = nil
				}
			})
			select {
			case <-e.stopCh:
				return
			case <-e.wake:
			}
			continue
		}

		e.drive(h)

		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}
}

// drive executes one task: JIT message resolution, budget gate,
// retry-wrapped generator call, settle, terminal broadcast.
func (e *Engine) drive(h *TaskHandle) {
	t := h.task

	// Cancelled while still queued (caller context): settle silently,
	// the task never starts.
	if h.ctx.Err() != nil {
		e.settle(h, nil, model.ErrCancelled)
		return
	}

	e.store.Apply(func(s *model.GenerationState) {
		s.Status = model.StatusGenerating
		s.QueueLength = e.queue.Len()
		s.Error = ""
		s.BudgetWaitEndTime = nil
	})
	now := time.Now().UTC()
	t.StartedAt = &now
	e.logger.Info("task started", "task_id", t.ID)
	if e.hooks.OnTaskStarted != nil {
		e.hooks.OnTaskStarted(t.ID)
	}

	prompt, err := t.Source.Resolve(h.ctx)
	if err != nil {
		if h.ctx.Err() != nil || model.IsCancellation(err) {
			e.settle(h, nil, model.ErrCancelled)
			return
		}
		e.fail(h, err)
		return
	}
	if prompt.Params != nil {
		t.Params = t.Params.Merge(*prompt.Params)
	}
	messages := prompt.Messages

	if e.hooks.BeforeGenerate != nil {
		e.hooks.BeforeGenerate(t.ID, messages)
	}

	if err := e.gate.Wait(h.ctx, t); err != nil {
		if model.IsCancellation(err) {
			e.settle(h, nil, model.ErrCancelled)
			return
		}
		e.fail(h, err)
		return
	}

	// The gate may have detoured through the waiting states; restore
	// generating before the external call.
	if e.store.State().Status != model.StatusGenerating {
		e.store.Apply(func(s *model.GenerationState) {
			s.Status = model.StatusGenerating
			s.BudgetWaitEndTime = nil
		})
	}

	var resp *model.GenerationResponse
	err = e.policy.Do(h.ctx, t.Params.MaxRetries, &t.RetryCount, func(ctx context.Context) error {
		r, genErr := e.generator.Generate(ctx, messages, t.Params, h.stream)
		if genErr != nil {
			return genErr
		}
		if r == nil {
			return model.Fatal(errors.New("generator returned nil response"))
		}
		resp = r
		return nil
	})
	if err != nil {
		if model.IsCancellation(err) {
			e.logger.Info("task cancelled", "task_id", t.ID)
			e.settle(h, nil, model.ErrCancelled)
			return
		}
		e.fail(h, err)
		return
	}

	e.logger.Info("task completed", "task_id", t.ID, "retries", t.RetryCount)
	e.settle(h, resp, nil)
	e.store.Apply(func(s *model.GenerationState) {
		s.Status = model.StatusCompleted
		s.QueueLength = e.queue.Len()
		s.Error = ""
	})
}

// fail settles the task as failed and broadcasts the failed status.
// One task's failure never blocks the queue: run advances immediately.
func (e *Engine) fail(h *TaskHandle, err error) {
	e.logger.Warn("task failed", "task_id", h.task.ID, "error", err)
	e.settle(h, nil, err)
	e.store.Apply(func(s *model.GenerationState) {
		s.Status = model.StatusFailed
		s.QueueLength = e.queue.Len()
		s.Error = err.Error()
	})
}

// settle resolves the task's promise exactly once and fires the
// OnTaskFinished hook.
func (e *Engine) settle(h *TaskHandle, resp *model.GenerationResponse, err error) {
	h.once.Do(func() {
		h.resp = resp
		h.err = err
		h.cancel()
		close(h.done)
		if e.hooks.OnTaskFinished != nil {
			e.hooks.OnTaskFinished(*h.task, resp, err)
		}
	})
}
