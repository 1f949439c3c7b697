package engine

import (
	"context"
	"sync"

	"github.com/me/genq/pkg/model"
)

// TaskHandle is the promise for one submitted task. It settles exactly
// once: with a response, a failure, or model.ErrCancelled.
type TaskHandle struct {
	task   *model.Task
	ctx    context.Context
	cancel context.CancelFunc
	stream model.StreamFunc

	once sync.Once
	done chan struct{}
	resp *model.GenerationResponse
	err  error
}

// ID returns the task id.
func (h *TaskHandle) ID() string {
	return h.task.ID
}

// Behaviour returns the caller-supplied scheduling hint. The engine
// treats both behaviours identically.
func (h *TaskHandle) Behaviour() model.Behaviour {
	return h.task.Behaviour
}

// Done is closed when the task settles.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome. Valid only after Done is closed.
func (h *TaskHandle) Result() (*model.GenerationResponse, error) {
	return h.resp, h.err
}

// Wait blocks until the task settles or ctx expires.
func (h *TaskHandle) Wait(ctx context.Context) (*model.GenerationResponse, error) {
	select {
	case <-h.done:
		return h.resp, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel triggers the task's cancellation signal. Safe to call at any
// time; cancelling a settled task is a no-op.
func (h *TaskHandle) Cancel() {
	h.cancel()
}
