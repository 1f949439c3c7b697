// Package engine implements a sequential generation scheduler. Tasks
// are executed one at a time, in submission order, behind a
// token-budget gate, with transient failures retried under exponential
// backoff and every state transition broadcast to subscribers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/genq/internal/budget"
	"github.com/me/genq/internal/queue"
	"github.com/me/genq/internal/retry"
	"github.com/me/genq/internal/statestore"
	"github.com/me/genq/pkg/model"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("engine closed")

// Generator performs the actual model call. Implementations must honor
// ctx cancellation promptly and may stream intermediate choices through
// stream (nil when the caller wants no streaming).
type Generator interface {
	Generate(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error) {
	return f(ctx, messages, params, stream)
}

// Hooks are single-slot lifecycle callbacks, set at construction. All
// of them are optional and invoked from the drive goroutine.
type Hooks struct {
	// OnStateChange receives the full snapshot after every transition,
	// after the subscriber broadcast.
	OnStateChange func(model.GenerationState)

	// OnTaskStarted fires when a task is popped and begins executing.
	OnTaskStarted func(id string)

	// BeforeGenerate fires after message resolution, before the budget
	// gate and the external call.
	BeforeGenerate func(id string, messages []model.Message)

	// OnTaskFinished fires once per task when its promise settles,
	// with a copy of the task record. err is nil on success,
	// model.ErrCancelled on cancellation.
	OnTaskFinished func(task model.Task, resp *model.GenerationResponse, err error)
}

// Config holds engine tuning knobs.
type Config struct {
	// PollInterval is the allowance re-check cadence in waiting_for_budget.
	PollInterval time.Duration

	// BackoffBase is the retry backoff unit; attempt n sleeps BackoffBase << n.
	BackoffBase time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: budget.DefaultPollInterval,
		BackoffBase:  retry.DefaultBase,
	}
}

// Option configures optional Engine dependencies.
type Option func(*Engine)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithHooks installs the lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine is the scheduler instance. All exported methods are safe for
// concurrent use; task bodies never overlap.
type Engine struct {
	generator Generator
	allowance budget.AllowanceFunc
	cfg       Config
	hooks     Hooks
	logger    *slog.Logger

	store  *statestore.Store
	queue  *queue.Queue
	policy *retry.Policy
	gate   *budget.Gate

	interact chan struct{}
	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	handles map[string]*TaskHandle // queued tasks by id
	current *TaskHandle
	closed  bool
}

// New creates an engine and starts its drive goroutine. generator
// performs the external model call; allowance reports the output-token
// budget currently available.
func New(generator Generator, allowance budget.AllowanceFunc, opts ...Option) *Engine {
	e := &Engine{
		generator: generator,
		allowance: allowance,
		cfg:       DefaultConfig(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		queue:     queue.New(),
		interact:  make(chan struct{}, 1),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		handles:   make(map[string]*TaskHandle),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("component", "engine")
	e.store = statestore.New(e.hooks.OnStateChange, e.logger)
	e.policy = retry.New(e.cfg.BackoffBase, e.logger)
	e.gate = budget.New(allowance, e.store, e.policy, e.interact, e.cfg.PollInterval, e.logger)

	go e.run()
	return e
}

// Submit enqueues a generation task and returns its handle. The task's
// cancellation is tied to ctx: cancelling ctx cancels the task whether
// queued or executing. stream may be nil.
func (e *Engine) Submit(ctx context.Context, source model.MessageSource, params model.Params, stream model.StreamFunc, behaviour model.Behaviour) (*TaskHandle, error) {
	if source.IsZero() {
		return nil, model.ErrEmptySource
	}
	params = params.WithDefaults()
	if behaviour == "" {
		behaviour = model.BehaviourBlocking
	}
	id := params.TaskID
	if id == "" {
		id = "task_" + uuid.New().String()
	}

	tctx, cancel := context.WithCancel(ctx)
	h := &TaskHandle{
		task: &model.Task{
			ID:        id,
			Source:    source,
			Params:    params,
			Behaviour: behaviour,
			CreatedAt: time.Now().UTC(),
		},
		ctx:    tctx,
		cancel: cancel,
		stream: stream,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	if _, dup := e.handles[id]; dup || (e.current != nil && e.current.task.ID == id) {
		e.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("duplicate task id %q", id)
	}
	e.handles[id] = h
	e.queue.Enqueue(h.task)
	e.mu.Unlock()

	e.logger.Info("task enqueued", "task_id", id, "behaviour", behaviour)

	// Merge the queue growth and, when the engine was idle, the
	// idle -> queued transition into a single broadcast.
	e.store.Apply(func(s *model.GenerationState) {
		s.QueueLength = e.queue.Len()
		if s.Status == model.StatusIdle {
			s.Status = model.StatusQueued
		}
	})

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return h, nil
}

// Generate enqueues a blocking task built from literal messages and
// waits for its result.
func (e *Engine) Generate(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error) {
	h, err := e.Submit(ctx, model.FromMessages(messages...), params, stream, model.BehaviourBlocking)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// State returns the current snapshot.
func (e *Engine) State() model.GenerationState {
	return e.store.State()
}

// Subscribe registers a state listener. The listener is invoked once
// immediately with the current snapshot, then on every transition. The
// returned function removes it.
func (e *Engine) Subscribe(fn func(model.GenerationState)) func() {
	return e.store.Subscribe(fn)
}

// TaskStatus reports whether a task is queued, processing, or unknown.
func (e *Engine) TaskStatus(id string) model.TaskStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && e.current.task.ID == id {
		return model.TaskStatusProcessing
	}
	if e.queue.Contains(id) {
		return model.TaskStatusQueued
	}
	return model.TaskStatusNotFound
}

// CancelQueued removes a queued task and settles its promise as
// cancelled. Returns true when the task was removed or was already
// absent; false only when the task is currently executing (use its
// handle or CancelAll for that).
func (e *Engine) CancelQueued(id string) bool {
	e.mu.Lock()
	if e.current != nil && e.current.task.ID == id {
		e.mu.Unlock()
		return false
	}
	_, removed := e.queue.Remove(id)
	var h *TaskHandle
	if removed {
		h = e.handles[id]
		delete(e.handles, id)
	}
	e.mu.Unlock()

	if h != nil {
		e.logger.Info("queued task cancelled", "task_id", id)
		e.settle(h, nil, model.ErrCancelled)
		e.store.Apply(func(s *model.GenerationState) {
			s.QueueLength = e.queue.Len()
		})
	}
	return true
}

// CancelAll clears the queue and cancels the active task, if any. All
// affected promises settle as cancelled.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	cleared := e.queue.Clear()
	var hs []*TaskHandle
	for _, t := range cleared {
		if h, ok := e.handles[t.ID]; ok {
			hs = append(hs, h)
			delete(e.handles, t.ID)
		}
	}
	cur := e.current
	e.mu.Unlock()

	e.logger.Info("cancel all", "cleared", len(hs), "active", cur != nil)

	for _, h := range hs {
		e.settle(h, nil, model.ErrCancelled)
	}
	if len(hs) > 0 {
		e.store.Apply(func(s *model.GenerationState) {
			s.QueueLength = e.queue.Len()
		})
	}
	if cur != nil {
		cur.cancel()
	}
}

// UserInteraction advances a task parked in waiting_for_user. The
// signal is latched, so a gesture fired from inside the
// waiting_for_user broadcast itself, before the gate has begun
// listening, still lands. A gesture delivered while no task is
// waiting is held for the next wait until the gate discards it as
// stale.
func (e *Engine) UserInteraction() {
	select {
	case e.interact <- struct{}{}:
		e.logger.Debug("user interaction delivered")
	default:
	}
}

// Close cancels everything in flight and stops the drive goroutine.
// Subsequent Submit calls fail with ErrClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.CancelAll()
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}
