package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/me/genq/pkg/model"
)

func TestSequentialFIFO(t *testing.T) {
	var mu sync.Mutex
	var executed []string

	gen := GeneratorFunc(func(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error) {
		mu.Lock()
		executed = append(executed, messages[0].Content)
		mu.Unlock()
		return &model.GenerationResponse{Choices: []model.Choice{{Content: "ok"}}}, nil
	})
	e := New(gen, fullAllowance, WithConfig(testConfig()))
	defer e.Close()

	var handles []*TaskHandle
	for _, name := range []string{"first", "second", "third", "fourth"} {
		h, err := e.Submit(context.Background(), userMsg(name), model.Params{}, nil, model.BehaviourBlocking)
		if err != nil {
			t.Fatalf("Submit %s: %v", name, err)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		if _, err := h.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third", "fourth"}
	for i := range want {
		if executed[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", executed, want)
		}
	}
}

func TestSingleFlight(t *testing.T) {
	gen := newBlockingGenerator()
	e := New(gen, fullAllowance, WithConfig(testConfig()))
	defer e.Close()

	var handles []*TaskHandle
	for i := 0; i < 4; i++ {
		h, _ := e.Submit(context.Background(), userMsg("x"), model.Params{}, nil, model.BehaviourBlocking)
		handles = append(handles, h)
	}
	for range handles {
		<-gen.started
		gen.proceed <- struct{}{}
	}
	for _, h := range handles {
		if _, err := h.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if gen.overlap {
		t.Error("generator calls overlapped; tasks must run one at a time")
	}
}

func TestTwoTaskBroadcastSequence(t *testing.T) {
	gen := newBlockingGenerator()
	e := New(gen, fullAllowance, WithConfig(testConfig()))
	defer e.Close()

	rec := &recorder{}
	e.Subscribe(rec.listen)

	a, _ := e.Submit(context.Background(), userMsg("a"), model.Params{}, nil, model.BehaviourBlocking)
	<-gen.started
	// B arrives while A is generating: only the queue length changes.
	b, _ := e.Submit(context.Background(), userMsg("b"), model.Params{}, nil, model.BehaviourBlocking)

	gen.proceed <- struct{}{}
	gen.proceed <- struct{}{}
	<-gen.started
	a.Wait(context.Background())
	b.Wait(context.Background())
	waitRecorded(t, rec, model.StatusIdle)

	got := rec.statuses()
	want := []model.Status{
		model.StatusIdle,       // subscription replay
		model.StatusQueued,     // A submitted
		model.StatusGenerating, // A popped
		model.StatusGenerating, // B submitted, queue length 1
		model.StatusCompleted,  // A done
		model.StatusGenerating, // B popped, no idle detour
		model.StatusCompleted,  // B done
		model.StatusIdle,       // queue drained
	}
	if len(got) != len(want) {
		t.Fatalf("broadcasts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("broadcast %d = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}

	// The second generating broadcast is the queue growing under A.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.states[3].QueueLength != 1 {
		t.Errorf("queue length during A with B pending = %d, want 1", rec.states[3].QueueLength)
	}
	if rec.states[7].QueueLength != 0 {
		t.Errorf("final queue length = %d, want 0", rec.states[7].QueueLength)
	}
}

func TestRetryBoundAndFailure(t *testing.T) {
	var calls atomic.Int64
	gen := GeneratorFunc(func(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error) {
		calls.Add(1)
		return nil, model.Transient(errors.New("service unavailable"))
	})
	e := New(gen, fullAllowance, WithConfig(testConfig()))
	defer e.Close()

	rec := &recorder{}
	e.Subscribe(rec.listen)

	h, _ := e.Submit(context.Background(), userMsg("x"), model.Params{}, nil, model.BehaviourBlocking)
	_, err := h.Wait(context.Background())

	var re *model.RetriesExhaustedError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetriesExhaustedError, got %v", err)
	}
	if re.Attempts != model.DefaultMaxRetries {
		t.Errorf("Attempts = %d, want %d", re.Attempts, model.DefaultMaxRetries)
	}
	if got := calls.Load(); got != int64(model.DefaultMaxRetries)+1 {
		t.Errorf("generator called %d times, want %d", got, model.DefaultMaxRetries+1)
	}

	waitRecorded(t, rec, model.StatusIdle)
	rec.mu.Lock()
	var failed *model.GenerationState
	for i := range rec.states {
		if rec.states[i].Status == model.StatusFailed {
			failed = &rec.states[i]
		}
	}
	rec.mu.Unlock()
	if failed == nil {
		t.Fatal("no failed broadcast")
	}
	if failed.Error == "" {
		t.Error("failed broadcast should carry the error message")
	}
	// The drain back to idle clears the error.
	if s := e.State(); s.Status != model.StatusIdle || s.Error != "" {
		t.Errorf("final state = %+v, want clean idle", s)
	}
}

func TestFailureDoesNotBlockQueue(t *testing.T) {
	var calls atomic.Int64
	gen := GeneratorFunc(func(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error) {
		if calls.Add(1) == 1 {
			return nil, model.Fatal(errors.New("rejected"))
		}
		return &model.GenerationResponse{Choices: []model.Choice{{Content: "ok"}}}, nil
	})
	e := New(gen, fullAllowance, WithConfig(testConfig()))
	defer e.Close()

	a, _ := e.Submit(context.Background(), userMsg("a"), model.Params{}, nil, model.BehaviourBlocking)
	b, _ := e.Submit(context.Background(), userMsg("b"), model.Params{}, nil, model.BehaviourBlocking)

	if _, err := a.Wait(context.Background()); err == nil {
		t.Fatal("first task should fail")
	}
	resp, err := b.Wait(context.Background())
	if err != nil {
		t.Fatalf("second task should succeed, got %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("Text() = %q", resp.Text())
	}
}

func TestBudgetGateSequence(t *testing.T) {
	var allowed atomic.Int64
	allowance := func(ctx context.Context) (int, error) { return int(allowed.Load()), nil }

	e := New(okGenerator("ok"), allowance, WithConfig(testConfig()))
	defer e.Close()

	rec := &recorder{}
	e.Subscribe(rec.listen)

	h, _ := e.Submit(context.Background(), userMsg("x"), model.Params{MinTokens: 10}, nil, model.BehaviourBlocking)

	waitRecorded(t, rec, model.StatusWaitingForUser)
	e.UserInteraction()
	waitRecorded(t, rec, model.StatusWaitingForBudget)

	allowed.Store(100)
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	waitRecorded(t, rec, model.StatusIdle)

	got := rec.statuses()
	want := []model.Status{
		model.StatusIdle,
		model.StatusQueued,
		model.StatusGenerating,
		model.StatusWaitingForUser,
		model.StatusWaitingForBudget,
		model.StatusGenerating,
		model.StatusCompleted,
		model.StatusIdle,
	}
	if len(got) != len(want) {
		t.Fatalf("broadcasts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("broadcast %d = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.states[4].BudgetWaitEndTime == nil {
		t.Error("waiting_for_budget broadcast should carry the wait timestamp")
	}
	if rec.states[5].BudgetWaitEndTime != nil {
		t.Error("returning to generating should clear the wait timestamp")
	}
}

func TestSingleInteractionFromSubscriber(t *testing.T) {
	var allowed atomic.Int64
	allowance := func(ctx context.Context) (int, error) { return int(allowed.Load()), nil }

	e := New(okGenerator("ok"), allowance, WithConfig(testConfig()))
	defer e.Close()

	// The canonical UI flow: a subscriber reacts to waiting_for_user
	// by signalling exactly once, from inside the broadcast. The latch
	// must hold that signal until the gate starts listening.
	var once sync.Once
	e.Subscribe(func(s model.GenerationState) {
		if s.Status == model.StatusWaitingForUser {
			once.Do(func() {
				allowed.Store(100)
				e.UserInteraction()
			})
		}
	})

	h, _ := e.Submit(context.Background(), userMsg("x"), model.Params{MinTokens: 10}, nil, model.BehaviourBlocking)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("task never advanced past waiting_for_user: %v", err)
	}
}

func TestProviderContextCanceledRetried(t *testing.T) {
	var calls atomic.Int64
	gen := GeneratorFunc(func(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error) {
		if calls.Add(1) == 1 {
			// An inner abort surfacing as context.Canceled while the
			// task itself is live.
			return nil, context.Canceled
		}
		return &model.GenerationResponse{Choices: []model.Choice{{Content: "ok"}}}, nil
	})
	e := New(gen, fullAllowance, WithConfig(testConfig()))
	defer e.Close()

	h, _ := e.Submit(context.Background(), userMsg("x"), model.Params{}, nil, model.BehaviourBlocking)
	resp, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("abort should retry, not settle cancelled: %v", err)
	}
	if resp.Text() != "ok" || calls.Load() != 2 {
		t.Errorf("Text = %q, calls = %d", resp.Text(), calls.Load())
	}
}

func TestCancelAllWhileWaitingForBudget(t *testing.T) {
	allowance := func(ctx context.Context) (int, error) { return 0, nil }
	e := New(okGenerator("ok"), allowance, WithConfig(testConfig()))
	defer e.Close()

	rec := &recorder{}
	e.Subscribe(rec.listen)

	a, _ := e.Submit(context.Background(), userMsg("a"), model.Params{MinTokens: 10}, nil, model.BehaviourBlocking)
	b, _ := e.Submit(context.Background(), userMsg("b"), model.Params{MinTokens: 10}, nil, model.BehaviourBlocking)

	waitRecorded(t, rec, model.StatusWaitingForUser)
	e.UserInteraction()
	waitRecorded(t, rec, model.StatusWaitingForBudget)

	e.CancelAll()

	if _, err := a.Wait(context.Background()); !errors.Is(err, model.ErrCancelled) {
		t.Errorf("active task: expected ErrCancelled, got %v", err)
	}
	if _, err := b.Wait(context.Background()); !errors.Is(err, model.ErrCancelled) {
		t.Errorf("queued task: expected ErrCancelled, got %v", err)
	}

	waitRecorded(t, rec, model.StatusIdle)
	s := e.State()
	if s.QueueLength != 0 || s.BudgetWaitEndTime != nil || s.Error != "" {
		t.Errorf("final state = %+v, want clean idle", s)
	}
	for _, st := range rec.statuses() {
		if st == model.StatusFailed {
			t.Error("cancellation must not broadcast a failed status")
		}
	}
}

func TestRetryCountSharedAcrossGateAndGenerate(t *testing.T) {
	var allowanceCalls atomic.Int64
	allowance := func(ctx context.Context) (int, error) {
		if allowanceCalls.Add(1) <= 2 {
			return 0, errors.New("allowance endpoint down")
		}
		return 1 << 20, nil
	}

	var genAttempts atomic.Int64
	gen := GeneratorFunc(func(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error) {
		genAttempts.Add(1)
		return nil, model.Transient(errors.New("service unavailable"))
	})

	e := New(gen, allowance, WithConfig(testConfig()))
	defer e.Close()

	// Two retries burned on the allowance query leave three for the
	// generator: four calls total before exhaustion.
	h, _ := e.Submit(context.Background(), userMsg("x"), model.Params{MaxRetries: 5}, nil, model.BehaviourBlocking)
	_, err := h.Wait(context.Background())

	var re *model.RetriesExhaustedError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetriesExhaustedError, got %v", err)
	}
	if re.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", re.Attempts)
	}
	if got := genAttempts.Load(); got != 4 {
		t.Errorf("generator called %d times, want 4", got)
	}
}
