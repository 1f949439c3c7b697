// Package statestore owns the engine's GenerationState snapshot and its
// broadcast to subscribers.
package statestore

import (
	"log/slog"
	"sync"

	"github.com/me/genq/pkg/model"
)

// Listener receives the full state snapshot after every transition.
type Listener func(model.GenerationState)

// Store is the single source of truth for the engine state. Every
// mutation is broadcast synchronously, in registration order, with the
// full resulting snapshot. Broadcasts are ordered and never coalesced:
// a single drainer delivers queued transitions one at a time, so no
// two transitions interleave their notifications. Listeners may call
// back into Apply; the nested transition is queued and delivered after
// the in-flight one, in order.
type Store struct {
	mu    sync.Mutex
	state model.GenerationState
	subs  []subscriber
	next  int

	// pending holds broadcast-ordered snapshots awaiting delivery;
	// notifying marks the goroutine currently draining them.
	pending   []broadcast
	notifying bool

	onChange Listener
	logger   *slog.Logger
}

type subscriber struct {
	id int
	fn Listener
}

// broadcast pairs a snapshot with the subscriber set registered when
// the transition happened, so listeners added during a broadcast never
// receive it.
type broadcast struct {
	state model.GenerationState
	subs  []subscriber
}

// New creates a store in the idle state. onChange, if non-nil, is the
// single lifecycle hook invoked after the subscriber broadcast.
func New(onChange Listener, logger *slog.Logger) *Store {
	return &Store{
		state:    model.GenerationState{Status: model.StatusIdle},
		onChange: onChange,
		logger:   logger.With("component", "state"),
	}
}

// State returns the current snapshot.
func (s *Store) State() model.GenerationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply mutates a copy of the current state and broadcasts the result.
// The mutation is a merge: fields the mutator does not touch keep their
// value. Subscribers registered while the broadcast runs do not receive
// it. When called from inside a listener, the new transition is
// delivered by the outer broadcast before it returns.
func (s *Store) Apply(mutate func(*model.GenerationState)) {
	s.mu.Lock()
	prev := s.state
	next := prev
	mutate(&next)
	if next.Equal(prev) {
		// Nothing observable changed; broadcasting an identical
		// snapshot would look like a phantom transition.
		s.mu.Unlock()
		return
	}
	s.state = next
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.pending = append(s.pending, broadcast{state: next, subs: subs})
	if s.notifying {
		// A drain is already delivering; it picks this one up next.
		s.mu.Unlock()
		return
	}
	s.notifying = true

	for len(s.pending) > 0 {
		b := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.logger.Debug("state", "status", b.state.Status, "queue_length", b.state.QueueLength)
		for _, sub := range b.subs {
			sub.fn(b.state)
		}
		if s.onChange != nil {
			s.onChange(b.state)
		}

		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
}

// Subscribe registers a listener and invokes it once, immediately, with
// the current snapshot so late subscribers are never out of sync. The
// returned function removes the listener.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	current := s.state
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}
