// Package queue implements the in-memory FIFO of pending generation
// tasks. Order is total: list position is the enqueue sequence.
package queue

import (
	"sync"

	"github.com/me/genq/pkg/model"
)

// Queue is a mutex-guarded FIFO of pending tasks. It holds queued tasks
// only; the currently executing task is owned by the engine loop.
type Queue struct {
	mu    sync.Mutex
	items []*model.Task
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a task to the tail. Always succeeds.
func (q *Queue) Enqueue(t *model.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, t)
}

// Dequeue removes and returns the head task.
// Returns (nil, false) if the queue is empty.
func (q *Queue) Dequeue() (*model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Remove deletes the queued task with the given id and returns it.
// Returns (nil, false) when no queued task matches.
func (q *Queue) Remove(id string) (*model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.items {
		if t.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

// Contains reports whether a queued task with the given id exists.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.items {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Clear removes and returns all queued tasks, in order. Used for bulk
// cancellation.
func (q *Queue) Clear() []*model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
