package model

import "time"

// Status represents the externally visible state of the engine.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusQueued           Status = "queued"
	StatusGenerating       Status = "generating"
	StatusWaitingForUser   Status = "waiting_for_user"
	StatusWaitingForBudget Status = "waiting_for_budget"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Busy returns true while the engine is actively driving a task.
func (s Status) Busy() bool {
	switch s {
	case StatusQueued, StatusGenerating, StatusWaitingForUser, StatusWaitingForBudget:
		return true
	}
	return false
}

// Terminal returns true for the per-task terminal statuses. The engine
// itself never rests in these: it advances to idle or the next task
// immediately after broadcasting them.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidStatusTransitions defines the allowed engine status transitions.
// Cancellation may additionally short-circuit any busy status back to
// idle or generating when the queue still holds work.
var ValidStatusTransitions = map[Status][]Status{
	StatusIdle:             {StatusQueued},
	StatusQueued:           {StatusGenerating},
	StatusGenerating:       {StatusWaitingForUser, StatusCompleted, StatusFailed},
	StatusWaitingForUser:   {StatusWaitingForBudget},
	StatusWaitingForBudget: {StatusGenerating},
	StatusCompleted:        {StatusIdle, StatusQueued, StatusGenerating},
	StatusFailed:           {StatusIdle, StatusQueued, StatusGenerating},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range ValidStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// GenerationState is the engine snapshot broadcast to subscribers on
// every transition.
type GenerationState struct {
	Status Status `json:"status"`

	// Error holds a human-readable message, set only while Status is failed.
	Error string `json:"error,omitempty"`

	// QueueLength counts tasks waiting in the queue, excluding the one
	// currently executing.
	QueueLength int `json:"queue_length"`

	// BudgetWaitEndTime is set while Status is waiting_for_budget and
	// marks the earliest allowance re-check.
	BudgetWaitEndTime *time.Time `json:"budget_wait_end_time,omitempty"`
}

// Equal reports whether two snapshots are observably identical.
// BudgetWaitEndTime compares by value, not pointer.
func (s GenerationState) Equal(o GenerationState) bool {
	if s.Status != o.Status || s.Error != o.Error || s.QueueLength != o.QueueLength {
		return false
	}
	switch {
	case s.BudgetWaitEndTime == nil && o.BudgetWaitEndTime == nil:
		return true
	case s.BudgetWaitEndTime == nil || o.BudgetWaitEndTime == nil:
		return false
	default:
		return s.BudgetWaitEndTime.Equal(*o.BudgetWaitEndTime)
	}
}

// TaskStatus reports where a task currently is from the caller's point
// of view.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusNotFound   TaskStatus = "not_found"
)
