package model

import "time"

// Default parameter values applied at submission time.
const (
	DefaultMinTokens  = 1
	DefaultMaxRetries = 5
)

// Behaviour hints how the caller intends to consume a task's result.
// The engine schedules both identically; the value is carried as
// metadata only.
type Behaviour string

const (
	BehaviourBlocking   Behaviour = "blocking"
	BehaviourBackground Behaviour = "background"
)

// Params holds generation parameters plus the engine-specific extras.
// Generation fields are passed through to the external service untouched.
type Params struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// TaskID names the task explicitly; a uuid is generated when empty.
	TaskID string `json:"task_id,omitempty"`

	// MinTokens is the output-token allowance required before the task
	// may start. Zero means DefaultMinTokens.
	MinTokens int `json:"min_tokens,omitempty"`

	// MaxRetries bounds transient-error retries. Zero means
	// DefaultMaxRetries.
	MaxRetries int `json:"max_retries,omitempty"`
}

// WithDefaults returns a copy with unset engine extras filled in.
func (p Params) WithDefaults() Params {
	if p.MinTokens <= 0 {
		p.MinTokens = DefaultMinTokens
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	return p
}

// Merge returns a copy of p with the set fields of override applied on
// top. Used for parameter overrides produced by a message factory.
func (p Params) Merge(override Params) Params {
	if override.Model != "" {
		p.Model = override.Model
	}
	if override.Temperature != 0 {
		p.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		p.MaxTokens = override.MaxTokens
	}
	if override.MinTokens != 0 {
		p.MinTokens = override.MinTokens
	}
	if override.MaxRetries != 0 {
		p.MaxRetries = override.MaxRetries
	}
	return p
}

// Task is one queued or executing generation request.
//
// Lifecycle: queued -> processing -> settled (completed, failed or
// cancelled). A settled task is dropped; the engine keeps no reference.
type Task struct {
	ID        string        `json:"id"`
	Source    MessageSource `json:"-"`
	Params    Params        `json:"params"`
	Behaviour Behaviour     `json:"behaviour,omitempty"`

	// RetryCount is incremented on each transient-error retry, bounded
	// by Params.MaxRetries.
	RetryCount int `json:"retry_count"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}
