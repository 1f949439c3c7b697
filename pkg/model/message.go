package model

import (
	"context"
	"fmt"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message sent to the generation service.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is a resolved message set, optionally carrying parameter
// overrides produced by a message factory.
type Prompt struct {
	Messages []Message
	Params   *Params
}

// FactoryFunc builds a prompt on demand. It is invoked exactly once, when
// the owning task is dequeued, never at enqueue time.
type FactoryFunc func(ctx context.Context) (*Prompt, error)

// MessageSource is the message input of a task: either a literal message
// list or a factory deferred until the task is dequeued. Exactly one of
// the two variants is set.
type MessageSource struct {
	messages []Message
	factory  FactoryFunc
}

// FromMessages returns a literal message source.
func FromMessages(msgs ...Message) MessageSource {
	return MessageSource{messages: msgs}
}

// FromFactory returns a deferred message source.
func FromFactory(fn FactoryFunc) MessageSource {
	return MessageSource{factory: fn}
}

// IsFactory reports whether the source defers prompt construction.
func (s MessageSource) IsFactory() bool {
	return s.factory != nil
}

// IsZero reports whether the source carries neither messages nor a factory.
func (s MessageSource) IsZero() bool {
	return s.messages == nil && s.factory == nil
}

// Resolve produces the prompt for this source. For a literal source the
// messages are returned as-is with no parameter override. For a factory
// source the factory runs now; a nil prompt from the factory is an error.
func (s MessageSource) Resolve(ctx context.Context) (*Prompt, error) {
	if s.factory == nil {
		return &Prompt{Messages: s.messages}, nil
	}
	p, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("message factory: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("message factory returned nil prompt")
	}
	return p, nil
}
