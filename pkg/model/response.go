package model

import "time"

// Choice is one generated alternative, possibly partial while streaming.
type Choice struct {
	Index        int    `json:"index"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Usage reports token consumption for one generation call.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GenerationResponse is the final result of a generation call.
type GenerationResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Choices   []Choice  `json:"choices"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Text returns the content of the first choice, or "" when there is none.
func (r *GenerationResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Content
}

// StreamFunc receives intermediate choices during generation. It is
// invoked zero or more times; final is true on the last invocation.
type StreamFunc func(choices []Choice, final bool)
