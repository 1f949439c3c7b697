// Package provider contains Generator implementations and allowance
// sources for the engine.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/me/genq/pkg/model"
)

// Ollama implements the engine Generator against a local Ollama server.
type Ollama struct {
	client *api.Client
	logger *slog.Logger
}

// NewOllama creates a client. host overrides the server URL; empty
// falls back to OLLAMA_HOST or the Ollama default.
func NewOllama(host string, logger *slog.Logger) (*Ollama, error) {
	var client *api.Client
	if host == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		client = c
	} else {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("parse ollama host %s: %w", host, err)
		}
		client = api.NewClient(u, http.DefaultClient)
	}
	return &Ollama{
		client: client,
		logger: logger.With("component", "ollama"),
	}, nil
}

// Generate runs one chat call, forwarding streamed deltas. Server-side
// errors (5xx) are retryable; client errors (4xx) are not. Network
// failures classify as transient on their own.
func (o *Ollama) Generate(ctx context.Context, messages []model.Message, params model.Params, stream model.StreamFunc) (*model.GenerationResponse, error) {
	req := &api.ChatRequest{
		Model:    params.Model,
		Messages: make([]api.Message, 0, len(messages)),
		Options:  map[string]any{},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, api.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	if params.Temperature != 0 {
		req.Options["temperature"] = params.Temperature
	}
	if params.MaxTokens != 0 {
		req.Options["num_predict"] = params.MaxTokens
	}

	var sb strings.Builder
	var last api.ChatResponse
	err := o.client.Chat(ctx, req, func(r api.ChatResponse) error {
		sb.WriteString(r.Message.Content)
		if r.Done {
			last = r
		}
		if stream != nil {
			stream([]model.Choice{{Content: r.Message.Content}}, r.Done)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	o.logger.Debug("chat done",
		"model", req.Model,
		"prompt_tokens", last.PromptEvalCount,
		"output_tokens", last.EvalCount,
	)

	return &model.GenerationResponse{
		ID:    "gen_" + strings.ReplaceAll(last.CreatedAt.UTC().Format("20060102150405.000"), ".", ""),
		Model: req.Model,
		Choices: []model.Choice{{
			Content:      sb.String(),
			FinishReason: last.DoneReason,
		}},
		Usage: model.Usage{
			PromptTokens: last.PromptEvalCount,
			OutputTokens: last.EvalCount,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// classify maps Ollama API errors onto the engine's error taxonomy.
// Plain network errors already classify as transient.
func classify(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		if se.StatusCode >= 500 {
			return model.Transient(err)
		}
		return model.Fatal(err)
	}
	return err
}

// StaticAllowance returns an allowance source reporting a fixed
// output-token budget. n <= 0 means unlimited.
func StaticAllowance(n int) func(ctx context.Context) (int, error) {
	if n <= 0 {
		n = math.MaxInt32
	}
	return func(ctx context.Context) (int, error) {
		return n, nil
	}
}
