package model

import (
	"context"
	"errors"
	"testing"
)

func TestResolveLiteral(t *testing.T) {
	src := FromMessages(Message{Role: RoleUser, Content: "hi"})
	p, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(p.Messages) != 1 || p.Messages[0].Content != "hi" {
		t.Errorf("unexpected prompt: %+v", p)
	}
	if p.Params != nil {
		t.Error("literal source should not carry param overrides")
	}
	if src.IsFactory() {
		t.Error("literal source should not report IsFactory")
	}
}

func TestResolveFactory(t *testing.T) {
	calls := 0
	src := FromFactory(func(ctx context.Context) (*Prompt, error) {
		calls++
		return &Prompt{
			Messages: []Message{{Role: RoleUser, Content: "generated"}},
			Params:   &Params{Temperature: 0.9},
		}, nil
	})
	if !src.IsFactory() {
		t.Fatal("factory source should report IsFactory")
	}
	if calls != 0 {
		t.Fatal("factory must not run before Resolve")
	}
	p, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if calls != 1 {
		t.Errorf("factory ran %d times, want 1", calls)
	}
	if p.Params == nil || p.Params.Temperature != 0.9 {
		t.Errorf("param override lost: %+v", p.Params)
	}
}

func TestResolveFactoryError(t *testing.T) {
	boom := errors.New("boom")
	src := FromFactory(func(ctx context.Context) (*Prompt, error) {
		return nil, boom
	})
	if _, err := src.Resolve(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped factory error, got %v", err)
	}

	src = FromFactory(func(ctx context.Context) (*Prompt, error) {
		return nil, nil
	})
	if _, err := src.Resolve(context.Background()); err == nil {
		t.Error("nil prompt from factory should be an error")
	}
}

func TestMessageSourceIsZero(t *testing.T) {
	var src MessageSource
	if !src.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if FromMessages(Message{Role: RoleUser, Content: "x"}).IsZero() {
		t.Error("literal source is not zero")
	}
}

func TestParamsWithDefaults(t *testing.T) {
	p := Params{}.WithDefaults()
	if p.MinTokens != DefaultMinTokens {
		t.Errorf("MinTokens = %d, want %d", p.MinTokens, DefaultMinTokens)
	}
	if p.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", p.MaxRetries, DefaultMaxRetries)
	}
	p = Params{MinTokens: 100, MaxRetries: 2}.WithDefaults()
	if p.MinTokens != 100 || p.MaxRetries != 2 {
		t.Error("explicit values must survive WithDefaults")
	}
}

func TestParamsMerge(t *testing.T) {
	base := Params{Model: "llama3.2", Temperature: 0.7, MaxRetries: 5}
	got := base.Merge(Params{Temperature: 0.1, MaxTokens: 256})
	if got.Model != "llama3.2" {
		t.Errorf("Model = %q, want base value preserved", got.Model)
	}
	if got.Temperature != 0.1 || got.MaxTokens != 256 {
		t.Errorf("override fields not applied: %+v", got)
	}
	if got.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", got.MaxRetries)
	}
}
