package testutil

import (
	"context"

	haven "github.com/haven-app/haven/internal"
)

// FakeProvider is a configurable haven.Provider for testing.
type FakeProvider struct {
	ChatFn func(ctx context.Context, req *haven.ChatRequest) (*haven.ChatResult, error)

	// Calls records every request the provider received, in order.
	Calls []*haven.ChatRequest
}

// Chat records the request and delegates to ChatFn, or returns a default
// reply with usage when ChatFn is nil.
func (f *FakeProvider) Chat(ctx context.Context, req *haven.ChatRequest) (*haven.ChatResult, error) {
	f.Calls = append(f.Calls, req)
	if f.ChatFn != nil {
		return f.ChatFn(ctx, req)
	}
	return &haven.ChatResult{
		Reply: "hello from fake",
		Usage: &haven.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}
