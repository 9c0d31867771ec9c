// Package haven defines domain types and interfaces for the Haven backend
// gateway. This package has no project imports -- it is the dependency root.
package haven

import (
	"context"
	"net/http"
)

// --- Chat proxy ---

// Message is a single chat message as sent by the mobile client.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the upstream chat-completion request shape.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Usage is the token accounting the upstream provider reports for a call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is the reply extracted from a successful upstream call.
// Usage is nil when the provider omitted usage data; callers fall back
// to their pre-flight estimate in that case.
type ChatResult struct {
	Reply string
	Usage *Usage
}

// Provider is the single-method capability for chatting with a model.
// Exactly one implementation exists today; an alternate provider can be
// substituted without touching the fallback coordinator.
type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)
}

// --- Identity ---

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID string
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via
// mutation of the same pointer, avoiding a second context.WithValue.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, falling back to a new context value (e.g. in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
