// Package ratelimit enforces the per-user daily chat budget. Usage lives in
// a persisted per-user ledger document, one entry per UTC calendar date; the
// budget resets implicitly because each day has its own key, so no rollover
// job exists. The ledger document is the source of truth -- it is read fresh
// on every call and never cached in process.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	haven "github.com/haven-app/haven/internal"
	"github.com/haven-app/haven/internal/storage"
)

// ledgerPath is the per-user ledger document path.
const ledgerPath = "chatAILimiter.json"

// Denial reasons returned to clients verbatim.
const (
	ReasonDailyLimit = "daily message limit reached"
	ReasonTokenLimit = "token limit per request exceeded"
)

// Policy is the process-wide rate limit configuration, loaded once at
// startup and immutable thereafter. There are no per-user overrides.
type Policy struct {
	MaxMessagesPerDay   int
	MaxTokensPerRequest int
}

// DayUsage is one calendar date's usage entry in the ledger.
type DayUsage struct {
	Messages int `json:"messages"`
	Tokens   int `json:"tokens"`
}

// Ledger is the whole per-user usage document: ISO date -> usage.
// Stale dates are retained indefinitely but never re-read.
type Ledger map[string]DayUsage

// Decision is the outcome of a pre-flight budget check.
type Decision struct {
	Allowed bool
	Reason  string
	Usage   DayUsage // today's usage at check time
}

// Limiter owns the daily usage ledger per user.
//
// Check and Commit together form a non-atomic read-modify-write over an
// externally stored document: two concurrent requests from one user can both
// pass Check against stale usage and the later Commit can overwrite the
// earlier one, undercounting total usage. This is an accepted trade-off --
// the store exposes no conditional-write primitive to this subsystem. The
// race is characterized by test, not papered over.
type Limiter struct {
	store  storage.Store
	policy Policy
	now    func() time.Time
}

// NewLimiter creates a Limiter over store with the given policy.
func NewLimiter(store storage.Store, policy Policy) *Limiter {
	return &Limiter{store: store, policy: policy, now: time.Now}
}

// NewLimiterWithClock creates a Limiter with an injected clock for
// day-rollover tests.
func NewLimiterWithClock(store storage.Store, policy Policy, now func() time.Time) *Limiter {
	return &Limiter{store: store, policy: policy, now: now}
}

// today returns the current UTC calendar date as an ISO YYYY-MM-DD key.
func (l *Limiter) today() string {
	return l.now().UTC().Format(time.DateOnly)
}

// Check loads today's usage and decides whether a request with the given
// estimated token cost may proceed. The message-count cap is checked before
// the per-request token ceiling, so a user who has exhausted their daily
// quota sees that reason even when the request is also too large.
func (l *Limiter) Check(ctx context.Context, userID string, estimatedTokens int) (Decision, error) {
	ledger, err := l.load(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	usage := ledger[l.today()]

	if usage.Messages >= l.policy.MaxMessagesPerDay {
		return Decision{Allowed: false, Reason: ReasonDailyLimit, Usage: usage}, nil
	}
	if estimatedTokens > l.policy.MaxTokensPerRequest {
		return Decision{Allowed: false, Reason: ReasonTokenLimit, Usage: usage}, nil
	}
	return Decision{Allowed: true, Usage: usage}, nil
}

// Commit charges one message and actualTokens against today's entry. It
// re-reads the full ledger (never reusing state from Check), increments,
// and writes the whole document back. A persistence failure is returned to
// the caller -- a silently swallowed commit would let a user exceed quota
// undetected.
func (l *Limiter) Commit(ctx context.Context, userID string, actualTokens int) error {
	ledger, err := l.load(ctx, userID)
	if err != nil {
		return err
	}

	day := l.today()
	usage := ledger[day]
	usage.Messages++
	usage.Tokens += actualTokens
	ledger[day] = usage

	doc, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("%w: marshal ledger: %v", haven.ErrStorage, err)
	}
	if err := l.store.Save(ctx, userID, ledgerPath, doc); err != nil {
		return fmt.Errorf("%w: save ledger: %v", haven.ErrStorage, err)
	}
	return nil
}

// load reads the user's ledger document. An absent document means zero
// usage so far; any other storage error is fatal for the request.
func (l *Limiter) load(ctx context.Context, userID string) (Ledger, error) {
	doc, err := l.store.Load(ctx, userID, ledgerPath)
	if errors.Is(err, haven.ErrNotFound) {
		return Ledger{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load ledger: %v", haven.ErrStorage, err)
	}

	var ledger Ledger
	if err := json.Unmarshal(doc, &ledger); err != nil {
		return nil, fmt.Errorf("%w: decode ledger: %v", haven.ErrStorage, err)
	}
	if ledger == nil {
		ledger = Ledger{}
	}
	return ledger, nil
}
