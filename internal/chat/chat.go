// Package chat coordinates a single chat turn: estimate the token cost,
// check the caller's daily budget, call the primary model, fall back once
// on upstream failure, and commit what the turn actually spent.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	haven "github.com/haven-app/haven/internal"
	"github.com/haven-app/haven/internal/ratelimit"
	"github.com/haven-app/haven/internal/telemetry"
	"github.com/haven-app/haven/internal/tokencount"
)

// LimitError reports a chat turn denied by the daily limiter, with enough
// detail for the client to explain the denial.
type LimitError struct {
	Reason          string
	EstimatedTokens int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s (estimated %d tokens)", e.Reason, e.EstimatedTokens)
}

func (e *LimitError) Unwrap() error { return haven.ErrRateLimited }

// Options configures the chat service.
type Options struct {
	// PrimaryModel is tried first for every turn.
	PrimaryModel string
	// FallbackModel is tried once when the primary call fails upstream.
	// Empty disables fallback.
	FallbackModel string
	// MaxTokens caps the completion length requested from the model.
	MaxTokens int
	// Temperature is passed through to the model.
	Temperature float64
}

// Service executes chat turns against a model provider under a per-user
// daily budget.
type Service struct {
	limiter  *ratelimit.Limiter
	counter  *tokencount.Counter
	provider haven.Provider
	opts     Options
	metrics  *telemetry.Metrics
	log      *slog.Logger
}

// NewService returns a Service wired to the given limiter, token counter
// and provider.
func NewService(limiter *ratelimit.Limiter, counter *tokencount.Counter, provider haven.Provider, opts Options, metrics *telemetry.Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		limiter:  limiter,
		counter:  counter,
		provider: provider,
		opts:     opts,
		metrics:  metrics,
		log:      log,
	}
}

// Execute runs one chat turn for userID. The primary model is tried first;
// if its upstream call fails and a fallback model is configured, the same
// messages are re-estimated, re-checked and sent to the fallback. Budget
// denials never trigger fallback, and a denial on the fallback path
// surfaces to the caller. Usage is committed only for the model that
// actually answered.
func (s *Service) Execute(ctx context.Context, userID string, messages []haven.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: empty messages", haven.ErrBadRequest)
	}

	reply, primaryErr := s.tryModel(ctx, userID, s.opts.PrimaryModel, messages)
	if primaryErr == nil {
		return reply, nil
	}
	if !errors.Is(primaryErr, haven.ErrUpstream) || s.opts.FallbackModel == "" {
		return "", primaryErr
	}

	s.log.LogAttrs(ctx, slog.LevelWarn, "primary model failed, trying fallback",
		slog.String("primary", s.opts.PrimaryModel),
		slog.String("fallback", s.opts.FallbackModel),
		slog.String("error", primaryErr.Error()),
	)
	s.metrics.FallbackTotal.Inc()

	reply, fallbackErr := s.tryModel(ctx, userID, s.opts.FallbackModel, messages)
	if fallbackErr == nil {
		return reply, nil
	}
	if errors.Is(fallbackErr, haven.ErrUpstream) {
		return "", fmt.Errorf("%w: primary %s: %v; fallback %s: %v",
			haven.ErrUpstream, s.opts.PrimaryModel, primaryErr, s.opts.FallbackModel, fallbackErr)
	}
	return "", fallbackErr
}

// tryModel runs the estimate/check/call/commit sequence for one model.
func (s *Service) tryModel(ctx context.Context, userID, model string, messages []haven.Message) (string, error) {
	estimate, err := s.counter.EstimateMessages(model, messages)
	if err != nil {
		return "", fmt.Errorf("estimate tokens: %w", err)
	}

	decision, err := s.limiter.Check(ctx, userID, estimate)
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		s.metrics.RateLimitRejects.WithLabelValues(decision.Reason).Inc()
		return "", &LimitError{Reason: decision.Reason, EstimatedTokens: estimate}
	}

	req := &haven.ChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
	start := time.Now()
	res, err := s.provider.Chat(ctx, req)
	s.metrics.UpstreamDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.UpstreamErrors.WithLabelValues(model).Inc()
		return "", fmt.Errorf("%w: model %s: %v", haven.ErrUpstream, model, err)
	}

	// The budget is prompt-side: the pre-flight estimate covers the
	// prompt, so only the reported prompt usage is charged against it.
	spent := estimate
	if res.Usage != nil && res.Usage.PromptTokens > 0 {
		spent = res.Usage.PromptTokens
	}
	if err := s.limiter.Commit(ctx, userID, spent); err != nil {
		// The model already answered; charge failure must not eat the reply.
		s.log.LogAttrs(ctx, slog.LevelError, "commit usage failed",
			slog.String("user_id", userID),
			slog.String("model", model),
			slog.Int("tokens", spent),
			slog.String("error", err.Error()),
		)
	} else {
		s.metrics.TokensCommitted.WithLabelValues(model).Add(float64(spent))
	}

	return res.Reply, nil
}
