// Package server implements the HTTP transport layer for the Haven backend.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	haven "github.com/haven-app/haven/internal"
	"github.com/haven-app/haven/internal/chat"
	"github.com/haven-app/haven/internal/content"
	"github.com/haven-app/haven/internal/music"
	"github.com/haven-app/haven/internal/ratelimit"
	"github.com/haven-app/haven/internal/storage"
	"github.com/haven-app/haven/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth       haven.Authenticator
	Chat       *chat.Service
	Store      storage.Store
	Backups    *ratelimit.BackupCounter
	Content    *content.Service
	Version    *content.VersionCache
	Music      *music.Service
	Metrics    *telemetry.Metrics // nil = no metrics middleware
	MetricsH   http.Handler       // handler for GET /metrics; nil = not mounted
	ReadyCheck ReadyChecker       // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps, validate: validator.New()}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsH != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsH)
	}

	// Client-facing API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/chatAIProxy", s.handleChatProxy)
		r.Post("/backupDateSummary", s.handleBackupDateSummary)
		r.Post("/saveSettings", s.handleSaveSettings)
		r.Post("/saveAccount", s.handleSaveAccount)
		r.Post("/deleteAccount", s.handleDeleteAccount)
		r.Post("/report/crash", s.handleCrashReport)
		r.Get("/content/daily", s.handleDailyContent)
		r.Get("/version", s.handleVersion)
		r.Get("/music/track", s.handleMusicTrack)
	})

	return r
}

type server struct {
	deps     Deps
	validate *validator.Validate
}
