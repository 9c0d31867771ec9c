package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/haven-app/haven/internal/auth"
	"github.com/haven-app/haven/internal/chat"
	"github.com/haven-app/haven/internal/config"
	"github.com/haven-app/haven/internal/content"
	"github.com/haven-app/haven/internal/llm"
	"github.com/haven-app/haven/internal/llm/openai"
	"github.com/haven-app/haven/internal/music"
	"github.com/haven-app/haven/internal/ratelimit"
	"github.com/haven-app/haven/internal/server"
	"github.com/haven-app/haven/internal/storage"
	"github.com/haven-app/haven/internal/storage/gcs"
	"github.com/haven-app/haven/internal/storage/redis"
	"github.com/haven-app/haven/internal/storage/sqlite"
	"github.com/haven-app/haven/internal/telemetry"
	"github.com/haven-app/haven/internal/tokencount"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting haven", "version", version, "addr", cfg.Server.Addr,
		"storage", cfg.Storage.Backend)

	ctx := context.Background()

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Auth.FirebaseProject == "" {
		return fmt.Errorf("auth.firebase_project is required")
	}
	var authOpts []auth.Option
	if cfg.Auth.CertURL != "" {
		authOpts = append(authOpts, auth.WithCertURL(cfg.Auth.CertURL))
	}
	authn, err := auth.NewIDTokenAuth(cfg.Auth.FirebaseProject, authOpts...)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Cached DNS for the upstream provider; refreshed in the background so
	// a slow resolver never sits on the request path.
	resolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			resolver.Refresh(true)
		}
	}()

	upstream := &http.Client{
		Transport: &llm.APIKeyTransport{
			Key:  cfg.Chat.OpenAIAPIKey,
			Base: llm.NewTransport(resolver),
		},
		Timeout: cfg.Chat.UpstreamTimeout,
	}

	limiter := ratelimit.NewLimiter(store, ratelimit.Policy{
		MaxMessagesPerDay:   cfg.RateLimits.MaxMessagesPerDay,
		MaxTokensPerRequest: cfg.RateLimits.MaxTokensPerRequest,
	})
	chatSvc := chat.NewService(limiter, tokencount.NewCounter(), openai.New(cfg.Chat.OpenAIBaseURL, upstream), chat.Options{
		PrimaryModel:  cfg.Chat.PrimaryModel,
		FallbackModel: cfg.Chat.FallbackModel,
		MaxTokens:     cfg.Chat.MaxTokens,
		Temperature:   cfg.Chat.Temperature,
	}, metrics, slog.Default())

	handler := server.New(server.Deps{
		Auth:       authn,
		Chat:       chatSvc,
		Store:      store,
		Backups:    ratelimit.NewBackupCounter(store),
		Content:    content.NewService(store),
		Version:    content.NewVersionCache(store, cfg.Content.VersionCacheTTL, metrics),
		Music: music.NewService(music.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
		}, nil, slog.Default()),
		Metrics:    metrics,
		MetricsH:   metricsHandler,
		ReadyCheck: store.Ping,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("haven ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("haven stopped")
	return nil
}

// openStore builds the configured document store backend.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return sqlite.New(cfg.SQLite.Path)
	case "redis":
		return redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	case "gcs":
		return gcs.New(ctx, cfg.GCS.Bucket)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
