// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level backend configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Storage    StorageConfig   `yaml:"storage"`
	Auth       AuthConfig      `yaml:"auth"`
	Chat       ChatConfig      `yaml:"chat"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Content    ContentConfig   `yaml:"content"`
	Spotify    SpotifyConfig   `yaml:"spotify"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the document store backend.
type StorageConfig struct {
	Backend string       `yaml:"backend"` // "sqlite", "redis", "gcs"
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Redis   RedisConfig  `yaml:"redis"`
	GCS     GCSConfig    `yaml:"gcs"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"` // file path or ":memory:"
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
}

// AuthConfig holds ID token verification settings.
type AuthConfig struct {
	FirebaseProject string `yaml:"firebase_project"`
	CertURL         string `yaml:"cert_url"` // override for the signing cert endpoint
}

// ChatConfig holds upstream model settings.
type ChatConfig struct {
	PrimaryModel    string        `yaml:"primary_model"`
	FallbackModel   string        `yaml:"fallback_model"`
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
}

// RateLimitConfig holds the per-user daily budget policy.
type RateLimitConfig struct {
	MaxMessagesPerDay   int `yaml:"max_messages_per_day"`
	MaxTokensPerRequest int `yaml:"max_tokens_per_request"`
}

// ContentConfig holds content and version serving settings.
type ContentConfig struct {
	VersionCacheTTL time.Duration `yaml:"version_cache_ttl"`
}

// SpotifyConfig holds Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// defaults returns a Config with every knob at its canonical default.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			SQLite:  SQLiteConfig{Path: "haven.db"},
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Chat: ChatConfig{
			PrimaryModel:    "gpt-4o-mini",
			FallbackModel:   "gpt-3.5-turbo",
			MaxTokens:       1000,
			Temperature:     0.7,
			UpstreamTimeout: 60 * time.Second,
		},
		RateLimits: RateLimitConfig{
			MaxMessagesPerDay:   20,
			MaxTokensPerRequest: 5000,
		},
		Content: ContentConfig{
			VersionCacheTTL: 4 * time.Hour,
		},
	}
}

// applyEnv overlays well-known environment variables onto cfg. Set
// variables win over file values so secrets never need to live in the
// file, and the binary can run from the environment alone.
func applyEnv(cfg *Config) error {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) error {
		v, ok := os.LookupEnv(name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = n
		return nil
	}

	setString("OPENAI_API_KEY", &cfg.Chat.OpenAIAPIKey)
	setString("FIREBASE_PROJECT_ID", &cfg.Auth.FirebaseProject)
	setString("FIREBASE_STORAGE_BUCKET", &cfg.Storage.GCS.Bucket)
	setString("SPOTIFY_CLIENT_ID", &cfg.Spotify.ClientID)
	setString("SPOTIFY_CLIENT_SECRET", &cfg.Spotify.ClientSecret)
	if err := setInt("RATE_LIMIT_CHAT_MESSAGES_PER_DAY", &cfg.RateLimits.MaxMessagesPerDay); err != nil {
		return err
	}
	return setInt("RATE_LIMIT_CHAT_TOKENS_PER_REQUEST", &cfg.RateLimits.MaxTokensPerRequest)
}

// Load reads and parses a YAML config file, expanding environment
// variables. A missing file is not an error; the defaults plus the
// environment overlay are returned so the binary can run from
// environment-provided settings alone.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// file optional
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		data = expandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
