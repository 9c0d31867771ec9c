// Package music proxies track lookups to the Spotify search API.
package music

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultTokenURL  = "https://accounts.spotify.com/api/token"
	defaultSearchURL = "https://api.spotify.com/v1/search"

	maxResponseBytes = 1 << 20
)

// Track is the subset of Spotify track metadata the app consumes.
type Track struct {
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	Album      string   `json:"album"`
	AlbumArt   string   `json:"album_art,omitempty"`
	TrackID    string   `json:"track_id"`
	SpotifyURL string   `json:"spotify_url"`
	PreviewURL string   `json:"preview_url,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// FallbackTrack is returned when the search fails or finds nothing, so the
// client always has something to play.
var FallbackTrack = Track{
	Name:       "Weightless",
	Artists:    []string{"Marconi Union"},
	Album:      "Weightless",
	AlbumArt:   "https://i.scdn.co/image/ab67616d0000b2738b3dbf6e41eecbeecf9fbb99",
	TrackID:    "4pbJqGIASGPr0ZpGpnWkDn",
	SpotifyURL: "https://open.spotify.com/track/4pbJqGIASGPr0ZpGpnWkDn",
	DurationMS: 480800,
}

// Result is the track lookup response.
type Result struct {
	Success      bool   `json:"success"`
	FallbackUsed bool   `json:"fallback_used,omitempty"`
	Track        Track  `json:"track"`
	Message      string `json:"message,omitempty"`
}

// Config holds Spotify API credentials and endpoint overrides.
type Config struct {
	ClientID     string
	ClientSecret string
	// TokenURL and SearchURL default to the public Spotify endpoints.
	TokenURL  string
	SearchURL string
}

// ErrNotConfigured is returned when Spotify credentials are absent.
var ErrNotConfigured = errors.New("spotify credentials not configured")

// Service searches Spotify with client-credentials auth.
type Service struct {
	http      *http.Client
	searchURL string
	log       *slog.Logger
}

// NewService returns a Service using the given credentials. base, when
// non-nil, is the transport-level client used for both token and search
// requests. Missing credentials yield a Service whose Lookup always fails.
func NewService(cfg Config, base *http.Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{searchURL: cfg.SearchURL, log: log}
	if s.searchURL == "" {
		s.searchURL = defaultSearchURL
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return s
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	s.http = cc.Client(ctx)
	return s
}

// Lookup searches for the top track match. Upstream failures and empty
// results degrade to the fallback track rather than an error; only missing
// configuration is fatal.
func (s *Service) Lookup(ctx context.Context, song, artist, market string) (*Result, error) {
	if s.http == nil {
		return nil, ErrNotConfigured
	}
	if market == "" {
		market = "US"
	}

	query := url.Values{
		"q":      {fmt.Sprintf("track:%s artist:%s", song, artist)},
		"type":   {"track"},
		"market": {market},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.searchURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return s.fallback(ctx, "search request failed", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return s.fallback(ctx, "read search response", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return s.fallback(ctx, fmt.Sprintf("search returned %d", resp.StatusCode), nil), nil
	}

	item := gjson.GetBytes(body, "tracks.items.0")
	if !item.Exists() {
		return &Result{
			Success:      true,
			FallbackUsed: true,
			Track:        FallbackTrack,
			Message:      "No tracks found for the given search criteria",
		}, nil
	}

	track := Track{
		Name:       item.Get("name").String(),
		Album:      item.Get("album.name").String(),
		AlbumArt:   item.Get("album.images.0.url").String(),
		TrackID:    item.Get("id").String(),
		SpotifyURL: item.Get("external_urls.spotify").String(),
		PreviewURL: item.Get("preview_url").String(),
		DurationMS: item.Get("duration_ms").Int(),
	}
	for _, a := range item.Get("artists.#.name").Array() {
		track.Artists = append(track.Artists, a.String())
	}

	return &Result{Success: true, Track: track}, nil
}

func (s *Service) fallback(ctx context.Context, msg string, err error) *Result {
	attrs := []slog.Attr{slog.String("detail", msg)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.log.LogAttrs(ctx, slog.LevelWarn, "spotify lookup degraded to fallback track", attrs...)
	return &Result{Success: true, FallbackUsed: true, Track: FallbackTrack, Message: msg}
}
