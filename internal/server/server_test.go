package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	haven "github.com/haven-app/haven/internal"
	"github.com/haven-app/haven/internal/chat"
	"github.com/haven-app/haven/internal/content"
	"github.com/haven-app/haven/internal/music"
	"github.com/haven-app/haven/internal/ratelimit"
	"github.com/haven-app/haven/internal/telemetry"
	"github.com/haven-app/haven/internal/testutil"
	"github.com/haven-app/haven/internal/tokencount"
)

func newTestMetrics() *telemetry.Metrics {
	return telemetry.NewMetrics(prometheus.NewRegistry())
}

// wordEncoding counts whitespace-separated words for deterministic
// estimates without the real tokenizer.
type wordEncoding struct{}

func (wordEncoding) Encode(s string) []int { return make([]int, len(strings.Fields(s))) }

type fixture struct {
	handler  http.Handler
	store    *testutil.FakeStore
	provider *testutil.FakeProvider
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	auth   haven.Authenticator
	policy ratelimit.Policy
	ready  ReadyChecker
}

func withAuth(a haven.Authenticator) fixtureOption {
	return func(c *fixtureConfig) { c.auth = a }
}

func withPolicy(p ratelimit.Policy) fixtureOption {
	return func(c *fixtureConfig) { c.policy = p }
}

func withReadyCheck(rc ReadyChecker) fixtureOption {
	return func(c *fixtureConfig) { c.ready = rc }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{
		auth:   testutil.FakeAuth{},
		policy: ratelimit.Policy{MaxMessagesPerDay: 20, MaxTokensPerRequest: 5000},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := testutil.NewFakeStore()
	provider := &testutil.FakeProvider{}

	limiter := ratelimit.NewLimiter(store, cfg.policy)
	counter := tokencount.NewCounterWithLookup(func(string) (tokencount.Encoding, error) {
		return wordEncoding{}, nil
	})
	chatSvc := chat.NewService(limiter, counter, provider, chat.Options{
		PrimaryModel:  "gpt-4o-mini",
		FallbackModel: "gpt-3.5-turbo",
		MaxTokens:     1000,
		Temperature:   0.7,
	}, newTestMetrics(), nil)

	handler := New(Deps{
		Auth:       cfg.auth,
		Chat:       chatSvc,
		Store:      store,
		Backups:    ratelimit.NewBackupCounter(store),
		Content:    content.NewService(store),
		Version:    content.NewVersionCache(store, time.Hour, newTestMetrics()),
		Music:      music.NewService(music.Config{}, nil, nil),
		ReadyCheck: cfg.ready,
	})

	return &fixture{handler: handler, store: store, provider: provider}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestChatProxy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.do(http.MethodPost, "/chatAIProxy", `{"messages":[{"role":"user","content":"hello"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["reply"]; got != "hello from fake" {
		t.Errorf("reply = %v", got)
	}
}

func TestChatProxy_BadRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for name, body := range map[string]string{
		"invalid json":     `{"messages": [`,
		"no messages":      `{"messages":[]}`,
		"missing content":  `{"messages":[{"role":"user"}]}`,
		"missing role":     `{"messages":[{"content":"hi"}]}`,
		"wrong body shape": `{}`,
	} {
		if w := f.do(http.MethodPost, "/chatAIProxy", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, w.Code)
		}
	}
	if len(f.provider.Calls) != 0 {
		t.Errorf("provider calls = %d, want 0", len(f.provider.Calls))
	}
}

func TestChatProxy_Unauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withAuth(testutil.RejectAuth{}))
	w := f.do(http.MethodPost, "/chatAIProxy", `{"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestChatProxy_RateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withPolicy(ratelimit.Policy{MaxMessagesPerDay: 1, MaxTokensPerRequest: 5000}))

	if w := f.do(http.MethodPost, "/chatAIProxy", `{"messages":[{"role":"user","content":"hi"}]}`); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}

	w := f.do(http.MethodPost, "/chatAIProxy", `{"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	msg := w.Body.String()
	if !strings.Contains(msg, ratelimit.ReasonDailyLimit) || !strings.Contains(msg, "estimated") {
		t.Errorf("429 body should carry the reason and estimate, got %s", msg)
	}
}

func TestChatProxy_UpstreamFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.ChatFn = func(context.Context, *haven.ChatRequest) (*haven.ChatResult, error) {
		return nil, errors.New("secret upstream detail")
	}

	w := f.do(http.MethodPost, "/chatAIProxy", `{"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret upstream detail") {
		t.Error("500 body must not leak upstream error details")
	}
}

func TestSaveSettings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.do(http.MethodPost, "/saveSettings", `{"settings_file":{"theme":"dark"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := f.store.UserDoc("test-user", "settings.json"); string(got) != `{"theme":"dark"}` {
		t.Errorf("stored settings = %s", got)
	}

	if w := f.do(http.MethodPost, "/saveSettings", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing settings_file: status = %d, want 400", w.Code)
	}
}

func TestSaveAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.do(http.MethodPost, "/saveAccount", `{"account_json":{"name":"Sam"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := f.store.UserDoc("test-user", "account.json"); string(got) != `{"name":"Sam"}` {
		t.Errorf("stored account = %s", got)
	}
}

func TestBackupDateSummary(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.do(http.MethodPost, "/backupDateSummary", `{"date":"2025-09-01","data_json":{"mood":"calm"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := f.store.UserDoc("test-user", "data/2025-09-01.json"); string(got) != `{"mood":"calm"}` {
		t.Errorf("stored backup = %s", got)
	}

	var counter struct {
		Date    string `json:"date"`
		Counter int    `json:"counter"`
	}
	if err := json.Unmarshal(f.store.UserDoc("test-user", "backupLimiter.json"), &counter); err != nil {
		t.Fatalf("decode counter: %v", err)
	}
	if counter.Date != "2025-09-01" || counter.Counter != 1 {
		t.Errorf("counter = %+v", counter)
	}

	if w := f.do(http.MethodPost, "/backupDateSummary", `{"date":"2025-09-01"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing data_json: status = %d, want 400", w.Code)
	}
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	w := f.do(http.MethodPost, "/deleteAccount", `{"userId":"someone-else","reason":"done","timestamp":"2025-09-01T10:00:00Z"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("mismatched user: status = %d, want 403", w.Code)
	}

	w = f.do(http.MethodPost, "/deleteAccount", `{"userId":"test-user","reason":"done","additionalReason":"moving on","timestamp":"2025-09-01T10:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var stored map[string]string
	if err := json.Unmarshal(f.store.UserDoc("test-user", "deletion_reason.json"), &stored); err != nil {
		t.Fatalf("decode deletion reason: %v", err)
	}
	if stored["reason"] != "done" || stored["additionalReason"] != "moving on" {
		t.Errorf("stored = %v", stored)
	}

	if w := f.do(http.MethodPost, "/deleteAccount", `{"userId":"test-user"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing fields: status = %d, want 400", w.Code)
	}
}

func TestCrashReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.do(http.MethodPost, "/report/crash", `{
		"error": "NullPointerException",
		"stackTrace": "at main()",
		"logs": ["boot", "crash"],
		"timestamp": "2025-09-01T10:00:00Z",
		"appVersion": "1.4.0"
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	paths := f.store.UserPaths("test-user")
	if len(paths) != 1 || !strings.HasPrefix(paths[0], "crashes/crash_") {
		t.Fatalf("stored paths = %v, want one crashes/crash_* file", paths)
	}

	var stored crashReport
	if err := json.Unmarshal(f.store.UserDoc("test-user", paths[0]), &stored); err != nil {
		t.Fatalf("decode stored report: %v", err)
	}
	if stored.Error != "NullPointerException" || stored.AppVersion != "1.4.0" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestCrashReport_Invalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.do(http.MethodPost, "/report/crash", `{"error":"oops"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(f.store.UserPaths("test-user")) != 0 {
		t.Error("invalid report must not be stored")
	}
}

func TestDailyContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.SaveObject(context.Background(), "content/daily_content_2.json", json.RawMessage(`{"day":2}`))

	w := f.do(http.MethodGet, "/content/daily?version=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != content.StatusUpdated || body["version"] != float64(2) {
		t.Errorf("body = %v", body)
	}

	if w := f.do(http.MethodGet, "/content/daily?version=two", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad version: status = %d, want 400", w.Code)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.SaveObject(context.Background(), "admin/version_control/version.json", json.RawMessage(`{"latest":"1.4.0"}`))

	w := f.do(http.MethodGet, "/version", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeBody(t, w)["latest"]; got != "1.4.0" {
		t.Errorf("latest = %v", got)
	}
}

func TestVersion_Missing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if w := f.do(http.MethodGet, "/version", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestMusicTrack_MissingParams(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if w := f.do(http.MethodGet, "/music/track?song_name=Weightless", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestMusicTrack_NotConfigured(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.do(http.MethodGet, "/music/track?song_name=Weightless&artist_name=Marconi+Union", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when credentials are absent", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if w := f.do(http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if w := f.do(http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	down := newFixture(t, withReadyCheck(func(context.Context) error { return errors.New("storage down") }))
	if w := down.do(http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
