// Package auth verifies Firebase-style ID tokens for the Haven backend.
// Signing certificates are fetched from the identity platform and cached
// in a W-TinyLFU cache keyed by key ID.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maypok86/otter/v2"

	haven "github.com/haven-app/haven/internal"
)

const (
	// defaultCertURL serves the current securetoken signing certificates
	// as a JSON map of key ID to PEM certificate.
	defaultCertURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

	certCacheTTL    = time.Hour // certs rotate on the order of days
	certCacheMaxLen = 16

	maxCertBytes = 1 << 20
)

// IDTokenAuth authenticates requests carrying a Bearer ID token issued for
// the configured project.
type IDTokenAuth struct {
	project string
	issuer  string
	certURL string
	http    *http.Client
	cache   *otter.Cache[string, *rsa.PublicKey]
	now     func() time.Time
}

// Option tweaks an IDTokenAuth; used by tests to point at local fixtures.
type Option func(*IDTokenAuth)

// WithCertURL overrides the signing certificate endpoint.
func WithCertURL(u string) Option { return func(a *IDTokenAuth) { a.certURL = u } }

// WithHTTPClient overrides the client used to fetch certificates.
func WithHTTPClient(c *http.Client) Option { return func(a *IDTokenAuth) { a.http = c } }

// WithClock overrides the time source used for token validation.
func WithClock(now func() time.Time) Option { return func(a *IDTokenAuth) { a.now = now } }

// NewIDTokenAuth returns an IDTokenAuth for the given project ID.
func NewIDTokenAuth(project string, opts ...Option) (*IDTokenAuth, error) {
	if project == "" {
		return nil, fmt.Errorf("auth: project id is required")
	}
	cache, err := otter.New(&otter.Options[string, *rsa.PublicKey]{
		MaximumSize:      certCacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *rsa.PublicKey](certCacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cert cache: %w", err)
	}
	a := &IDTokenAuth{
		project: project,
		issuer:  "https://securetoken.google.com/" + project,
		certURL: defaultCertURL,
		http:    http.DefaultClient,
		cache:   cache,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate extracts a Bearer ID token from the Authorization header,
// verifies its signature and claims, and returns the caller's Identity.
func (a *IDTokenAuth) Authenticate(ctx context.Context, r *http.Request) (*haven.Identity, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return nil, haven.ErrUnauthorized
	}

	token, err := jwt.Parse(raw,
		func(t *jwt.Token) (any, error) { return a.keyFor(ctx, t) },
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.project),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", haven.ErrUnauthorized, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", haven.ErrUnauthorized)
	}
	return &haven.Identity{UserID: sub}, nil
}

// keyFor resolves the RSA public key for the token's key ID, fetching the
// certificate set on a cache miss.
func (a *IDTokenAuth) keyFor(ctx context.Context, t *jwt.Token) (*rsa.PublicKey, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}

	if key, ok := a.cache.GetIfPresent(kid); ok {
		return key, nil
	}

	if err := a.refreshCerts(ctx); err != nil {
		return nil, err
	}

	key, ok := a.cache.GetIfPresent(kid)
	if !ok {
		return nil, fmt.Errorf("no signing cert for kid %q", kid)
	}
	return key, nil
}

// refreshCerts fetches the full certificate map and caches every key in it.
func (a *IDTokenAuth) refreshCerts(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.certURL, nil)
	if err != nil {
		return fmt.Errorf("build cert request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch signing certs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch signing certs: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCertBytes))
	if err != nil {
		return fmt.Errorf("read signing certs: %w", err)
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return fmt.Errorf("decode signing certs: %w", err)
	}

	for kid, pemCert := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemCert))
		if err != nil {
			return fmt.Errorf("parse cert %q: %w", kid, err)
		}
		a.cache.Set(kid, key)
	}
	return nil
}
