package testutil

import (
	"context"
	"net/http"

	haven "github.com/haven-app/haven/internal"
)

// FakeAuth always authenticates successfully as the configured user.
type FakeAuth struct {
	UserID string
}

// Authenticate returns a test identity.
func (f FakeAuth) Authenticate(context.Context, *http.Request) (*haven.Identity, error) {
	uid := f.UserID
	if uid == "" {
		uid = "test-user"
	}
	return &haven.Identity{UserID: uid}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*haven.Identity, error) {
	return nil, haven.ErrUnauthorized
}
