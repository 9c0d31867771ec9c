// Package storage defines the per-user JSON document store consumed by the
// gateway. Documents are opaque JSON objects keyed by (user id, path); no
// schema is enforced at this layer -- validation belongs to the subsystems
// that own each document.
package storage

import (
	"context"
	"encoding/json"
)

// Store is the document persistence interface.
//
// Load returns haven.ErrNotFound (wrapped) when the document does not exist.
// Save overwrites the whole document; there is no partial update and no
// conditional-write primitive, which is why the rate limiter's
// read-modify-write is documented as racy under concurrent requests.
type Store interface {
	// Exists reports whether a per-user document is present.
	Exists(ctx context.Context, userID, path string) (bool, error)
	// Load reads a per-user document.
	Load(ctx context.Context, userID, path string) (json.RawMessage, error)
	// Save writes a per-user document, replacing any previous content.
	Save(ctx context.Context, userID, path string, doc json.RawMessage) error

	// LoadObject reads a shared (non-user) object such as version metadata.
	LoadObject(ctx context.Context, path string) (json.RawMessage, error)
	// SaveObject writes a shared object.
	SaveObject(ctx context.Context, path string, doc json.RawMessage) error
	// ListObjects returns the paths of shared objects under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// Ping verifies backend connectivity for readiness checks.
	Ping(ctx context.Context) error
	Close() error
}
