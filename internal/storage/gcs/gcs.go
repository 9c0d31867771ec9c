// Package gcs implements the storage.Store interface on Google Cloud Storage,
// matching the production deployment where user documents live in a Firebase
// Storage bucket as "{uid}/{path}" JSON blobs.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	haven "github.com/haven-app/haven/internal"
)

// Store implements storage.Store against a single GCS bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// New creates a Store for the given bucket using Application Default
// Credentials.
func New(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &Store{client: client, bucket: client.Bucket(bucket)}, nil
}

func blobPath(userID, path string) string { return userID + "/" + path }

// Exists reports whether a per-user document is present.
func (s *Store) Exists(ctx context.Context, userID, path string) (bool, error) {
	_, err := s.bucket.Object(blobPath(userID, path)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load reads a per-user document.
func (s *Store) Load(ctx context.Context, userID, path string) (json.RawMessage, error) {
	return s.read(ctx, blobPath(userID, path))
}

// Save writes a per-user document, replacing any previous content.
func (s *Store) Save(ctx context.Context, userID, path string, doc json.RawMessage) error {
	return s.writeObject(ctx, blobPath(userID, path), doc)
}

// LoadObject reads a shared object.
func (s *Store) LoadObject(ctx context.Context, path string) (json.RawMessage, error) {
	return s.read(ctx, path)
}

// SaveObject writes a shared object.
func (s *Store) SaveObject(ctx context.Context, path string, doc json.RawMessage) error {
	return s.writeObject(ctx, path, doc)
}

// ListObjects returns paths of shared objects under prefix.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		out = append(out, attrs.Name)
	}
}

// Ping verifies bucket access by fetching bucket attributes.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.bucket.Attrs(ctx)
	return err
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) read(ctx context.Context, name string) (json.RawMessage, error) {
	r, err := s.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", haven.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return json.RawMessage(data), nil
}

func (s *Store) writeObject(ctx context.Context, name string, doc json.RawMessage) error {
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(doc); err != nil {
		w.Close()
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", name, err)
	}
	return nil
}
