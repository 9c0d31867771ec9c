// Package redis implements the storage.Store interface on top of Redis.
// Documents are stored as plain string values: per-user documents under
// "user:{uid}:{path}", shared objects under "obj:{path}".
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	haven "github.com/haven-app/haven/internal"
)

// Store implements storage.Store using a Redis client.
type Store struct {
	client *redis.Client
}

// New connects to Redis at addr and verifies connectivity.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client (used by tests with miniredis).
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func userKey(userID, path string) string { return "user:" + userID + ":" + path }
func objKey(path string) string          { return "obj:" + path }

// Exists reports whether a per-user document is present.
func (s *Store) Exists(ctx context.Context, userID, path string) (bool, error) {
	n, err := s.client.Exists(ctx, userKey(userID, path)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Load reads a per-user document.
func (s *Store) Load(ctx context.Context, userID, path string) (json.RawMessage, error) {
	val, err := s.client.Get(ctx, userKey(userID, path)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s/%s", haven.ErrNotFound, userID, path)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(val), nil
}

// Save writes a per-user document, replacing any previous content.
func (s *Store) Save(ctx context.Context, userID, path string, doc json.RawMessage) error {
	return s.client.Set(ctx, userKey(userID, path), string(doc), 0).Err()
}

// LoadObject reads a shared object.
func (s *Store) LoadObject(ctx context.Context, path string) (json.RawMessage, error) {
	val, err := s.client.Get(ctx, objKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", haven.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(val), nil
}

// SaveObject writes a shared object.
func (s *Store) SaveObject(ctx context.Context, path string, doc json.RawMessage) error {
	return s.client.Set(ctx, objKey(path), string(doc), 0).Err()
}

// ListObjects returns paths of shared objects under prefix, sorted ascending.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, objKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), "obj:"))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Ping verifies backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
