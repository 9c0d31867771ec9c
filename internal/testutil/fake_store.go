// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	haven "github.com/haven-app/haven/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
// The hooks allow error injection and orchestrating read/write
// interleavings for race characterization tests.
type FakeStore struct {
	mu      sync.RWMutex
	userDoc map[string]json.RawMessage // "uid/path" -> doc
	objects map[string]json.RawMessage // shared path -> doc

	// LoadErr and SaveErr, when non-nil, are returned by every Load/Save.
	LoadErr error
	SaveErr error

	// BeforeSave, when non-nil, runs before each Save takes the lock.
	BeforeSave func(userID, path string)
	// AfterLoad, when non-nil, runs after each Load or LoadObject
	// releases the lock, including loads that miss. Object loads pass an
	// empty userID.
	AfterLoad func(userID, path string)
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		userDoc: make(map[string]json.RawMessage),
		objects: make(map[string]json.RawMessage),
	}
}

func userKey(userID, path string) string { return userID + "/" + path }

// Exists reports whether a per-user document is present.
func (s *FakeStore) Exists(_ context.Context, userID, path string) (bool, error) {
	s.mu.RLock()
	_, ok := s.userDoc[userKey(userID, path)]
	s.mu.RUnlock()
	return ok, nil
}

// Load reads a per-user document.
func (s *FakeStore) Load(_ context.Context, userID, path string) (json.RawMessage, error) {
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	s.mu.RLock()
	doc, ok := s.userDoc[userKey(userID, path)]
	s.mu.RUnlock()
	if s.AfterLoad != nil {
		s.AfterLoad(userID, path)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", haven.ErrNotFound, userID, path)
	}
	return doc, nil
}

// Save writes a per-user document.
func (s *FakeStore) Save(_ context.Context, userID, path string, doc json.RawMessage) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.BeforeSave != nil {
		s.BeforeSave(userID, path)
	}
	s.mu.Lock()
	s.userDoc[userKey(userID, path)] = append(json.RawMessage(nil), doc...)
	s.mu.Unlock()
	return nil
}

// LoadObject reads a shared object.
func (s *FakeStore) LoadObject(_ context.Context, path string) (json.RawMessage, error) {
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	s.mu.RLock()
	doc, ok := s.objects[path]
	s.mu.RUnlock()
	if s.AfterLoad != nil {
		s.AfterLoad("", path)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", haven.ErrNotFound, path)
	}
	return doc, nil
}

// SaveObject writes a shared object.
func (s *FakeStore) SaveObject(_ context.Context, path string, doc json.RawMessage) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.mu.Lock()
	s.objects[path] = append(json.RawMessage(nil), doc...)
	s.mu.Unlock()
	return nil
}

// ListObjects returns shared object paths under prefix, sorted.
func (s *FakeStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	var out []string
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Ping always succeeds.
func (s *FakeStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }

// UserDoc returns the stored document for uid/path, or nil.
func (s *FakeStore) UserDoc(userID, path string) json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userDoc[userKey(userID, path)]
}

// UserPaths returns the sorted document paths stored for userID.
func (s *FakeStore) UserPaths(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	prefix := userID + "/"
	for k := range s.userDoc {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(out)
	return out
}
