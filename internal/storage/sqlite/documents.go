package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	haven "github.com/haven-app/haven/internal"
)

// Exists reports whether a per-user document is present.
func (s *Store) Exists(ctx context.Context, userID, path string) (bool, error) {
	var one int
	err := s.read.QueryRowContext(ctx,
		`SELECT 1 FROM user_documents WHERE user_id = ? AND path = ?`, userID, path,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load reads a per-user document.
func (s *Store) Load(ctx context.Context, userID, path string) (json.RawMessage, error) {
	var doc string
	err := s.read.QueryRowContext(ctx,
		`SELECT doc FROM user_documents WHERE user_id = ? AND path = ?`, userID, path,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", haven.ErrNotFound, userID, path)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc), nil
}

// Save writes a per-user document, replacing any previous content.
func (s *Store) Save(ctx context.Context, userID, path string, doc json.RawMessage) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO user_documents (user_id, path, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, path) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		userID, path, string(doc), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// LoadObject reads a shared object.
func (s *Store) LoadObject(ctx context.Context, path string) (json.RawMessage, error) {
	var doc string
	err := s.read.QueryRowContext(ctx,
		`SELECT doc FROM shared_objects WHERE path = ?`, path,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", haven.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc), nil
}

// SaveObject writes a shared object.
func (s *Store) SaveObject(ctx context.Context, path string, doc json.RawMessage) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO shared_objects (path, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		path, string(doc), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListObjects returns paths of shared objects under prefix, sorted ascending.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT path FROM shared_objects WHERE path LIKE ? || '%' ORDER BY path`, prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
