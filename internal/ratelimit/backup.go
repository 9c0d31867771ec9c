package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	haven "github.com/haven-app/haven/internal"
	"github.com/haven-app/haven/internal/storage"
)

// backupPath is the per-user backup counter document path.
const backupPath = "backupLimiter.json"

// backupDoc is the single-date backup counter. Unlike the chat ledger it
// holds only the latest date and is overwritten entirely each day.
type backupDoc struct {
	Date    string `json:"date"`
	Counter int    `json:"counter"`
}

// BackupCounter counts backups per user per day, using the same
// read-modify-write-whole-document primitive as the chat ledger.
type BackupCounter struct {
	store storage.Store
}

// NewBackupCounter creates a BackupCounter over store.
func NewBackupCounter(store storage.Store) *BackupCounter {
	return &BackupCounter{store: store}
}

// Bump increments the user's backup counter for the given date (the date
// named by the backup request, not the server clock) and returns the new
// value. The counter resets to 1 whenever the stored date differs.
func (b *BackupCounter) Bump(ctx context.Context, userID, date string) (int, error) {
	var doc backupDoc
	raw, err := b.store.Load(ctx, userID, backupPath)
	switch {
	case errors.Is(err, haven.ErrNotFound):
		// first backup ever
	case err != nil:
		return 0, fmt.Errorf("%w: load backup counter: %v", haven.ErrStorage, err)
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return 0, fmt.Errorf("%w: decode backup counter: %v", haven.ErrStorage, err)
		}
	}

	if doc.Date != date {
		doc = backupDoc{Date: date, Counter: 1}
	} else {
		doc.Counter++
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal backup counter: %v", haven.ErrStorage, err)
	}
	if err := b.store.Save(ctx, userID, backupPath, out); err != nil {
		return 0, fmt.Errorf("%w: save backup counter: %v", haven.ErrStorage, err)
	}
	return doc.Counter, nil
}
