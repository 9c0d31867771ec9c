package ratelimit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haven-app/haven/internal/testutil"
)

func TestBackupCounter_FirstBump(t *testing.T) {
	t.Parallel()
	b := NewBackupCounter(testutil.NewFakeStore())

	n, err := b.Bump(context.Background(), "user1", "2025-09-01")
	if err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if n != 1 {
		t.Errorf("first Bump = %d, want 1", n)
	}
}

func TestBackupCounter_SameDateIncrements(t *testing.T) {
	t.Parallel()
	b := NewBackupCounter(testutil.NewFakeStore())
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		n, err := b.Bump(ctx, "user1", "2025-09-01")
		if err != nil {
			t.Fatalf("Bump: %v", err)
		}
		if n != want {
			t.Errorf("Bump = %d, want %d", n, want)
		}
	}
}

func TestBackupCounter_NewDateResets(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	b := NewBackupCounter(store)
	ctx := context.Background()

	for range 5 {
		if _, err := b.Bump(ctx, "user1", "2025-08-31"); err != nil {
			t.Fatal(err)
		}
	}

	n, err := b.Bump(ctx, "user1", "2025-09-01")
	if err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if n != 1 {
		t.Errorf("Bump with a new date = %d, want reset to 1", n)
	}

	// The document is overwritten entirely: only the new date remains.
	var doc backupDoc
	if err := json.Unmarshal(store.UserDoc("user1", backupPath), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Date != "2025-09-01" || doc.Counter != 1 {
		t.Errorf("doc = %+v, want {Date:2025-09-01 Counter:1}", doc)
	}
}
