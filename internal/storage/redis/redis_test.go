package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	haven "github.com/haven-app/haven/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := []byte(`{"2025-09-01":{"messages":3,"tokens":420}}`)
	if err := s.Save(ctx, "user1", "chatAILimiter.json", doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "user1", "chatAILimiter.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Load = %s, want %s", got, doc)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "user1", "nope.json")
	if !errors.Is(err, haven.ErrNotFound) {
		t.Errorf("Load missing = %v, want ErrNotFound", err)
	}
}

func TestStore_Exists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "user1", "settings.json")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("Exists should be false before Save")
	}

	if err := s.Save(ctx, "user1", "settings.json", []byte(`{}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ok, err = s.Exists(ctx, "user1", "settings.json")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("Exists should be true after Save")
	}
}

func TestStore_ListObjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{
		"content/daily_content_1.json",
		"content/daily_content_7.json",
		"admin/version_control/version.json",
	} {
		if err := s.SaveObject(ctx, p, []byte(`{}`)); err != nil {
			t.Fatalf("SaveObject %s: %v", p, err)
		}
	}

	paths, err := s.ListObjects(ctx, "content/")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	want := []string{"content/daily_content_1.json", "content/daily_content_7.json"}
	if len(paths) != len(want) {
		t.Fatalf("ListObjects = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestStore_Ping(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
