package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ritual/api/internal/game"
)

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ritual.db"), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteGetMissingDocument(t *testing.T) {
	store := setupSQLite(t)
	if _, err := store.Get(context.Background(), "ABC123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteSetGetRoundTrip(t *testing.T) {
	store := setupSQLite(t)
	ctx := context.Background()

	p := game.NewPlayer("Lia")
	doc := game.AddPlayer(game.Session{}, p, game.LinkedPlayerToken(p))
	if err := store.Set(ctx, "ABC123", doc); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get(ctx, "ABC123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !game.Equal(got, doc) {
		t.Fatalf("round trip mismatch")
	}

	// Overwrite wins wholesale.
	if err := store.Set(ctx, "ABC123", game.Session{}); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err = store.Get(ctx, "ABC123")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if len(got.Players) != 0 {
		t.Fatalf("overwrite should replace the whole document, got %+v", got)
	}
}

func TestSQLiteSubscribePollsChanges(t *testing.T) {
	store := setupSQLite(t)
	ctx := context.Background()

	deliveries := make(chan *game.Session, 8)
	unsub, err := store.Subscribe(ctx, "ABC123", func(s *game.Session) { deliveries <- s })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	// Absent document delivers nil first.
	select {
	case s := <-deliveries:
		if s != nil {
			t.Fatalf("expected nil initial snapshot, got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("no initial delivery")
	}

	p := game.NewPlayer("Lia")
	if err := store.Set(ctx, "ABC123", game.AddPlayer(game.Session{}, p, game.LinkedPlayerToken(p))); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case s := <-deliveries:
		if s == nil || len(s.Players) != 1 {
			t.Fatalf("unexpected polled snapshot: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poll loop never delivered the write")
	}

	// No spurious deliveries when nothing changes.
	select {
	case s := <-deliveries:
		t.Fatalf("unexpected delivery without a write: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSQLiteUnsubscribeStopsDeliveries(t *testing.T) {
	store := setupSQLite(t)
	ctx := context.Background()

	deliveries := make(chan *game.Session, 8)
	unsub, err := store.Subscribe(ctx, "ABC123", func(s *game.Session) { deliveries <- s })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-deliveries // initial
	unsub()
	unsub() // safe to call twice

	if err := store.Set(ctx, "ABC123", game.Session{Map: "data:1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case s := <-deliveries:
		t.Fatalf("delivery after unsubscribe: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSQLiteMeta(t *testing.T) {
	store := setupSQLite(t)
	ctx := context.Background()

	if _, err := store.GetMeta(ctx, "ABC123", "gm_key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetMeta(ctx, "ABC123", "gm_key", "h1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := store.SetMeta(ctx, "ABC123", "gm_key", "h2"); err != nil {
		t.Fatalf("SetMeta upsert: %v", err)
	}
	got, err := store.GetMeta(ctx, "ABC123", "gm_key")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != "h2" {
		t.Fatalf("meta = %q, want h2", got)
	}
}
