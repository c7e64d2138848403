package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"ritual/api/internal/game"
)

func setupRedis(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisGetMissingDocument(t *testing.T) {
	store := setupRedis(t)
	if _, err := store.Get(context.Background(), "ABC123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisSetGetRoundTrip(t *testing.T) {
	store := setupRedis(t)
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
		t.Fatalf("round trip mismatch:\ngot:  %+v\nwant: %+v", got, doc)
	}
}

func TestRedisSubscribeDeliversInitialAbsence(t *testing.T) {
	store := setupRedis(t)
	ctx := context.Background()

	deliveries := make(chan *game.Session, 4)
	unsub, err := store.Subscribe(ctx, "GHOST1", func(s *game.Session) { deliveries <- s })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	select {
	case s := <-deliveries:
		if s != nil {
			t.Fatalf("expected nil snapshot for absent document, got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("no initial delivery")
	}
}

func TestRedisSubscribeDeliversWrites(t *testing.T) {
	store := setupRedis(t)
	ctx := context.Background()

	if err := store.Set(ctx, "ABC123", game.Session{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	deliveries := make(chan *game.Session, 4)
	unsub, err := store.Subscribe(ctx, "ABC123", func(s *game.Session) { deliveries <- s })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	// Initial snapshot.
	select {
	case s := <-deliveries:
		if s == nil || len(s.Players) != 0 {
			t.Fatalf("unexpected initial snapshot: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("no initial delivery")
	}

	p := game.NewPlayer("Lia")
	next := game.AddPlayer(game.Session{}, p, game.LinkedPlayerToken(p))
	if err := store.Set(ctx, "ABC123", next); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case s := <-deliveries:
		if s == nil || len(s.Players) != 1 || s.Players[0].Name != "Lia" {
			t.Fatalf("unexpected pushed snapshot: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("write was not pushed to subscriber")
	}
}

func TestRedisMeta(t *testing.T) {
	store := setupRedis(t)
	ctx := context.Background()

	if _, err := store.GetMeta(ctx, "ABC123", "gm_key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetMeta(ctx, "ABC123", "gm_key", "hash"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	got, err := store.GetMeta(ctx, "ABC123", "gm_key")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != "hash" {
		t.Fatalf("meta = %q, want hash", got)
	}
}
