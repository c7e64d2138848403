package archive

import (
	"errors"
	"testing"

	"ritual/api/internal/game"
)

func TestCheckpointAndHistory(t *testing.T) {
	svc := New(t.TempDir())

	p := game.NewPlayer("Lia")
	doc := game.AddPlayer(game.Session{}, p, game.LinkedPlayerToken(p))

	first, err := svc.Checkpoint("ABC123", doc, "Mestre", "Session start")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if first.Hash == "" || first.Author != "Mestre" {
		t.Fatalf("unexpected commit info: %+v", first)
	}

	doc = game.SetMap(doc, "data:image/jpeg;base64,xxxx")
	second, err := svc.Checkpoint("ABC123", doc, "Mestre", "After map upload")
	if err != nil {
		t.Fatalf("second Checkpoint: %v", err)
	}

	history, err := svc.History("ABC123", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("history not newest-first: %+v", history)
	}

	limited, err := svc.History("ABC123", 1)
	if err != nil {
		t.Fatalf("History limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Hash != second.Hash {
		t.Fatalf("limit ignored: %+v", limited)
	}
}

func TestSessionAtRestoresCheckpoint(t *testing.T) {
	svc := New(t.TempDir())

	p := game.NewPlayer("Lia")
	before := game.AddPlayer(game.Session{}, p, game.LinkedPlayerToken(p))
	info, err := svc.Checkpoint("ABC123", before, "Mestre", "baseline")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	after := game.SetMap(before, "data:changed")
	if _, err := svc.Checkpoint("ABC123", after, "Mestre", "map"); err != nil {
		t.Fatalf("second Checkpoint: %v", err)
	}

	restored, err := svc.SessionAt("ABC123", info.Hash)
	if err != nil {
		t.Fatalf("SessionAt: %v", err)
	}
	if !game.Equal(restored, before) {
		t.Fatalf("restored checkpoint differs from original")
	}
}

func TestHistoryWithoutCheckpoints(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("NOPE42", 0); !errors.Is(err, ErrNoCheckpoints) {
		t.Fatalf("expected ErrNoCheckpoints, got %v", err)
	}
	if _, err := svc.SessionAt("NOPE42", "abcdef0"); !errors.Is(err, ErrNoCheckpoints) {
		t.Fatalf("expected ErrNoCheckpoints, got %v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.Checkpoint("AAA111", game.Session{}, "Mestre", ""); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if _, err := svc.History("BBB222", 0); !errors.Is(err, ErrNoCheckpoints) {
		t.Fatalf("checkpoints leaked across sessions")
	}
}
