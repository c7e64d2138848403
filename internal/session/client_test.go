package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ritual/api/internal/docstore"
	"ritual/api/internal/game"
	"ritual/api/internal/identity"
)

// fakeStore is an in-memory document store with synchronous delivery, so
// tests observe reconciliation deterministically.
type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]game.Session
	meta    map[string]map[string]string
	subs    map[string]map[int]docstore.Handler
	nextSub int
	failSet error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs: make(map[string]game.Session),
		meta: make(map[string]map[string]string),
		subs: make(map[string]map[int]docstore.Handler),
	}
}

func (f *fakeStore) handlers(code string) []docstore.Handler {
	out := make([]docstore.Handler, 0, len(f.subs[code]))
	for _, fn := range f.subs[code] {
		out = append(out, fn)
	}
	return out
}

func (f *fakeStore) Get(_ context.Context, code string) (game.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[code]
	if !ok {
		return game.Session{}, docstore.ErrNotFound
	}
	return game.Clone(doc), nil
}

func (f *fakeStore) Set(_ context.Context, code string, s game.Session) error {
	f.mu.Lock()
	if f.failSet != nil {
		err := f.failSet
		f.mu.Unlock()
		return err
	}
	normalized := game.Normalize(s)
	f.docs[code] = normalized
	handlers := f.handlers(code)
	f.mu.Unlock()

	for _, fn := range handlers {
		snapshot := game.Clone(normalized)
		fn(&snapshot)
	}
	return nil
}

// dropDocument simulates the session document disappearing remotely.
func (f *fakeStore) dropDocument(code string) {
	f.mu.Lock()
	delete(f.docs, code)
	handlers := f.handlers(code)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(nil)
	}
}

func (f *fakeStore) Subscribe(_ context.Context, code string, fn docstore.Handler) (docstore.Unsubscribe, error) {
	f.mu.Lock()
	if f.subs[code] == nil {
		f.subs[code] = make(map[int]docstore.Handler)
	}
	id := f.nextSub
	f.nextSub++
	f.subs[code][id] = fn
	doc, ok := f.docs[code]
	f.mu.Unlock()

	if ok {
		snapshot := game.Clone(doc)
		fn(&snapshot)
	} else {
		fn(nil)
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[code], id)
	}, nil
}

func (f *fakeStore) GetMeta(_ context.Context, code, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.meta[code][key]
	if !ok {
		return "", docstore.ErrNotFound
	}
	return value, nil
}

func (f *fakeStore) SetMeta(_ context.Context, code, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meta[code] == nil {
		f.meta[code] = make(map[string]string)
	}
	f.meta[code][key] = value
	return nil
}

func (f *fakeStore) Close() error { return nil }

func newTestClient(store docstore.Store) *Client {
	return NewClient(store, identity.Identity{UID: "anon_test"})
}

func TestGMJoinCreatesEmptyDocument(t *testing.T) {
	store := newFakeStore()
	gm := newTestClient(store)

	if err := gm.Join(context.Background(), "abc123", "Mestre", true); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if gm.Role() != game.RoleGM {
		t.Fatalf("role = %q, want gm", gm.Role())
	}
	if gm.Code() != "ABC123" {
		t.Fatalf("code = %q, want upper-cased ABC123", gm.Code())
	}

	doc, err := store.Get(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("document should exist after GM join: %v", err)
	}
	if doc.Map != "" || len(doc.Tokens) != 0 || len(doc.Players) != 0 || len(doc.Monsters) != 0 {
		t.Fatalf("expected empty defaults, got %+v", doc)
	}
}

func TestPlayerJoinMissingSessionFails(t *testing.T) {
	store := newFakeStore()
	player := newTestClient(store)

	err := player.Join(context.Background(), "NOPE42", "Lia", false)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.Get(context.Background(), "NOPE42"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("player join must not create a document")
	}
}

func TestPlayerJoinAppendsPlayerAndLinkedToken(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	if err := newTestClient(store).Join(ctx, "ABC123", "Mestre", true); err != nil {
		t.Fatalf("gm join: %v", err)
	}

	player := newTestClient(store)
	if err := player.Join(ctx, "abc123", "Lia", false); err != nil {
		t.Fatalf("player join: %v", err)
	}
	if player.PlayerID() == "" {
		t.Fatalf("player should have a sheet id")
	}

	doc, _ := store.Get(ctx, "ABC123")
	if len(doc.Players) != 1 || doc.Players[0].Name != "Lia" {
		t.Fatalf("expected Lia in document, got %+v", doc.Players)
	}
	if doc.Players[0].PV != (game.Pool{Current: 20, Max: 20}) ||
		doc.Players[0].PD != (game.Pool{Current: 5, Max: 5}) ||
		doc.Players[0].SAN != (game.Pool{Current: 100, Max: 100}) {
		t.Fatalf("unexpected starting pools: %+v", doc.Players[0])
	}
	if len(doc.Tokens) != 1 || doc.Tokens[0].LinkedID != doc.Players[0].ID {
		t.Fatalf("expected one linked token, got %+v", doc.Tokens)
	}
}

func TestRepeatedJoinSameNameIsIdempotent(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	_ = newTestClient(store).Join(ctx, "ABC123", "Mestre", true)

	first := newTestClient(store)
	if err := first.Join(ctx, "ABC123", "Lia", false); err != nil {
		t.Fatalf("first join: %v", err)
	}
	second := newTestClient(store)
	if err := second.Join(ctx, "ABC123", "Lia", false); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if second.PlayerID() != first.PlayerID() {
		t.Fatalf("rejoin should bind the existing sheet")
	}

	doc, _ := store.Get(ctx, "ABC123")
	if len(doc.Players) != 1 {
		t.Fatalf("duplicate player created: %+v", doc.Players)
	}
	if len(doc.Tokens) != 1 {
		t.Fatalf("duplicate token created: %+v", doc.Tokens)
	}
}

func TestJoinValidation(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)
	if err := c.Join(context.Background(), "ABC123", "   ", false); !errors.Is(err, ErrNicknameRequired) {
		t.Fatalf("expected ErrNicknameRequired, got %v", err)
	}
	if err := c.Join(context.Background(), "  ", "Lia", false); !errors.Is(err, ErrCodeRequired) {
		t.Fatalf("expected ErrCodeRequired, got %v", err)
	}
}

func TestOptimisticUpdateSurvivesPersistFailure(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	gm := newTestClient(store)
	_ = gm.Join(ctx, "ABC123", "Mestre", true)

	player := newTestClient(store)
	_ = player.Join(ctx, "ABC123", "Lia", false)

	store.mu.Lock()
	store.failSet = errors.New("store unavailable")
	store.mu.Unlock()

	zero := 0
	if err := player.UpdatePlayer(ctx, player.PlayerID(), game.SheetPatch{PV: &game.PoolPatch{Current: &zero}}); err != nil {
		t.Fatalf("UpdatePlayer should not surface persist failure: %v", err)
	}

	// Mirror is optimistically ahead of the store.
	got, _ := game.PlayerByID(player.Snapshot(), player.PlayerID())
	if got.PV.Current != 0 {
		t.Fatalf("mirror pv = %d, want optimistic 0", got.PV.Current)
	}
	doc, _ := store.Get(ctx, "ABC123")
	remote, _ := game.PlayerByID(doc, player.PlayerID())
	if remote.PV.Current != 20 {
		t.Fatalf("store should be untouched on failed persist, got %d", remote.PV.Current)
	}
}

func TestReconcileReplacesMirrorOnRemoteChange(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	gm := newTestClient(store)
	_ = gm.Join(ctx, "ABC123", "Mestre", true)

	var mu sync.Mutex
	var notified int
	player := newTestClient(store)
	player.OnState(func(game.Session) {
		mu.Lock()
		notified++
		mu.Unlock()
	})
	_ = player.Join(ctx, "ABC123", "Lia", false)

	mu.Lock()
	base := notified
	mu.Unlock()

	// GM mutates; the player's subscription should deliver the change.
	if err := gm.AddToken(ctx, game.NewToken(game.TokenMonster, "Vulto")); err != nil {
		t.Fatalf("AddToken: %v", err)
	}

	snap := player.Snapshot()
	if len(snap.Tokens) != 2 {
		t.Fatalf("player mirror should include the GM's token, got %+v", snap.Tokens)
	}
	mu.Lock()
	after := notified
	mu.Unlock()
	if after != base+1 {
		t.Fatalf("observer calls = %d, want %d", after, base+1)
	}

	// A byte-identical snapshot must not renotify.
	doc, _ := store.Get(ctx, "ABC123")
	_ = store.Set(ctx, "ABC123", doc)
	mu.Lock()
	final := notified
	mu.Unlock()
	if final != after {
		t.Fatalf("identical snapshot renotified observer")
	}
}

func TestPlayerForbiddenMutations(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	_ = newTestClient(store).Join(ctx, "ABC123", "Mestre", true)

	player := newTestClient(store)
	_ = player.Join(ctx, "ABC123", "Lia", false)
	other := newTestClient(store)
	_ = other.Join(ctx, "ABC123", "Bruno", false)

	if err := player.AddToken(ctx, game.NewToken(game.TokenPlayer, "x")); !errors.Is(err, ErrForbidden) {
		t.Errorf("AddToken by player: %v", err)
	}
	if err := player.SetMap(ctx, "data:x"); !errors.Is(err, ErrForbidden) {
		t.Errorf("SetMap by player: %v", err)
	}
	if err := player.UpdatePlayer(ctx, other.PlayerID(), game.SheetPatch{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("UpdatePlayer on someone else's sheet: %v", err)
	}
	if err := player.AdjustStat(ctx, other.PlayerID(), game.StatPV, -1); !errors.Is(err, ErrForbidden) {
		t.Errorf("AdjustStat on someone else's sheet: %v", err)
	}
	if err := player.Undo(ctx); !errors.Is(err, ErrForbidden) {
		t.Errorf("Undo by player: %v", err)
	}
	// Own sheet is fine.
	if err := player.AdjustStat(ctx, player.PlayerID(), game.StatPV, -3); err != nil {
		t.Errorf("AdjustStat on own sheet: %v", err)
	}
}

func TestUndoRestoresPlayerUpdateOnly(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	gm := newTestClient(store)
	_ = gm.Join(ctx, "ABC123", "Mestre", true)
	player := newTestClient(store)
	_ = player.Join(ctx, "ABC123", "Lia", false)
	liaID := player.PlayerID()

	if err := gm.Undo(ctx); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}

	// Token mutations are not captured.
	if err := gm.AddToken(ctx, game.NewToken(game.TokenMonster, "Vulto")); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	if gm.UndoDepth() != 0 {
		t.Fatalf("token mutation must not be captured, depth = %d", gm.UndoDepth())
	}

	before := gm.Snapshot()
	five := 5
	if err := gm.UpdatePlayer(ctx, liaID, game.SheetPatch{PV: &game.PoolPatch{Current: &five}}); err != nil {
		t.Fatalf("UpdatePlayer: %v", err)
	}
	if gm.UndoDepth() != 1 {
		t.Fatalf("player update should be captured, depth = %d", gm.UndoDepth())
	}

	if err := gm.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if !game.Equal(gm.Snapshot(), before) {
		t.Fatalf("undo should restore the exact pre-mutation snapshot")
	}
	doc, _ := store.Get(ctx, "ABC123")
	if !game.Equal(doc, before) {
		t.Fatalf("undo should persist through the normal mutation path")
	}
}

func TestGMAdjustStatOnPlayerIsCaptured(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	gm := newTestClient(store)
	_ = gm.Join(ctx, "ABC123", "Mestre", true)
	player := newTestClient(store)
	_ = player.Join(ctx, "ABC123", "Lia", false)

	if err := gm.AdjustStat(ctx, player.PlayerID(), game.StatSAN, -30); err != nil {
		t.Fatalf("AdjustStat: %v", err)
	}
	if gm.UndoDepth() != 1 {
		t.Fatalf("GM stat adjustment of a player should be undoable")
	}

	// Monster stat adjustments are not captured.
	m := game.NewMonster("Zumbi")
	if err := gm.AddMonster(ctx, m); err != nil {
		t.Fatalf("AddMonster: %v", err)
	}
	if err := gm.AdjustStat(ctx, m.ID, game.StatPV, -5); err != nil {
		t.Fatalf("AdjustStat monster: %v", err)
	}
	if gm.UndoDepth() != 1 {
		t.Fatalf("monster mutation must not be captured, depth = %d", gm.UndoDepth())
	}
}

func TestFailedUpdateDoesNotBurnUndoSlot(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	gm := newTestClient(store)
	_ = gm.Join(ctx, "ABC123", "Mestre", true)
	player := newTestClient(store)
	_ = player.Join(ctx, "ABC123", "Lia", false)

	five := 5
	if err := gm.UpdatePlayer(ctx, "ghost", game.SheetPatch{PV: &game.PoolPatch{Current: &five}}); !errors.Is(err, game.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if gm.UndoDepth() != 0 {
		t.Fatalf("failed update must not be captured, depth = %d", gm.UndoDepth())
	}

	if err := gm.AdjustStat(ctx, player.PlayerID(), game.Stat("mana"), -1); !errors.Is(err, game.ErrUnknownStat) {
		t.Fatalf("expected ErrUnknownStat, got %v", err)
	}
	if gm.UndoDepth() != 0 {
		t.Fatalf("failed stat adjust must not be captured, depth = %d", gm.UndoDepth())
	}

	if err := gm.Undo(ctx); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestMonsterDeleteCascadesThroughClient(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	gm := newTestClient(store)
	_ = gm.Join(ctx, "ABC123", "Mestre", true)

	m := game.NewMonster("Zumbi")
	_ = gm.AddMonster(ctx, m)
	if err := gm.DeleteMonster(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMonster: %v", err)
	}
	doc, _ := store.Get(ctx, "ABC123")
	if len(doc.Monsters) != 0 || len(doc.Tokens) != 0 {
		t.Fatalf("cascade failed: %+v", doc)
	}
}

func TestPlayerNoticeWhenDocumentDisappears(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	_ = newTestClient(store).Join(ctx, "ABC123", "Mestre", true)

	var mu sync.Mutex
	var notices []error
	player := newTestClient(store)
	player.OnNotice(func(err error) {
		mu.Lock()
		notices = append(notices, err)
		mu.Unlock()
	})
	_ = player.Join(ctx, "ABC123", "Lia", false)

	store.dropDocument("ABC123")

	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 || !errors.Is(notices[0], ErrSessionNotFound) {
		t.Fatalf("expected one session-not-found notice, got %v", notices)
	}
}

func TestMutateBeforeJoin(t *testing.T) {
	c := newTestClient(newFakeStore())
	if err := c.SetMap(context.Background(), "data:x"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestLeaveStopsReconciliation(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	gm := newTestClient(store)
	_ = gm.Join(ctx, "ABC123", "Mestre", true)

	player := newTestClient(store)
	_ = player.Join(ctx, "ABC123", "Lia", false)
	before := player.Snapshot()

	player.Leave()
	player.Leave() // idempotent

	_ = gm.AddToken(ctx, game.NewToken(game.TokenMonster, "Vulto"))
	if !game.Equal(player.Snapshot(), before) {
		t.Fatalf("mirror changed after Leave")
	}
}
