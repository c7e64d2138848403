// Package session hosts the per-participant sync engine: join a session
// by code, keep a local mirror of the shared document, apply mutations
// optimistically, persist whole-document overwrites, and reconcile remote
// snapshots delivered by the document store subscription.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"ritual/api/internal/docstore"
	"ritual/api/internal/game"
	"ritual/api/internal/identity"
	"ritual/api/internal/util"
)

var (
	// ErrSessionNotFound means a player tried to join a session code with
	// no document behind it. Recoverable: the participant picks another
	// code. Players never create documents.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotJoined guards mutations issued before Join or after Leave.
	ErrNotJoined = errors.New("not joined to a session")
	// ErrForbidden is returned when a player attempts a GM-only mutation
	// or touches another player's sheet.
	ErrForbidden = errors.New("operation not allowed for this role")
	// ErrNicknameRequired and ErrCodeRequired reject empty join input.
	ErrNicknameRequired = errors.New("nickname is required")
	// ErrCodeRequired rejects an empty session code.
	ErrCodeRequired = errors.New("session code is required")
	// ErrNothingToUndo is returned when the undo stack is empty.
	ErrNothingToUndo = errors.New("nothing to undo")
)

// Client is one participant's connection to a session. All methods are
// safe for concurrent use; the mirror is guarded by a single mutex, which
// matches the single-threaded event model of the original client.
type Client struct {
	store docstore.Store
	id    identity.Identity

	// onState receives the mirror after every change, local or remote.
	onState func(game.Session)
	// onNotice receives recoverable conditions (e.g. the document
	// disappearing under a player) without tearing the client down.
	onNotice func(error)

	mu       sync.Mutex
	joined   bool
	role     game.Role
	code     string
	nickname string
	playerID string
	mirror   game.Session
	undo     *game.UndoStack
	unsub    docstore.Unsubscribe
}

// NewClient binds an identity to a document store. Identity acquisition
// must have completed before this point; there is no session operation
// without one.
func NewClient(store docstore.Store, id identity.Identity) *Client {
	return &Client{
		store:    store,
		id:       id,
		onState:  func(game.Session) {},
		onNotice: func(error) {},
		undo:     game.NewUndoStack(0),
	}
}

// OnState registers the snapshot observer. Must be called before Join.
func (c *Client) OnState(fn func(game.Session)) {
	if fn != nil {
		c.onState = fn
	}
}

// OnNotice registers the recoverable-condition observer. Must be called
// before Join.
func (c *Client) OnNotice(fn func(error)) {
	if fn != nil {
		c.onNotice = fn
	}
}

// Join attaches the client to a session and starts the subscription.
// GMs create absent documents with empty defaults. Players require the
// document to exist and are appended (with a linked token) on first join;
// rejoining under the same name is a no-op.
//
// The existence check and the join write are two separate store calls, so
// two players joining under the same name at the same instant can race;
// the store resolves it last-write-wins.
func (c *Client) Join(ctx context.Context, code, nickname string, asGM bool) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return ErrNicknameRequired
	}
	code = util.NormalizeSessionCode(code)
	if code == "" {
		return ErrCodeRequired
	}

	current, err := c.store.Get(ctx, code)
	switch {
	case err == nil:
	case errors.Is(err, docstore.ErrNotFound):
		if !asGM {
			return ErrSessionNotFound
		}
		current = game.Normalize(game.Session{})
		if err := c.store.Set(ctx, code, current); err != nil {
			return fmt.Errorf("create session %s: %w", code, err)
		}
	default:
		return fmt.Errorf("look up session %s: %w", code, err)
	}

	playerID := ""
	if !asGM {
		if existing, ok := game.PlayerByName(current, nickname); ok {
			playerID = existing.ID
		} else {
			p := game.NewPlayer(nickname)
			next := game.AddPlayer(current, p, game.LinkedPlayerToken(p))
			if err := c.store.Set(ctx, code, next); err != nil {
				return fmt.Errorf("join session %s: %w", code, err)
			}
			current = next
			playerID = p.ID
		}
	}

	c.mu.Lock()
	c.joined = true
	c.code = code
	c.nickname = nickname
	c.playerID = playerID
	c.role = game.RolePlayer
	if asGM {
		c.role = game.RoleGM
	}
	c.mirror = game.Normalize(current)
	c.mu.Unlock()

	unsub, err := c.store.Subscribe(ctx, code, c.reconcile)
	if err != nil {
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		return fmt.Errorf("subscribe to session %s: %w", code, err)
	}
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()

	c.onState(game.Clone(current))
	return nil
}

// Leave cancels the subscription and detaches the client. Idempotent.
func (c *Client) Leave() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.joined = false
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Snapshot returns a copy of the local mirror.
func (c *Client) Snapshot() game.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return game.Clone(c.mirror)
}

// Role reports the joined role.
func (c *Client) Role() game.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// PlayerID reports the joined player's sheet id (empty for the GM).
func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// Code reports the joined session code.
func (c *Client) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// UndoDepth reports how many snapshots the GM can walk back.
func (c *Client) UndoDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.undo.Len()
}

// reconcile handles one remote snapshot: normalize, compare, and replace
// the mirror wholesale if anything differs. No field-level merge.
func (c *Client) reconcile(snapshot *game.Session) {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}
	if snapshot == nil {
		role := c.role
		c.mu.Unlock()
		// The GM creates the document, so absence is only alarming for
		// players.
		if role != game.RoleGM {
			c.onNotice(ErrSessionNotFound)
		}
		return
	}
	next := game.Normalize(*snapshot)
	if game.Equal(c.mirror, next) {
		c.mu.Unlock()
		return
	}
	c.mirror = next
	out := game.Clone(next)
	c.mu.Unlock()
	c.onState(out)
}

// apply runs the optimistic two-phase pattern shared by every mutation:
// compute the next document from the mirror, replace the mirror, notify,
// then overwrite the remote document. A failed persist is logged and the
// mirror stays ahead until the next reconciliation corrects it; there is
// deliberately no rollback.
func (c *Client) apply(ctx context.Context, mutate func(game.Session) (game.Session, error)) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	next, err := mutate(c.mirror)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.mirror = next
	code := c.code
	out := game.Clone(next)
	c.mu.Unlock()

	c.onState(out)

	if err := c.store.Set(ctx, code, next); err != nil {
		log.Printf("session: persist %s: %v", code, err)
	}
	return nil
}

func (c *Client) requireGM() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return ErrNotJoined
	}
	if c.role != game.RoleGM {
		return ErrForbidden
	}
	return nil
}

// SetMap replaces the map image (GM only). The data URI must already have
// passed media ingestion.
func (c *Client) SetMap(ctx context.Context, dataURI string) error {
	if err := c.requireGM(); err != nil {
		return err
	}
	return c.apply(ctx, func(s game.Session) (game.Session, error) {
		return game.SetMap(s, dataURI), nil
	})
}

// AddToken places an unlinked marker (GM only).
func (c *Client) AddToken(ctx context.Context, t game.Token) error {
	if err := c.requireGM(); err != nil {
		return err
	}
	return c.apply(ctx, func(s game.Session) (game.Session, error) {
		return game.AddToken(s, t), nil
	})
}

// UpdateToken patches a marker (GM only).
func (c *Client) UpdateToken(ctx context.Context, id string, patch game.TokenPatch) error {
	if err := c.requireGM(); err != nil {
		return err
	}
	return c.apply(ctx, func(s game.Session) (game.Session, error) {
		return game.UpdateToken(s, id, patch)
	})
}

// DeleteToken removes a marker (GM only).
func (c *Client) DeleteToken(ctx context.Context, id string) error {
	if err := c.requireGM(); err != nil {
		return err
	}
	return c.apply(ctx, func(s game.Session) (game.Session, error) {
		return game.DeleteToken(s, id), nil
	})
}

// AddMonster appends a monster and its linked token (GM only).
func (c *Client) AddMonster(ctx context.Context, m game.Monster) error {
	if err := c.requireGM(); err != nil {
		return err
	}
	return c.apply(ctx, func(s game.Session) (game.Session, error) {
		return game.AddMonster(s, m), nil
	})
}

// UpdateMonster patches a monster sheet (GM only); the linked-token
// cascade applies.
func (c *Client) UpdateMonster(ctx context.Context, id string, patch game.SheetPatch) error {
	if err := c.requireGM(); err != nil {
		return err
	}
	return c.apply(ctx, func(s game.Session) (game.Session, error) {
		return game.UpdateMonster(s, id, patch)
	})
}

// DeleteMonster removes a monster and its linked tokens (GM only).
func (c *Client) DeleteMonster(ctx context.Context, id string) error {
	if err := c.requireGM(); err != nil {
		return err
	}
	return c.apply(ctx, func(s game.Session) (game.Session, error) {
		return game.DeleteMonster(s, id), nil
	})
}

// UpdatePlayer patches a player sheet. The GM may touch any sheet and has
// the pre-mutation snapshot captured for undo; a player may only touch
// their own.
func (c *Client) UpdatePlayer(ctx context.Context, id string, patch game.SheetPatch) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	if c.role != game.RoleGM && c.playerID != id {
		c.mu.Unlock()
		return ErrForbidden
	}
	capture := c.role == game.RoleGM
	snapshot := c.mirror
	c.mu.Unlock()

	err := c.apply(ctx, func(s game.Session) (game.Session, error) {
		return game.UpdatePlayer(s, id, patch)
	})
	if err == nil && capture {
		c.mu.Lock()
		c.undo.Push(snapshot)
		c.mu.Unlock()
	}
	return err
}

// AdjustStat clamps and applies a delta to one pool, delegating to the
// entity update path so the token cascade (and GM undo capture for
// players) applies.
func (c *Client) AdjustStat(ctx context.Context, entityID string, stat game.Stat, delta int) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	if c.role != game.RoleGM && c.playerID != entityID {
		c.mu.Unlock()
		return ErrForbidden
	}
	capture := false
	if c.role == game.RoleGM {
		_, capture = game.PlayerByID(c.mirror, entityID)
	}
	snapshot := c.mirror
	c.mu.Unlock()

	err := c.apply(ctx, func(s game.Session) (game.Session, error) {
		return game.AdjustStat(s, entityID, stat, delta)
	})
	if err == nil && capture {
		c.mu.Lock()
		c.undo.Push(snapshot)
		c.mu.Unlock()
	}
	return err
}

// Undo pops the most recent captured snapshot and persists it through the
// normal mutation path, racing other writers like any other write.
// Only player-sheet updates are captured; token, monster, and map
// mutations are not.
func (c *Client) Undo(ctx context.Context) error {
	if err := c.requireGM(); err != nil {
		return err
	}
	c.mu.Lock()
	state, ok := c.undo.Pop()
	c.mu.Unlock()
	if !ok {
		return ErrNothingToUndo
	}
	return c.apply(ctx, func(game.Session) (game.Session, error) {
		return state, nil
	})
}

