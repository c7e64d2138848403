package app

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"ritual/api/internal/compendium"
	"ritual/api/internal/game"
	"ritual/api/internal/identity"
	"ritual/api/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsCommand is one client-to-server message. Type selects which of the
// optional fields apply.
type wsCommand struct {
	Type       string           `json:"type"`
	ID         string           `json:"id,omitempty"`
	EntityID   string           `json:"entityId,omitempty"`
	Stat       game.Stat        `json:"stat,omitempty"`
	Delta      int              `json:"delta,omitempty"`
	Map        string           `json:"map,omitempty"`
	Token      *game.Token      `json:"token,omitempty"`
	Monster    *game.Monster    `json:"monster,omitempty"`
	Patch      *game.SheetPatch `json:"patch,omitempty"`
	TokenPatch *game.TokenPatch `json:"tokenPatch,omitempty"`
}

// wsEvent is one server-to-client message.
type wsEvent struct {
	Type      string        `json:"type"`
	Session   *game.Session `json:"session,omitempty"`
	PlayerID  string        `json:"playerId,omitempty"`
	UndoDepth int           `json:"undoDepth,omitempty"`
	Code      string        `json:"code,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type wsConn struct {
	conn    *websocket.Conn
	client  *session.Client
	service *Service
	asGM    bool

	mu     sync.Mutex
	closed bool
	send   chan wsEvent
}

// handleWS authenticates and joins a session over a WebSocket. Browsers
// cannot set headers on WS requests, so the identity token and GM key
// arrive as query parameters.
func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	uid, err := s.service.VerifyToken(query.Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH_ERROR", "Unauthorized", nil)
		return
	}

	code := query.Get("session")
	nickname := query.Get("name")
	asGM := query.Get("gm") == "1"
	if asGM {
		if err := s.service.VerifyGMKey(r.Context(), code, query.Get("gmKey")); err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}

	c := &wsConn{
		conn:    conn,
		client:  session.NewClient(s.service.Store(), identity.Identity{UID: uid}),
		service: s.service,
		asGM:    asGM,
		send:    make(chan wsEvent, 32),
	}
	c.client.OnState(c.pushState)
	c.client.OnNotice(c.pushNotice)

	go c.writePump()

	if err := c.client.Join(context.Background(), code, nickname, asGM); err != nil {
		_, errCode, message, _ := mapError(err)
		c.trySend(wsEvent{Type: "error", Code: errCode, Error: message})
		c.closeSend()
		conn.Close()
		return
	}
	c.trySend(wsEvent{Type: "joined", PlayerID: c.client.PlayerID()})

	c.readPump()
}

// pushState forwards a fresh snapshot to the browser. Monster pools are
// the GM's secret; players get them zeroed.
func (c *wsConn) pushState(doc game.Session) {
	out := doc
	if !c.asGM {
		out = game.RedactMonsterPools(doc)
	}
	c.trySend(wsEvent{Type: "state", Session: &out, UndoDepth: c.client.UndoDepth()})
}

func (c *wsConn) pushNotice(err error) {
	_, code, message, _ := mapError(err)
	c.trySend(wsEvent{Type: "error", Code: code, Error: message})
}

// trySend drops the event when the send buffer is full; a later state
// snapshot supersedes anything dropped.
func (c *wsConn) trySend(ev wsEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		log.Printf("ws: send buffer full, dropping %s event", ev.Type)
	}
}

// closeSend shuts the outgoing channel exactly once; late subscription
// deliveries become no-ops in trySend.
func (c *wsConn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsConn) writePump() {
	defer c.conn.Close()
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func (c *wsConn) readPump() {
	defer func() {
		c.client.Leave()
		c.closeSend()
		c.conn.Close()
	}()

	for {
		var cmd wsCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			return
		}
		if err := c.dispatch(context.Background(), cmd); err != nil {
			c.pushNotice(err)
		}
	}
}

func (c *wsConn) dispatch(ctx context.Context, cmd wsCommand) error {
	switch cmd.Type {
	case "set_map":
		return c.client.SetMap(ctx, cmd.Map)
	case "add_token":
		if cmd.Token == nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "token is required", nil)
		}
		return c.client.AddToken(ctx, *cmd.Token)
	case "update_token":
		if cmd.TokenPatch == nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tokenPatch is required", nil)
		}
		return c.client.UpdateToken(ctx, cmd.ID, *cmd.TokenPatch)
	case "delete_token":
		return c.client.DeleteToken(ctx, cmd.ID)
	case "add_monster":
		if cmd.Monster == nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "monster is required", nil)
		}
		return c.client.AddMonster(ctx, *cmd.Monster)
	case "update_monster":
		if cmd.Patch == nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "patch is required", nil)
		}
		return c.client.UpdateMonster(ctx, cmd.ID, *cmd.Patch)
	case "delete_monster":
		return c.client.DeleteMonster(ctx, cmd.ID)
	case "spawn_entry":
		entry, ok := c.service.CompendiumEntry(cmd.ID)
		if !ok || entry.Kind != compendium.KindCreature {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown creature entry", map[string]any{"id": cmd.ID})
		}
		m := game.NewMonster(entry.Name)
		if entry.PV > 0 {
			m.PV = game.Pool{Current: entry.PV, Max: entry.PV}
		}
		return c.client.AddMonster(ctx, m)
	case "update_player":
		if cmd.Patch == nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "patch is required", nil)
		}
		return c.client.UpdatePlayer(ctx, cmd.ID, *cmd.Patch)
	case "adjust_stat":
		return c.client.AdjustStat(ctx, cmd.EntityID, cmd.Stat, cmd.Delta)
	case "undo":
		return c.client.Undo(ctx)
	default:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown command type", map[string]any{"type": cmd.Type})
	}
}
