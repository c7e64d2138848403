package game

import (
	"errors"
	"fmt"
)

var (
	// ErrEntityNotFound is returned when a mutation targets an id that is
	// not present in the session document.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrUnknownStat is returned for a stat name outside pv/pd/san.
	ErrUnknownStat = errors.New("unknown stat")
)

// PoolPatch optionally replaces one or both halves of a resource pool.
type PoolPatch struct {
	Current *int `json:"current,omitempty"`
	Max     *int `json:"max,omitempty"`
}

func (p *PoolPatch) apply(pool Pool) Pool {
	if p == nil {
		return pool
	}
	if p.Current != nil {
		pool.Current = *p.Current
	}
	if p.Max != nil {
		pool.Max = *p.Max
	}
	return pool
}

// TokenPatch is a partial token update; nil fields are left untouched.
type TokenPatch struct {
	Name       *string      `json:"name,omitempty"`
	X          *float64     `json:"x,omitempty"`
	Y          *float64     `json:"y,omitempty"`
	Size       *int         `json:"size,omitempty"`
	Avatar     *string      `json:"avatar,omitempty"`
	Image      *string      `json:"image,omitempty"`
	PV         *PoolPatch   `json:"pv,omitempty"`
	Conditions *[]Condition `json:"conditions,omitempty"`
}

// SheetPatch is a partial update for a player or monster sheet.
type SheetPatch struct {
	Name       *string      `json:"name,omitempty"`
	Title      *string      `json:"title,omitempty"`
	Avatar     *string      `json:"avatar,omitempty"`
	Image      *string      `json:"image,omitempty"`
	PV         *PoolPatch   `json:"pv,omitempty"`
	PD         *PoolPatch   `json:"pd,omitempty"`
	SAN        *PoolPatch   `json:"san,omitempty"`
	Conditions *[]Condition `json:"conditions,omitempty"`
}

// SetMap replaces the map image data URI.
func SetMap(s Session, dataURI string) Session {
	out := Clone(s)
	out.Map = dataURI
	return out
}

// AddPlayer appends a player and their linked token. Join uses this once
// per new nickname; repeated joins under an existing name are no-ops at
// the call site.
func AddPlayer(s Session, p Player, t Token) Session {
	out := Clone(s)
	out.Players = append(out.Players, p)
	out.Tokens = append(out.Tokens, t)
	return out
}

// AddToken appends an unlinked marker.
func AddToken(s Session, t Token) Session {
	out := Clone(s)
	out.Tokens = append(out.Tokens, t)
	return out
}

// AddMonster appends a monster together with its linked token.
func AddMonster(s Session, m Monster) Session {
	out := Clone(s)
	out.Monsters = append(out.Monsters, m)
	out.Tokens = append(out.Tokens, LinkedMonsterToken(m))
	return out
}

// DeleteToken removes a marker by id. Missing ids are not an error: a
// delete racing a remote delete should converge, not fail.
func DeleteToken(s Session, id string) Session {
	out := Clone(s)
	kept := out.Tokens[:0]
	for _, t := range out.Tokens {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	out.Tokens = kept
	return out
}

// DeleteMonster removes a monster and cascades to every token linked to it.
func DeleteMonster(s Session, id string) Session {
	out := Clone(s)
	monsters := out.Monsters[:0]
	for _, m := range out.Monsters {
		if m.ID != id {
			monsters = append(monsters, m)
		}
	}
	out.Monsters = monsters
	tokens := out.Tokens[:0]
	for _, t := range out.Tokens {
		if t.LinkedID != id {
			tokens = append(tokens, t)
		}
	}
	out.Tokens = tokens
	return out
}

// UpdateToken applies a partial update to a marker.
func UpdateToken(s Session, id string, patch TokenPatch) (Session, error) {
	out := Clone(s)
	for i := range out.Tokens {
		if out.Tokens[i].ID != id {
			continue
		}
		t := &out.Tokens[i]
		if patch.Name != nil {
			t.Name = *patch.Name
		}
		if patch.X != nil {
			t.X = *patch.X
		}
		if patch.Y != nil {
			t.Y = *patch.Y
		}
		if patch.Size != nil {
			t.Size = *patch.Size
		}
		if patch.Avatar != nil {
			t.Avatar = *patch.Avatar
		}
		if patch.Image != nil {
			t.Image = *patch.Image
		}
		t.PV = patch.PV.apply(t.PV)
		if patch.Conditions != nil {
			t.Conditions = append([]Condition{}, (*patch.Conditions)...)
		}
		return out, nil
	}
	return s, fmt.Errorf("token %s: %w", id, ErrEntityNotFound)
}

// UpdatePlayer applies a partial update to a player sheet and cascades the
// mirrored fields (pv, name, avatar, image) into every token linked to it.
func UpdatePlayer(s Session, id string, patch SheetPatch) (Session, error) {
	out := Clone(s)
	for i := range out.Players {
		if out.Players[i].ID != id {
			continue
		}
		applySheetPatch(sheetOfPlayer(&out.Players[i]), patch)
		cascadeToTokens(&out, id, out.Players[i].Name, out.Players[i].Avatar, out.Players[i].Image, out.Players[i].PV)
		return out, nil
	}
	return s, fmt.Errorf("player %s: %w", id, ErrEntityNotFound)
}

// UpdateMonster applies a partial update to a monster sheet with the same
// linked-token cascade as UpdatePlayer.
func UpdateMonster(s Session, id string, patch SheetPatch) (Session, error) {
	out := Clone(s)
	for i := range out.Monsters {
		if out.Monsters[i].ID != id {
			continue
		}
		applySheetPatch(sheetOfMonster(&out.Monsters[i]), patch)
		cascadeToTokens(&out, id, out.Monsters[i].Name, out.Monsters[i].Avatar, out.Monsters[i].Image, out.Monsters[i].PV)
		return out, nil
	}
	return s, fmt.Errorf("monster %s: %w", id, ErrEntityNotFound)
}

// sheet is a field-pointer view over Player and Monster, which share a
// sheet shape but are distinct types in the document.
type sheet struct {
	name, title, avatar, image *string
	pv, pd, san                *Pool
	conditions                 *[]Condition
}

func sheetOfPlayer(p *Player) sheet {
	return sheet{&p.Name, &p.Title, &p.Avatar, &p.Image, &p.PV, &p.PD, &p.SAN, &p.Conditions}
}

func sheetOfMonster(m *Monster) sheet {
	return sheet{&m.Name, &m.Title, &m.Avatar, &m.Image, &m.PV, &m.PD, &m.SAN, &m.Conditions}
}

func applySheetPatch(sh sheet, patch SheetPatch) {
	if patch.Name != nil {
		*sh.name = *patch.Name
	}
	if patch.Title != nil {
		*sh.title = *patch.Title
	}
	if patch.Avatar != nil {
		*sh.avatar = *patch.Avatar
		*sh.image = "" // avatar glyph and uploaded image are mutually exclusive
	}
	if patch.Image != nil {
		*sh.image = *patch.Image
		*sh.avatar = ""
	}
	*sh.pv = patch.PV.apply(*sh.pv)
	*sh.pd = patch.PD.apply(*sh.pd)
	*sh.san = patch.SAN.apply(*sh.san)
	if patch.Conditions != nil {
		*sh.conditions = append([]Condition{}, (*patch.Conditions)...)
	}
}

func cascadeToTokens(s *Session, linkedID, name, avatar, image string, pv Pool) {
	for i := range s.Tokens {
		if s.Tokens[i].LinkedID != linkedID {
			continue
		}
		s.Tokens[i].Name = name
		s.Tokens[i].Avatar = avatar
		s.Tokens[i].Image = image
		s.Tokens[i].PV = pv
	}
}

// AdjustStat clamps current into [0, max] and delegates to the entity
// update path, so the cascade applies. This is the only place the clamp is
// enforced; raw patches can bypass it, matching the source behavior.
func AdjustStat(s Session, entityID string, stat Stat, delta int) (Session, error) {
	if stat != StatPV && stat != StatPD && stat != StatSAN {
		return s, fmt.Errorf("%q: %w", stat, ErrUnknownStat)
	}
	pool, err := findPool(s, entityID, stat)
	if err != nil {
		return s, err
	}
	next := pool.Current + delta
	if next < 0 {
		next = 0
	}
	if next > pool.Max {
		next = pool.Max
	}
	patch := SheetPatch{}
	pp := &PoolPatch{Current: &next}
	switch stat {
	case StatPV:
		patch.PV = pp
	case StatPD:
		patch.PD = pp
	case StatSAN:
		patch.SAN = pp
	}
	if _, ok := findPlayer(s, entityID); ok {
		return UpdatePlayer(s, entityID, patch)
	}
	return UpdateMonster(s, entityID, patch)
}

func findPool(s Session, entityID string, stat Stat) (Pool, error) {
	if p, ok := findPlayer(s, entityID); ok {
		return poolOf(p.PV, p.PD, p.SAN, stat), nil
	}
	if m, ok := findMonster(s, entityID); ok {
		return poolOf(m.PV, m.PD, m.SAN, stat), nil
	}
	return Pool{}, fmt.Errorf("entity %s: %w", entityID, ErrEntityNotFound)
}

func poolOf(pv, pd, san Pool, stat Stat) Pool {
	switch stat {
	case StatPD:
		return pd
	case StatSAN:
		return san
	default:
		return pv
	}
}

func findPlayer(s Session, id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

func findMonster(s Session, id string) (Monster, bool) {
	for _, m := range s.Monsters {
		if m.ID == id {
			return m, true
		}
	}
	return Monster{}, false
}

// PlayerByName returns the player whose name matches exactly. Names are
// unique within a session; they are the join key.
func PlayerByName(s Session, name string) (Player, bool) {
	for _, p := range s.Players {
		if p.Name == name {
			return p, true
		}
	}
	return Player{}, false
}

// PlayerByID looks a player up by id.
func PlayerByID(s Session, id string) (Player, bool) {
	return findPlayer(s, id)
}

// MonsterByID looks a monster up by id.
func MonsterByID(s Session, id string) (Monster, bool) {
	return findMonster(s, id)
}
