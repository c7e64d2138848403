// Package game holds the session document model and the pure state
// transitions applied to it. Nothing in here talks to storage or the
// network; callers apply a mutation to a snapshot and persist the result.
package game

import "ritual/api/internal/util"

// Role identifies a participant's privilege level within a session.
type Role string

const (
	RoleGM     Role = "gm"
	RolePlayer Role = "player"
)

// Condition is a named status effect drawn from a fixed set.
type Condition string

const (
	ConditionBleeding Condition = "bleeding"
	ConditionStunned  Condition = "stunned"
	ConditionFear     Condition = "fear"
	ConditionMadness  Condition = "madness"
)

// Conditions lists every valid condition id.
var Conditions = []Condition{ConditionBleeding, ConditionStunned, ConditionFear, ConditionMadness}

// ValidCondition reports whether id names a known condition.
func ValidCondition(id Condition) bool {
	for _, c := range Conditions {
		if c == id {
			return true
		}
	}
	return false
}

// Stat names a resource pool on a player or monster.
type Stat string

const (
	StatPV  Stat = "pv"  // health
	StatPD  Stat = "pd"  // determination
	StatSAN Stat = "san" // sanity
)

// Pool is a bounded numeric resource. 0 <= Current <= Max whenever the
// value was produced by AdjustStat; raw patches may bypass the clamp.
type Pool struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Player is a participant's character sheet. Name doubles as the login
// key: there is no separate account identity.
type Player struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Title      string      `json:"title,omitempty"`
	Avatar     string      `json:"avatar,omitempty"`
	Image      string      `json:"image,omitempty"`
	PV         Pool        `json:"pv"`
	PD         Pool        `json:"pd"`
	SAN        Pool        `json:"san"`
	Conditions []Condition `json:"conditions"`
}

// Monster is a GM-managed entity with the same sheet shape as a Player.
// Pool values are present in the synced document for every participant;
// hiding them from players is a presentation policy, not storage ACL.
type Monster struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Title      string      `json:"title,omitempty"`
	Avatar     string      `json:"avatar,omitempty"`
	Image      string      `json:"image,omitempty"`
	PV         Pool        `json:"pv"`
	PD         Pool        `json:"pd"`
	SAN        Pool        `json:"san"`
	Conditions []Condition `json:"conditions"`
}

// TokenKind distinguishes player tokens from monster tokens.
type TokenKind string

const (
	TokenPlayer  TokenKind = "player"
	TokenMonster TokenKind = "monster"
)

// Token is a map-placed marker. When LinkedID is set, pv/name/avatar/image
// are mirrored from the linked entity on every entity update; the token
// copies are persisted anyway so a renderer never needs a join.
type Token struct {
	ID         string      `json:"id"`
	Type       TokenKind   `json:"type"`
	Name       string      `json:"name"`
	LinkedID   string      `json:"linkedId,omitempty"`
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Size       int         `json:"size"`
	Avatar     string      `json:"avatar,omitempty"`
	Image      string      `json:"image,omitempty"`
	PV         Pool        `json:"pv"`
	Conditions []Condition `json:"conditions"`
}

// Session is the root aggregate, one document per session code. The four
// top-level fields are the entire persisted schema; readers must tolerate
// older documents where any of them is missing (see Normalize).
type Session struct {
	Map      string    `json:"map,omitempty"`
	Tokens   []Token   `json:"tokens"`
	Players  []Player  `json:"players"`
	Monsters []Monster `json:"monsters"`
}

// Default pools for a freshly joined character.
const (
	defaultPV  = 20
	defaultPD  = 5
	defaultSAN = 100
)

// Token placement defaults: center of the map, 60px diameter.
const (
	defaultTokenX    = 50
	defaultTokenY    = 50
	defaultTokenSize = 60
)

// NewPlayer builds a character sheet with starting pools.
func NewPlayer(name string) Player {
	return Player{
		ID:         util.NewID("plr"),
		Name:       name,
		Avatar:     "🎭",
		PV:         Pool{Current: defaultPV, Max: defaultPV},
		PD:         Pool{Current: defaultPD, Max: defaultPD},
		SAN:        Pool{Current: defaultSAN, Max: defaultSAN},
		Conditions: []Condition{},
	}
}

// NewMonster builds a GM-controlled entity with the same starting pools.
func NewMonster(name string) Monster {
	return Monster{
		ID:         util.NewID("mon"),
		Name:       name,
		Avatar:     "👹",
		PV:         Pool{Current: defaultPV, Max: defaultPV},
		PD:         Pool{Current: defaultPD, Max: defaultPD},
		SAN:        Pool{Current: defaultSAN, Max: defaultSAN},
		Conditions: []Condition{},
	}
}

// NewToken builds an unlinked marker at the map center.
func NewToken(kind TokenKind, name string) Token {
	return Token{
		ID:         util.NewID("tok"),
		Type:       kind,
		Name:       name,
		X:          defaultTokenX,
		Y:          defaultTokenY,
		Size:       defaultTokenSize,
		PV:         Pool{Current: defaultPV, Max: defaultPV},
		Conditions: []Condition{},
	}
}

// LinkedPlayerToken builds the marker that mirrors a player sheet.
func LinkedPlayerToken(p Player) Token {
	t := NewToken(TokenPlayer, p.Name)
	t.LinkedID = p.ID
	t.Avatar = p.Avatar
	t.Image = p.Image
	t.PV = p.PV
	return t
}

// LinkedMonsterToken builds the marker that mirrors a monster sheet.
func LinkedMonsterToken(m Monster) Token {
	t := NewToken(TokenMonster, m.Name)
	t.LinkedID = m.ID
	t.Avatar = m.Avatar
	t.Image = m.Image
	t.PV = m.PV
	return t
}
