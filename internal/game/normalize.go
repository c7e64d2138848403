package game

import "reflect"

// Normalize fills the defaults a reader must assume for documents written
// by older schema versions: missing collections become empty, entity
// condition lists become empty. Normalize is idempotent and never fails on
// a partial document.
func Normalize(s Session) Session {
	out := s
	if out.Tokens == nil {
		out.Tokens = []Token{}
	}
	if out.Players == nil {
		out.Players = []Player{}
	}
	if out.Monsters == nil {
		out.Monsters = []Monster{}
	}
	out.Tokens = append([]Token{}, out.Tokens...)
	out.Players = append([]Player{}, out.Players...)
	out.Monsters = append([]Monster{}, out.Monsters...)
	for i := range out.Tokens {
		if out.Tokens[i].Conditions == nil {
			out.Tokens[i].Conditions = []Condition{}
		}
	}
	for i := range out.Players {
		if out.Players[i].Conditions == nil {
			out.Players[i].Conditions = []Condition{}
		}
	}
	for i := range out.Monsters {
		if out.Monsters[i].Conditions == nil {
			out.Monsters[i].Conditions = []Condition{}
		}
	}
	return out
}

// Clone deep-copies a session so callers can mutate one snapshot without
// aliasing another (the undo stack depends on this).
func Clone(s Session) Session {
	out := s
	out.Tokens = make([]Token, len(s.Tokens))
	copy(out.Tokens, s.Tokens)
	for i := range out.Tokens {
		out.Tokens[i].Conditions = append([]Condition{}, s.Tokens[i].Conditions...)
	}
	out.Players = make([]Player, len(s.Players))
	copy(out.Players, s.Players)
	for i := range out.Players {
		out.Players[i].Conditions = append([]Condition{}, s.Players[i].Conditions...)
	}
	out.Monsters = make([]Monster, len(s.Monsters))
	copy(out.Monsters, s.Monsters)
	for i := range out.Monsters {
		out.Monsters[i].Conditions = append([]Condition{}, s.Monsters[i].Conditions...)
	}
	return out
}

// Equal compares two sessions structurally after normalization, the same
// way the reconciler decides whether a remote snapshot changes anything.
func Equal(a, b Session) bool {
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}

// RedactMonsterPools zeroes monster resource pools. The gateway applies
// this to snapshots pushed to non-GM connections; the stored document is
// never redacted.
func RedactMonsterPools(s Session) Session {
	out := Clone(s)
	for i := range out.Monsters {
		out.Monsters[i].PV = Pool{}
		out.Monsters[i].PD = Pool{}
		out.Monsters[i].SAN = Pool{}
	}
	return out
}
