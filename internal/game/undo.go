package game

import "time"

// UndoSnapshot is one captured pre-mutation state.
type UndoSnapshot struct {
	State     Session
	Timestamp time.Time
}

// UndoStack is a bounded, in-memory history of pre-mutation snapshots.
// It is GM-only and never persisted; only player-sheet updates are
// captured, a deliberate asymmetry carried over from the source product.
type UndoStack struct {
	entries []UndoSnapshot
	limit   int
}

// DefaultUndoLimit caps how many snapshots the GM can walk back.
const DefaultUndoLimit = 8

// NewUndoStack returns a stack bounded at limit entries (DefaultUndoLimit
// when limit is not positive).
func NewUndoStack(limit int) *UndoStack {
	if limit <= 0 {
		limit = DefaultUndoLimit
	}
	return &UndoStack{limit: limit}
}

// Push records a deep copy of the pre-mutation state, evicting the oldest
// entry once the bound is exceeded.
func (u *UndoStack) Push(s Session) {
	u.entries = append(u.entries, UndoSnapshot{State: Clone(s), Timestamp: time.Now()})
	if len(u.entries) > u.limit {
		u.entries = u.entries[len(u.entries)-u.limit:]
	}
}

// Pop removes and returns the most recent snapshot.
func (u *UndoStack) Pop() (Session, bool) {
	if len(u.entries) == 0 {
		return Session{}, false
	}
	last := u.entries[len(u.entries)-1]
	u.entries = u.entries[:len(u.entries)-1]
	return last.State, true
}

// Len reports how many snapshots are held.
func (u *UndoStack) Len() int {
	return len(u.entries)
}
