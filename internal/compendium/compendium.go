// Package compendium serves the rules reference players browse during a
// session: conditions, rituals, and creature lore. Entries are read-only
// seed data; search goes to Meilisearch when it is up and falls back to
// the in-memory index otherwise.
package compendium

// EntryKind identifies the kind of reference entry.
type EntryKind string

const (
	KindCondition EntryKind = "condition"
	KindRitual    EntryKind = "ritual"
	KindCreature  EntryKind = "creature"
)

// Entry is one reference article. PV is the starting vitality pool for
// creature entries spawned into a session; zero means the session
// default applies.
type Entry struct {
	ID      string    `json:"id"`
	Kind    EntryKind `json:"kind"`
	Name    string    `json:"name"`
	Summary string    `json:"summary"`
	Text    string    `json:"text"`
	Tags    []string  `json:"tags,omitempty"`
	PV      int       `json:"pv,omitempty"`
}

// Query describes a compendium search.
type Query struct {
	Text       string
	FilterKind EntryKind // empty = all kinds
	Limit      int
	Offset     int
}

// Response is the envelope returned by the compendium endpoint.
type Response struct {
	Results []Entry `json:"results"`
	Total   int     `json:"total"`
	Query   string  `json:"query"`
}

// Searcher can execute a compendium search.
type Searcher interface {
	Search(q Query) ([]Entry, int, error)
	Healthy() bool
}
