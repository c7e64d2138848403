package compendium

import (
	"sort"
	"strings"
)

// Memory is the fallback index: a linear scan over the seed entries.
// The corpus is small enough that anything cleverer would be noise.
type Memory struct {
	entries []Entry
}

// NewMemory builds the fallback index.
func NewMemory(entries []Entry) *Memory {
	sorted := append([]Entry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Memory{entries: sorted}
}

// Healthy always reports true; memory never goes away.
func (m *Memory) Healthy() bool { return true }

// Entry looks up a single entry by id.
func (m *Memory) Entry(id string) (Entry, bool) {
	for _, e := range m.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Search matches case-insensitively against name, summary, text, and
// tags. An empty query text returns everything of the requested kind.
func (m *Memory) Search(q Query) ([]Entry, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var matched []Entry
	for _, e := range m.entries {
		if q.FilterKind != "" && e.Kind != q.FilterKind {
			continue
		}
		if needle != "" && !entryMatches(e, needle) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Entry{}, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func entryMatches(e Entry, needle string) bool {
	if strings.Contains(strings.ToLower(e.Name), needle) ||
		strings.Contains(strings.ToLower(e.Summary), needle) ||
		strings.Contains(strings.ToLower(e.Text), needle) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
