package compendium

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
)

//go:embed seed.json
var seedJSON []byte

// Seed returns the built-in reference corpus.
func Seed() ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(seedJSON, &entries); err != nil {
		return nil, fmt.Errorf("parse compendium seed: %w", err)
	}
	return entries, nil
}

// Service is the facade that tries Meilisearch first and falls back to
// the in-memory index.
type Service struct {
	meili  *Meili
	memory *Memory
}

// NewService creates the compendium service. meili may be nil when
// Meilisearch is not configured.
func NewService(meili *Meili, memory *Memory) *Service {
	return &Service{meili: meili, memory: memory}
}

// Search tries Meilisearch if healthy, otherwise scans memory.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("compendium: meilisearch error, falling back to memory: %v", err)
	}

	results, total, err := s.memory.Search(q)
	if err != nil {
		log.Printf("compendium: memory search: %v", err)
		return Response{Results: []Entry{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Entry resolves one entry by id. Lookups always hit the embedded
// corpus; Meilisearch only accelerates text search.
func (s *Service) Entry(id string) (Entry, bool) {
	return s.memory.Entry(id)
}

// Close stops the Meilisearch health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}
	return entries
}
