package compendium

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxEntries = "ritual_compendium"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client, configures the index, and seeds
// it. The caller should proceed with the fallback when the instance is
// down; the health loop picks it back up.
func NewMeili(url, apiKey string, entries []Entry) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("compendium: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
		if err := m.IndexEntries(entries); err != nil {
			log.Printf("compendium: seed index: %v", err)
		}
	}

	go m.healthLoop(entries)
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxEntries,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("compendium: create index %s (may already exist): %v", idxEntries, err)
	}

	index := m.client.Index(idxEntries)
	filterable := []interface{}{"kind", "tags"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("compendium: update filterable attrs: %v", err)
	}
	searchable := []string{"name", "summary", "text", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("compendium: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop(entries []Entry) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("compendium: meilisearch recovered, reseeding index")
				m.configureIndex()
				if err := m.IndexEntries(entries); err != nil {
					log.Printf("compendium: reseed index: %v", err)
				}
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the compendium index.
func (m *Meili) Search(q Query) ([]Entry, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	offset := int64(q.Offset)
	if offset < 0 {
		offset = 0
	}

	sr := &meili.SearchRequest{
		Limit:  limit,
		Offset: offset,
	}
	if q.FilterKind != "" {
		sr.Filter = fmt.Sprintf("kind = %q", q.FilterKind)
	}

	resp, err := m.client.Index(idxEntries).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Entry, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToEntry(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToEntry(hit meili.Hit) Entry {
	return Entry{
		ID:      decodeString(hit, "id"),
		Kind:    EntryKind(decodeString(hit, "kind")),
		Name:    decodeString(hit, "name"),
		Summary: decodeString(hit, "summary"),
		Text:    decodeString(hit, "text"),
		Tags:    decodeStrings(hit, "tags"),
		PV:      decodeInt(hit, "pv"),
	}
}

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func decodeStrings(hit meili.Hit, key string) []string {
	raw, ok := hit[key]
	if !ok {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// IndexEntries bulk-indexes the seed corpus.
func (m *Meili) IndexEntries(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := m.client.Index(idxEntries).AddDocuments(entries, nil)
	return err
}
