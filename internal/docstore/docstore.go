// Package docstore is the realtime document store behind every session:
// one JSON document per session code, whole-document reads and writes,
// and a subscription that delivers full snapshots as they change. Writers
// are not coordinated; the last write wins.
package docstore

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"ritual/api/internal/game"
)

// ErrNotFound is returned when no document exists for a session code.
var ErrNotFound = errors.New("document not found")

// Handler receives a snapshot on every delivery. A nil session means the
// document does not exist.
type Handler func(*game.Session)

// Unsubscribe cancels a subscription. Safe to call more than once.
type Unsubscribe func()

// Store is the contract every backend implements. Meta is a small
// per-session key/value space for data that must not ride inside the
// synced document (currently the GM key hash).
type Store interface {
	Get(ctx context.Context, code string) (game.Session, error)
	Set(ctx context.Context, code string, s game.Session) error
	Subscribe(ctx context.Context, code string, fn Handler) (Unsubscribe, error)
	GetMeta(ctx context.Context, code, key string) (string, error)
	SetMeta(ctx context.Context, code, key, value string) error
	Close() error
}

const pathNamespace = "ritual/sessions/"

// Path builds the storage path for a session code.
func Path(code string) string {
	return pathNamespace + code
}

// DefaultPollInterval is how often the SQL backends check for remote
// changes. It matches the one-second sync cadence of the original client.
const DefaultPollInterval = time.Second

// revPoller drives poll-based subscriptions for backends without a push
// channel. fetch returns the current revision (0 when absent) and the
// decoded document.
type revPoller struct {
	interval time.Duration
	fetch    func(ctx context.Context) (int64, *game.Session, error)
}

func (p *revPoller) run(ctx context.Context, fn Handler) Unsubscribe {
	interval := p.interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	done := make(chan struct{})

	go func() {
		defer close(done)
		var lastRev int64 = -1
		deliver := func() {
			rev, snapshot, err := p.fetch(ctx)
			if err != nil {
				// Transient read errors leave the mirror as-is; the next
				// tick retries.
				if !errors.Is(err, context.Canceled) {
					log.Printf("docstore: poll: %v", err)
				}
				return
			}
			if rev == lastRev {
				return
			}
			lastRev = rev
			fn(snapshot)
		}
		deliver()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deliver()
			}
		}
	}()

	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
