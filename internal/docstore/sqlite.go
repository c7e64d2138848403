package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ritual/api/internal/game"
)

// SQLiteStore is the embedded default backend. Subscriptions poll a
// revision counter; writes bump it.
type SQLiteStore struct {
	db       *sql.DB
	interval time.Duration
}

// NewSQLiteStore opens (or creates) the database file and ensures the
// schema exists.
func NewSQLiteStore(path string, pollInterval time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, interval: pollInterval}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			path TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			rev INTEGER NOT NULL DEFAULT 1,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS document_meta (
			path TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (path, key)
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, code string) (game.Session, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM documents WHERE path = ?`, Path(code)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Session{}, ErrNotFound
	}
	if err != nil {
		return game.Session{}, fmt.Errorf("get document: %w", err)
	}
	var doc game.Session
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return game.Session{}, fmt.Errorf("decode document: %w", err)
	}
	return game.Normalize(doc), nil
}

func (s *SQLiteStore) Set(ctx context.Context, code string, doc game.Session) error {
	payload, err := json.Marshal(game.Normalize(doc))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, doc, rev, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			doc = excluded.doc,
			rev = documents.rev + 1,
			updated_at = excluded.updated_at
	`, Path(code), string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Subscribe(ctx context.Context, code string, fn Handler) (Unsubscribe, error) {
	poller := &revPoller{
		interval: s.interval,
		fetch: func(ctx context.Context) (int64, *game.Session, error) {
			var rev int64
			var raw string
			err := s.db.QueryRowContext(ctx, `SELECT rev, doc FROM documents WHERE path = ?`, Path(code)).Scan(&rev, &raw)
			if errors.Is(err, sql.ErrNoRows) {
				return 0, nil, nil
			}
			if err != nil {
				return 0, nil, err
			}
			var doc game.Session
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return 0, nil, err
			}
			normalized := game.Normalize(doc)
			return rev, &normalized, nil
		},
	}
	return poller.run(ctx, fn), nil
}

func (s *SQLiteStore) GetMeta(ctx context.Context, code, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM document_meta WHERE path = ? AND key = ?`, Path(code), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get meta: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, code, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_meta (path, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(path, key) DO UPDATE SET value = excluded.value
	`, Path(code), key, value)
	if err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
