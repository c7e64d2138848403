package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ritual/api/internal/game"
)

// PostgresStore keeps session documents in a JSONB column. Like the
// sqlite backend it polls a revision counter; the cadence matches the
// original client's sync interval, so nothing here needs a dedicated
// listen connection.
type PostgresStore struct {
	db       *sql.DB
	interval time.Duration
}

// NewPostgresStore connects, verifies the connection, and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string, pollInterval time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := initPostgresSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db, interval: pollInterval}, nil
}

func initPostgresSchema(ctx context.Context, db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			path TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			rev BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS document_meta (
			path TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (path, key)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, code string) (game.Session, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM documents WHERE path = $1`, Path(code)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Session{}, ErrNotFound
	}
	if err != nil {
		return game.Session{}, fmt.Errorf("get document: %w", err)
	}
	var doc game.Session
	if err := json.Unmarshal(raw, &doc); err != nil {
		return game.Session{}, fmt.Errorf("decode document: %w", err)
	}
	return game.Normalize(doc), nil
}

func (s *PostgresStore) Set(ctx context.Context, code string, doc game.Session) error {
	payload, err := json.Marshal(game.Normalize(doc))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, doc, rev, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (path) DO UPDATE SET
			doc = EXCLUDED.doc,
			rev = documents.rev + 1,
			updated_at = now()
	`, Path(code), payload)
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, code string, fn Handler) (Unsubscribe, error) {
	poller := &revPoller{
		interval: s.interval,
		fetch: func(ctx context.Context) (int64, *game.Session, error) {
			var rev int64
			var raw []byte
			err := s.db.QueryRowContext(ctx, `SELECT rev, doc FROM documents WHERE path = $1`, Path(code)).Scan(&rev, &raw)
			if errors.Is(err, sql.ErrNoRows) {
				return 0, nil, nil
			}
			if err != nil {
				return 0, nil, err
			}
			var doc game.Session
			if err := json.Unmarshal(raw, &doc); err != nil {
				return 0, nil, err
			}
			normalized := game.Normalize(doc)
			return rev, &normalized, nil
		},
	}
	return poller.run(ctx, fn), nil
}

func (s *PostgresStore) GetMeta(ctx context.Context, code, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM document_meta WHERE path = $1 AND key = $2`, Path(code), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get meta: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) SetMeta(ctx context.Context, code, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_meta (path, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (path, key) DO UPDATE SET value = EXCLUDED.value
	`, Path(code), key, value)
	if err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
