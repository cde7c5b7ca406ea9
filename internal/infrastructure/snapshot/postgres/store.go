package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists monitor snapshots as JSON rows, one per flush.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082902)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS rag_metric_snapshots (
	id TEXT PRIMARY KEY,
	taken_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS rag_metric_snapshots_taken_at_idx
	ON rag_metric_snapshots (taken_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure snapshot schema: %w", err)
	}
	return tx.Commit()
}

func (s *Store) SaveSnapshot(ctx context.Context, takenAt time.Time, payload []byte) error {
	const query = `
INSERT INTO rag_metric_snapshots (id, taken_at, payload)
VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), takenAt, payload); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}
