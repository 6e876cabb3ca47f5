package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the event table. Statements are idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS measured_events (
		run_id      UUID        NOT NULL,
		seq         BIGINT      NOT NULL,
		timestamp   BIGINT      NOT NULL,
		peak_height BIGINT      NOT NULL,
		cycle       BIGINT      NOT NULL,
		speed       BIGINT      NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS measured_events_received_at_idx
		ON measured_events (received_at)`,
}

// execer is satisfied by *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db execer) error {
	for i, stmt := range Schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
