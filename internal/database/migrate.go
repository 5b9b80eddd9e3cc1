package database

import (
	"context"
	"fmt"
	"log/slog"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         BIGSERIAL PRIMARY KEY,
	file_id    TEXT NOT NULL,
	filename   TEXT NOT NULL,
	query      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'PENDING',
	result     TEXT,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_file_id_key ON jobs (file_id);
CREATE INDEX IF NOT EXISTS jobs_status_created_idx ON jobs (status, created_at);
`

// Migrate creates the jobs table if it does not exist. The unique index on
// file_id backs the ledger's duplicate-job guarantee.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, jobsSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("database schema ensured")
	return nil
}
