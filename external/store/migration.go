package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE recording_session_state AS ENUM ('recording', 'paused', 'stopped_unsaved', 'saved', 'discarded'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS recording_sessions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		context_id TEXT NOT NULL,
		state recording_session_state NOT NULL DEFAULT 'recording',
		encoding TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		last_chunk_at TIMESTAMPTZ,
		next_sequence BIGINT NOT NULL DEFAULT 0,
		display_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recording_sessions_incomplete ON recording_sessions (started_at) WHERE state NOT IN ('saved', 'discarded')`,
	`CREATE TABLE IF NOT EXISTS recording_chunks (
		session_id UUID NOT NULL REFERENCES recording_sessions(id) ON DELETE CASCADE,
		sequence BIGINT NOT NULL,
		payload BYTEA NOT NULL CHECK (octet_length(payload) > 0),
		written_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, sequence)
	)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
