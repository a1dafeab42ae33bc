package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE session_status AS ENUM ('active', 'paused', 'completed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		track TEXT NOT NULL,
		status session_status NOT NULL DEFAULT 'active',
		summary TEXT NOT NULL DEFAULT '',
		goals TEXT[] NOT NULL DEFAULT '{}',
		tags TEXT[] NOT NULL DEFAULT '{}',
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		last_message_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_owner_activity ON sessions (owner_id, last_message_at DESC) WHERE NOT archived`,
	`CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		session_token UUID NOT NULL REFERENCES sessions(token),
		owner_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		body TEXT NOT NULL,
		sequence BIGINT NOT NULL,
		word_count INTEGER NOT NULL DEFAULT 0,
		sentiment TEXT NOT NULL DEFAULT 'neutral',
		reactions JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(session_token, sequence)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_token, sequence)`,
}

// RunMigration applies the schema on startup. Statements are idempotent.
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
