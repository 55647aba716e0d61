package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schemaStatements create the application tables and indexes. Statements are
// idempotent so EnsureSchema can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username VARCHAR(50) UNIQUE NOT NULL,
	email VARCHAR(255) UNIQUE NOT NULL,
	password_hash VARCHAR(255) NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS provider_credentials (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider VARCHAR(50) NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT,
	token_type VARCHAR(50) NOT NULL DEFAULT 'Bearer',
	expires_at TIMESTAMPTZ,
	scope TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS stream_sessions (
	session_key VARCHAR(255) PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	broadcast_id VARCHAR(255) UNIQUE NOT NULL,
	stream_id VARCHAR(255) UNIQUE NOT NULL,
	ingest_key VARCHAR(255) UNIQUE NOT NULL,
	ingest_url TEXT NOT NULL,
	title VARCHAR(255) NOT NULL,
	description TEXT,
	privacy_status VARCHAR(50) NOT NULL DEFAULT 'public',
	status VARCHAR(50) NOT NULL DEFAULT 'created',
	started_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS recordings (
	id TEXT PRIMARY KEY,
	session_key VARCHAR(255) NOT NULL REFERENCES stream_sessions(session_key) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	filename VARCHAR(255) NOT NULL,
	file_path TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	duration INTEGER NOT NULL DEFAULT 0,
	format VARCHAR(50),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	session_key VARCHAR(255) NOT NULL REFERENCES stream_sessions(session_key) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	filename VARCHAR(255) NOT NULL,
	file_path TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_user_id ON stream_sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_status ON stream_sessions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_provider_credentials_user_id ON provider_credentials(user_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_provider_credentials_user_provider ON provider_credentials(user_id, provider)`,
	`CREATE INDEX IF NOT EXISTS idx_recordings_session_key ON recordings(session_key)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_session_key ON snapshots(session_key)`,
}

// EnsureSchema creates the tables and indexes in a single transaction.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
