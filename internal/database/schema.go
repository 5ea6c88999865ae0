package database

import (
	"fmt"
	"log"
)

// Relay schema. token_usage rows are keyed by (user_id, window_key) so the
// per-window increment is a single upsert statement; expires_at drives the
// TTL-style reset (stale buckets are purged instead of zeroed).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS token_usage (
		user_id       TEXT NOT NULL,
		window_key    TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		window_start  INTEGER NOT NULL DEFAULT 0,
		expires_at    INTEGER NOT NULL,
		PRIMARY KEY (user_id, window_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_token_usage_expiry ON token_usage(expires_at)`,

	`CREATE TABLE IF NOT EXISTS token_reservations (
		reservation_id TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		output_tokens  INTEGER NOT NULL,
		created_at     INTEGER NOT NULL,
		expires_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_user ON token_reservations(user_id, expires_at)`,

	`CREATE TABLE IF NOT EXISTS usage_commits (
		request_id    TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		committed_at  INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS response_cache (
		prompt_hash             TEXT PRIMARY KEY,
		model_id                TEXT NOT NULL,
		prompt_text             TEXT NOT NULL,
		response_text           TEXT NOT NULL,
		estimated_input_tokens  INTEGER NOT NULL DEFAULT 0,
		estimated_output_tokens INTEGER NOT NULL DEFAULT 0,
		expires_at              INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_response_cache_expiry ON response_cache(expires_at)`,

	`CREATE TABLE IF NOT EXISTS completion_records (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		model_id        TEXT NOT NULL,
		input_tokens    INTEGER NOT NULL,
		output_tokens   INTEGER NOT NULL,
		cache_hit       INTEGER NOT NULL DEFAULT 0,
		latency_ms      INTEGER NOT NULL,
		outcome         TEXT NOT NULL,
		prompt_preview  TEXT,
		reply_preview   TEXT,
		created_at      INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_completion_user ON completion_records(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_completion_model ON completion_records(model_id, created_at)`,
}

// InitSchema creates all relay tables if they do not exist
func InitSchema(db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	log.Printf("📦 Relay schema ready (%d statements)", len(schemaStatements))
	return nil
}
