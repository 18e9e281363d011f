package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements holds prism's DDL, one statement per entry because
// lib/pq prepares each Exec and the extended protocol rejects
// multi-statement strings. Every statement is idempotent so server
// startup and fresh test containers share one bootstrap path.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS credit_accounts (
		user_id        UUID PRIMARY KEY,
		balance_cents  BIGINT NOT NULL DEFAULT 0,
		reserved_cents BIGINT NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT credit_accounts_reserved_nonneg CHECK (reserved_cents >= 0),
		CONSTRAINT credit_accounts_no_overdraw CHECK (balance_cents >= reserved_cents)
	)`,

	`CREATE TABLE IF NOT EXISTS credit_reservations (
		id           UUID PRIMARY KEY,
		user_id      UUID NOT NULL REFERENCES credit_accounts (user_id),
		amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
		state        TEXT NOT NULL CHECK (state IN ('pending', 'committed', 'released')),
		created_at   TIMESTAMPTZ NOT NULL,
		expires_at   TIMESTAMPTZ NOT NULL
	)`,

	// The janitor only ever scans pending rows by expiry.
	`CREATE INDEX IF NOT EXISTS idx_credit_reservations_pending
		ON credit_reservations (expires_at) WHERE state = 'pending'`,

	`CREATE TABLE IF NOT EXISTS cached_profiles (
		profile_key TEXT PRIMARY KEY,
		vendor      TEXT NOT NULL,
		payload     JSONB NOT NULL,
		enriched_at TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_cached_profiles_expiry
		ON cached_profiles (expires_at)`,

	`CREATE TABLE IF NOT EXISTS audit_entries (
		id          UUID PRIMARY KEY,
		category    TEXT NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL,
		event       TEXT NOT NULL,
		user_id     UUID,
		pipeline_id UUID,
		profile_key TEXT NOT NULL DEFAULT '',
		vendor      TEXT NOT NULL DEFAULT '',
		cost_cents  BIGINT NOT NULL DEFAULT 0,
		success     BOOLEAN NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		legal_basis TEXT NOT NULL DEFAULT '',
		request_id  TEXT NOT NULL DEFAULT '',
		actor_id    TEXT NOT NULL DEFAULT '',
		client_info TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_entries_user_time
		ON audit_entries (user_id, timestamp DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_entries_time
		ON audit_entries (timestamp)`,

	// key and payload are BYTEA because the relay hands both to Kafka
	// as raw bytes; the queryable projection lives in audit_entries.
	`CREATE TABLE IF NOT EXISTS audit_outbox (
		id           UUID PRIMARY KEY,
		key          BYTEA NOT NULL,
		payload      BYTEA NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_outbox_pending
		ON audit_outbox (created_at) WHERE published_at IS NULL`,
}

// EnsureSchema creates prism's tables and indexes if they do not
// already exist. Safe to run on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
