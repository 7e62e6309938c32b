package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_digest TEXT NOT NULL,
	salt TEXT NOT NULL,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	lock_until TIMESTAMPTZ NULL,
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
	id TEXT PRIMARY KEY,
	token_hash TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	parent_id TEXT NULL REFERENCES refresh_tokens(id),
	replaced_by TEXT NULL REFERENCES refresh_tokens(id),
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked BOOLEAN NOT NULL DEFAULT FALSE,
	revoked_at TIMESTAMPTZ NULL,
	revoke_reason TEXT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_account ON refresh_tokens(account_id)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	account_id TEXT NULL,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id TEXT NULL,
	details TEXT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_digest TEXT NOT NULL,
	salt TEXT NOT NULL,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	lock_until TIMESTAMP NULL,
	version INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
	id TEXT PRIMARY KEY,
	token_hash TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	parent_id TEXT NULL REFERENCES refresh_tokens(id),
	replaced_by TEXT NULL REFERENCES refresh_tokens(id),
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	revoked BOOLEAN NOT NULL DEFAULT 0,
	revoked_at TIMESTAMP NULL,
	revoke_reason TEXT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_account ON refresh_tokens(account_id)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	account_id TEXT NULL,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id TEXT NULL,
	details TEXT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
)`,
}

// Migrate creates the credential tables when they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	statements := postgresSchema
	if db.DriverName() == "sqlite" {
		statements = sqliteSchema
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
