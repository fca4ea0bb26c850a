package postgres

import (
	"context"
	"fmt"
)

// schema is applied statement by statement on startup. Every statement is
// idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS instances (
		id             BIGSERIAL PRIMARY KEY,
		url            TEXT     NOT NULL UNIQUE,
		version        TEXT     NOT NULL DEFAULT '',
		https          BOOLEAN  NOT NULL DEFAULT FALSE,
		https_redirect BOOLEAN  NOT NULL DEFAULT FALSE,
		country_id     TEXT     NOT NULL DEFAULT 'AQ',
		attachments    BOOLEAN  NOT NULL DEFAULT FALSE,
		csp_header     BOOLEAN  NOT NULL DEFAULT FALSE,
		variant        SMALLINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS checks (
		id          BIGSERIAL   PRIMARY KEY,
		updated     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		up          BOOLEAN     NOT NULL,
		instance_id BIGINT      NOT NULL REFERENCES instances (id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS checks_instance_id_idx ON checks (instance_id)`,
	`CREATE INDEX IF NOT EXISTS checks_updated_idx ON checks (updated)`,
	`CREATE TABLE IF NOT EXISTS scans (
		id          BIGSERIAL PRIMARY KEY,
		scanner     TEXT      NOT NULL,
		rating      TEXT      NOT NULL,
		percent     INTEGER   NOT NULL,
		instance_id BIGINT    NOT NULL REFERENCES instances (id) ON DELETE CASCADE,
		UNIQUE (scanner, instance_id)
	)`,
}

// EnsureSchema creates the tables and indexes when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
