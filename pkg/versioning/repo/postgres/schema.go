package postgres

import (
	"context"
	"fmt"
)

// Schema creates the file_version table. One row per (id, version); the
// partial index serves the active-version lookup.
const Schema = `
CREATE TABLE IF NOT EXISTS file_version (
	id           VARCHAR(512)  NOT NULL,
	version      INTEGER       NOT NULL CHECK (version > 0),
	status       VARCHAR(16)   NOT NULL CHECK (status IN ('ACTIVE', 'INACTIVE', 'DELETED')),
	storage_path VARCHAR(1024) NOT NULL,
	file_name    VARCHAR(1024),
	content_type VARCHAR(255),
	size         BIGINT        NOT NULL DEFAULT 0,
	attributes   JSONB         NOT NULL DEFAULT '{}'::jsonb,
	created_at   TIMESTAMPTZ   NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ   NOT NULL DEFAULT now(),
	deleted_at   TIMESTAMPTZ,
	CONSTRAINT file_version_pkey PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS file_version_active_idx
	ON file_version (id, version DESC) WHERE status = 'ACTIVE';
`

// EnsureSchema applies Schema. It is idempotent.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
