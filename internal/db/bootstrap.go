package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// statements is the full schema, applied in order on every boot. Everything
// is IF NOT EXISTS so concurrent instances racing at startup are harmless.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS event_streams (
		stream_id  TEXT        PRIMARY KEY,
		version    BIGINT      NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		stream_id      TEXT        NOT NULL,
		version        BIGINT      NOT NULL,
		event_id       TEXT        NOT NULL,
		event_type     TEXT        NOT NULL,
		occurred_at    TIMESTAMPTZ NOT NULL,
		data           JSONB       NOT NULL,
		correlation_id TEXT,
		causation_id   TEXT,
		PRIMARY KEY (stream_id, version),
		UNIQUE (stream_id, event_id)
	)`,

	`CREATE TABLE IF NOT EXISTS request_projections (
		request_id           TEXT        PRIMARY KEY,
		partition_key        TEXT        NOT NULL,
		row_key              TEXT        NOT NULL,
		status               TEXT        NOT NULL,
		submit_attempt_count INT         NOT NULL DEFAULT 0,
		external_job_id      TEXT,
		next_poll_at         TIMESTAMPTZ,
		last_applied_version BIGINT      NOT NULL DEFAULT 0,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,

	// partial index matching the scheduler's due-for-poll scan
	`CREATE INDEX IF NOT EXISTS idx_request_projections_due
		ON request_projections (next_poll_at)
		WHERE status = 'InProgress' AND next_poll_at IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS intake_rows (
		partition_key TEXT        NOT NULL,
		row_key       TEXT        NOT NULL,
		status        TEXT        NOT NULL,
		lease_until   TIMESTAMPTZ NOT NULL,
		etag          TEXT        NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (partition_key, row_key)
	)`,

	// partial index matching the discovery scan over non-terminal rows
	`CREATE INDEX IF NOT EXISTS idx_intake_rows_available
		ON intake_rows (created_at, row_key)
		WHERE status IN ('Unprocessed', 'InProgress')`,

	`CREATE TABLE IF NOT EXISTS handler_leases (
		handler     TEXT        NOT NULL,
		event_id    TEXT        NOT NULL,
		status      TEXT        NOT NULL,
		lease_until TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (handler, event_id)
	)`,
}

// Bootstrap brings the schema up to date. Idempotent; both services run it
// at startup so either can come up first against an empty database.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
