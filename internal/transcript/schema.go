package transcript

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlCalls holds one row per recorded call. duration_seconds stays 0 until
// EndCall.
const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id               UUID         PRIMARY KEY,
    call_sid         TEXT         NOT NULL,
    caller_phone     TEXT         NOT NULL DEFAULT '',
    customer_name    TEXT         NOT NULL DEFAULT '',
    identified       BOOLEAN      NOT NULL DEFAULT FALSE,
    started_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at         TIMESTAMPTZ,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_calls_call_sid
    ON calls (call_sid);

CREATE INDEX IF NOT EXISTS idx_calls_started_at
    ON calls (started_at);
`

// ddlMessages is the append-only utterance log. The serial id preserves
// arrival order within a call.
const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id        BIGSERIAL    PRIMARY KEY,
    call_ref  UUID         NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    speaker   TEXT         NOT NULL,
    content   TEXT         NOT NULL,
    at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_call_ref
    ON messages (call_ref);
`

const ddlToolCalls = `
CREATE TABLE IF NOT EXISTS tool_calls (
    id        BIGSERIAL    PRIMARY KEY,
    call_ref  UUID         NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    name      TEXT         NOT NULL,
    args      TEXT         NOT NULL DEFAULT '',
    result    TEXT         NOT NULL DEFAULT '',
    at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tool_calls_call_ref
    ON tool_calls (call_ref);
`

// Schema returns the full DDL, for operators running migrations by hand.
func Schema() string {
	return ddlCalls + ddlMessages + ddlToolCalls
}

// Migrate creates or ensures all required tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCalls, ddlMessages, ddlToolCalls} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("transcript: migrate: %w", err)
		}
	}
	return nil
}
