// Package journal appends an operational history of policy/catalog/overlay
// reloads to Postgres. It is purely additive and write-only: the planner
// never reads it back, matching the non-goal that plans and feedback are
// not persisted. Adapted from the teacher's internal/vectorstore pgx
// connection-pool idiom (pgxpool.New against a DSN, a startup migration,
// context-scoped Exec calls), repurposed here from vector storage to an
// append-only event log.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS reload_events (
	id          BIGSERIAL PRIMARY KEY,
	kind        TEXT NOT NULL,
	revision    TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	detail      TEXT NOT NULL DEFAULT ''
);
`

// Journal writes reload events to Postgres. A nil *Journal is valid and
// every method on it is a no-op, so callers don't need to branch on
// whether ROUTER_JOURNAL_DSN was configured.
type Journal struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the reload_events table exists. An
// empty dsn returns (nil, nil) — the journal is optional.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	if dsn == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	log.Info().Msg("reload journal connected")
	return &Journal{pool: pool}, nil
}

// Close releases the connection pool, if any.
func (j *Journal) Close() {
	if j == nil || j.pool == nil {
		return
	}
	j.pool.Close()
}

// Record appends one reload event. Failures are logged, not returned —
// the journal must never block or fail a reload that otherwise succeeded.
func (j *Journal) Record(ctx context.Context, kind, revision, detail string) {
	if j == nil || j.pool == nil {
		return
	}
	_, err := j.pool.Exec(ctx,
		`INSERT INTO reload_events (kind, revision, occurred_at, detail) VALUES ($1, $2, $3, $4)`,
		kind, revision, time.Now().UTC(), detail,
	)
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("reload journal write failed")
	}
}
