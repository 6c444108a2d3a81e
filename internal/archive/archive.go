// Package archive implements the best-effort PostgreSQL event archive
// (SPEC_FULL.md §2 "Event archive", §10): a subscriber on every bus
// channel that persists a durable log of lifecycle events for
// offline analytics and replay seeding. It is never on the hot path of any
// core invariant — the simulation core itself owns no durable rider state.
package archive

import (
	"context"
	"log"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/citytransit/simcore/internal/eventbus"
)

// pool is the subset of *pgxpool.Pool the archiver depends on, narrowed so
// tests can substitute a fake without a live PostgreSQL instance.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Archiver persists bus envelopes to the events table. A nil or failing
// pool degrades to log-and-continue; it never blocks or crashes the caller.
type Archiver struct {
	db pool
}

// New constructs an Archiver over an already-connected pool.
func New(db pool) *Archiver {
	return &Archiver{db: db}
}

// EnsureSchema creates the events table if it does not already exist.
func (a *Archiver) EnsureSchema(ctx context.Context) error {
	_, err := a.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id              UUID PRIMARY KEY,
			type            TEXT NOT NULL,
			source          TEXT NOT NULL,
			correlation_id  TEXT,
			occurred_at     TIMESTAMPTZ NOT NULL,
			data            JSONB NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS events_type_idx ON events (type, occurred_at)
	`)
	return err
}

// Record inserts one envelope. Errors are the caller's to decide on; Run
// logs and continues rather than propagating them.
func (a *Archiver) Record(ctx context.Context, env eventbus.Envelope) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO events (id, type, source, correlation_id, occurred_at, data)
		VALUES ($1, $2, $3, NULLIF($4, ''), to_timestamp($5), $6)
		ON CONFLICT (id) DO NOTHING
	`,
		env.ID, env.Type, env.Source, env.CorrelationID, env.Timestamp, env.Data,
	)
	return err
}

// Run subscribes to every bus channel and archives every envelope until ctx
// is done. A single failed insert is logged and skipped; it never stops the
// subscriber (SPEC_FULL.md §4.7's "errors log and continue" policy, reused
// here for the archive's own best-effort contract).
func (a *Archiver) Run(ctx context.Context, bus *eventbus.Bus) {
	record := func(env eventbus.Envelope) {
		if err := a.Record(ctx, env); err != nil {
			log.Printf("[archive] failed to persist event %s (%s): %v", env.ID, env.Type, err)
		}
	}
	var wg sync.WaitGroup
	for _, ch := range eventbus.Channels() {
		wg.Add(1)
		go func(ch eventbus.Channel) {
			defer wg.Done()
			bus.Subscribe(ctx, ch, record)
		}(ch)
	}
	wg.Wait()
}
