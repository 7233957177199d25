// Package ledger records every fetch attempt and every harvest run in
// Postgres. It implements harvester.Observer.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	"github.com/lolpro11-org/gtfs-schema/internal/fetcher"
	"github.com/lolpro11-org/gtfs-schema/internal/harvester"
)

const schema = `
CREATE TABLE IF NOT EXISTS feed_fetches (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT        NOT NULL,
	feed_id     TEXT        NOT NULL,
	url         TEXT        NOT NULL,
	round       INTEGER     NOT NULL,
	status      TEXT        NOT NULL,
	error       TEXT,
	bytes       BIGINT      NOT NULL DEFAULT 0,
	duration_ms BIGINT      NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS feed_fetches_feed_id_idx ON feed_fetches (feed_id, fetched_at);
CREATE TABLE IF NOT EXISTS feed_fetch_runs (
	run_id      TEXT PRIMARY KEY,
	reason      TEXT        NOT NULL,
	rounds      INTEGER     NOT NULL,
	requested   INTEGER     NOT NULL,
	missing     INTEGER     NOT NULL,
	missing_ids TEXT[]      NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);`

const insertFetch = `INSERT INTO feed_fetches
	(run_id, feed_id, url, round, status, error, bytes, duration_ms, fetched_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const insertRun = `INSERT INTO feed_fetch_runs
	(run_id, reason, rounds, requested, missing, missing_ids, started_at, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Execer is the subset of *sql.DB the ledger writes through.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Ledger writes fetch outcomes for one run.
type Ledger struct {
	harvester.NopObserver

	db    Execer
	runID string
	now   func() time.Time
}

// Open connects to Postgres at dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

// New creates a Ledger for a new run, creating the tables if needed.
func New(ctx context.Context, db Execer) (*Ledger, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating ledger tables: %w", err)
	}
	return &Ledger{
		db:    db,
		runID: time.Now().UTC().Format("20060102T150405.000000000Z"),
		now:   time.Now,
	}, nil
}

// RunID identifies the rows written by this ledger.
func (l *Ledger) RunID() string {
	return l.runID
}

// FetchFinished records one attempt.
func (l *Ledger) FetchFinished(ctx context.Context, round int, o fetcher.Outcome) error {
	var errText sql.NullString
	if o.Err != nil {
		errText = sql.NullString{String: o.Err.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, insertFetch,
		l.runID,
		o.Feed.ID,
		o.Feed.URL,
		round,
		o.Status.String(),
		errText,
		o.Bytes,
		o.Duration.Milliseconds(),
		l.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording fetch %s: %w", o.Feed.ID, err)
	}
	return nil
}

// Converged records the run summary.
func (l *Ledger) Converged(ctx context.Context, r *harvester.Report) error {
	_, err := l.db.ExecContext(ctx, insertRun,
		l.runID,
		string(r.Reason),
		len(r.Rounds),
		r.Requested,
		len(r.Missing),
		pq.Array(feed.IDs(r.Missing)),
		r.StartedAt.UTC(),
		r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", l.runID, err)
	}
	return nil
}
