// Package observability records what quell did to which page: domain events
// (rules applied, presets run, tweak sessions) plus process heartbeats, all in
// SQLite so a headless deployment can be inspected after the fact.
package observability

import "database/sql"

// Schema contains the complete DDL for the observability tables.
// Call Init(db) to apply it, or embed the constant in your own schema
// management.
const Schema = `
-- Domain events: one row per runtime action.
CREATE TABLE IF NOT EXISTS quell_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    host        TEXT NOT NULL DEFAULT '',
    path        TEXT NOT NULL DEFAULT '',
    selector    TEXT NOT NULL DEFAULT '',
    details     TEXT NOT NULL DEFAULT '{}',
    success     INTEGER NOT NULL DEFAULT 1,
    duration_ms INTEGER,
    created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_events_type ON quell_events(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_host ON quell_events(host, created_at DESC);

-- Process heartbeats with runtime metrics.
CREATE TABLE IF NOT EXISTS heartbeats (
    heartbeat_id     TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name      TEXT NOT NULL,
    hostname         TEXT NOT NULL,
    worker_pid       INTEGER NOT NULL,
    timestamp        INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb  REAL,
    memory_sys_mb    REAL,
    gc_count         INTEGER,
    created_at       INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON heartbeats(worker_name, timestamp DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
