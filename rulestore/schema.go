package rulestore

// Schema contains the complete DDL for the quell tables.
const Schema = `
-- Rules: one suppression instruction per (host, path pattern, selector).
-- seq preserves insertion order within a scope; loading follows it.
CREATE TABLE IF NOT EXISTS rules (
    id           TEXT PRIMARY KEY,
    host         TEXT NOT NULL,
    path_pattern TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    type         TEXT NOT NULL,
    selector     TEXT NOT NULL,
    anchors      TEXT NOT NULL DEFAULT '{}',
    alternatives TEXT NOT NULL DEFAULT '[]',
    description  TEXT NOT NULL DEFAULT '',
    style_props  TEXT NOT NULL DEFAULT '{}',
    amount       REAL NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL,
    UNIQUE (host, path_pattern, selector)
);
CREATE INDEX IF NOT EXISTS idx_rules_host ON rules(host);
CREATE INDEX IF NOT EXISTS idx_rules_scope ON rules(host, path_pattern, seq);

-- Per-site preferences.
CREATE TABLE IF NOT EXISTS site_prefs (
    host         TEXT PRIMARY KEY,
    always_apply INTEGER NOT NULL DEFAULT 1,
    updated_at   INTEGER NOT NULL
);
`
