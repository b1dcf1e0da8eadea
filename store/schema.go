package store

// Schema contains the complete DDL for the selmend tables.
const Schema = `
-- Selectors: every locator the engine knows about, keyed by id and
-- secondarily by (value, type, tenant).
CREATE TABLE IF NOT EXISTS selectors (
    id           TEXT PRIMARY KEY,
    value        TEXT NOT NULL,
    type         TEXT NOT NULL,
    tenant_id    TEXT NOT NULL DEFAULT '',
    is_active    INTEGER NOT NULL DEFAULT 1,
    provenance   TEXT NOT NULL DEFAULT 'manual',
    usage_count  INTEGER NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0.5,
    last_success INTEGER,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_selectors_value_type ON selectors(value, type, tenant_id);
CREATE INDEX IF NOT EXISTS idx_selectors_tenant ON selectors(tenant_id, is_active);

-- Alternatives: ordered list of accepted replacements per parent selector.
CREATE TABLE IF NOT EXISTS selector_alternatives (
    parent_id  TEXT NOT NULL,
    alt_id     TEXT NOT NULL,
    position   INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (parent_id, alt_id),
    FOREIGN KEY (parent_id) REFERENCES selectors(id) ON DELETE CASCADE,
    FOREIGN KEY (alt_id)    REFERENCES selectors(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_alternatives_parent ON selector_alternatives(parent_id, position);

-- Healing sessions: batch aggregates with running totals.
CREATE TABLE IF NOT EXISTS healing_sessions (
    id             TEXT PRIMARY KEY,
    tenant_id      TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'in-progress',
    successful     INTEGER NOT NULL DEFAULT 0,
    failed         INTEGER NOT NULL DEFAULT 0,
    confidence_sum REAL NOT NULL DEFAULT 0,
    started_at     INTEGER NOT NULL,
    completed_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON healing_sessions(tenant_id, started_at DESC);

-- Healing events: one row per heal attempt, non-blocking append.
CREATE TABLE IF NOT EXISTS healing_events (
    id                   TEXT PRIMARY KEY,
    session_id           TEXT NOT NULL DEFAULT '',
    tenant_id            TEXT NOT NULL DEFAULT '',
    original_value       TEXT NOT NULL,
    original_type        TEXT NOT NULL,
    healed_value         TEXT NOT NULL DEFAULT '',
    healed_type          TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL,
    confidence           REAL NOT NULL DEFAULT 0,
    attempts             INTEGER NOT NULL DEFAULT 0,
    candidates_evaluated INTEGER NOT NULL DEFAULT 0,
    error_message        TEXT NOT NULL DEFAULT '',
    elapsed_ms           INTEGER NOT NULL DEFAULT 0,
    created_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON healing_events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_time ON healing_events(created_at DESC);
`
