package store

// SQLiteSchema creates the raw fact and snapshot tables on SQLite
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS raw_facts (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    entity        TEXT NOT NULL,
    tag           TEXT NOT NULL,
    unit          TEXT NOT NULL,
    fiscal_year   INTEGER NOT NULL,
    fiscal_period TEXT NOT NULL,
    period_start  TEXT NULL,
    period_end    TEXT NULL,
    value         REAL NOT NULL,
    source        TEXT NOT NULL,
    accession     TEXT NOT NULL DEFAULT '',
    filed_at      TEXT NOT NULL,
    ingested_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_facts_entity ON raw_facts(entity);

CREATE TABLE IF NOT EXISTS metric_snapshots (
    entity      TEXT NOT NULL,
    metric      TEXT NOT NULL,
    period      TEXT NOT NULL,
    start_year  INTEGER NOT NULL,
    end_year    INTEGER NOT NULL,
    value       REAL NOT NULL,
    source      TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (entity, metric)
);
`

// PostgresSchema creates the same tables on Postgres. Timestamps stay RFC 3339
// text so both dialects share one scan path.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS raw_facts (
    id            BIGSERIAL PRIMARY KEY,
    entity        TEXT NOT NULL,
    tag           TEXT NOT NULL,
    unit          TEXT NOT NULL,
    fiscal_year   INTEGER NOT NULL,
    fiscal_period TEXT NOT NULL,
    period_start  TEXT NULL,
    period_end    TEXT NULL,
    value         DOUBLE PRECISION NOT NULL,
    source        TEXT NOT NULL,
    accession     TEXT NOT NULL DEFAULT '',
    filed_at      TEXT NOT NULL,
    ingested_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_facts_entity ON raw_facts(entity);

CREATE TABLE IF NOT EXISTS metric_snapshots (
    entity      TEXT NOT NULL,
    metric      TEXT NOT NULL,
    period      TEXT NOT NULL,
    start_year  INTEGER NOT NULL,
    end_year    INTEGER NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    source      TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (entity, metric)
);
`
