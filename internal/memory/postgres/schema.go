package postgres

// Schema is the base schema, applied idempotently at open time.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    category          TEXT NOT NULL,
    key               TEXT NOT NULL,
    content           TEXT NOT NULL,
    tags              JSONB,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL,
    source_session_id TEXT NOT NULL DEFAULT '',
    content_hash      TEXT NOT NULL DEFAULT '',
    access_count      INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (category, key)
);

CREATE INDEX IF NOT EXISTS idx_memories_key ON memories(key);
CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at DESC);

CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    goal       TEXT NOT NULL,
    focus      TEXT NOT NULL DEFAULT '',
    state      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS session_events (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    detail     TEXT NOT NULL,
    at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// MigrationVector adds the term-vector column used for cosine ranking.
// Applied only when the pgvector extension is available.
const MigrationVector = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS term_vec vector(256);
CREATE INDEX IF NOT EXISTS idx_memories_term_vec
    ON memories USING ivfflat (term_vec vector_cosine_ops) WITH (lists = 100);
`
