package sqlite

// Schema is applied idempotently at open time.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    category          TEXT NOT NULL,
    key               TEXT NOT NULL,
    content           TEXT NOT NULL,
    tags              TEXT,                -- JSON array
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL,
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
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    ended_at   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS session_events (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    detail     TEXT NOT NULL,
    at         TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`
