package protocol

// SchemaDDL defines the SQLite schema for the crewmind journal.
// Tables: events, meetings.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Runtime event log: connection, batch, action and meeting lifecycle
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    agent TEXT,
    session_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);

CREATE INDEX IF NOT EXISTS events_agent ON events(agent);

-- One row per meeting; outcome stays empty when the meeting was abandoned
CREATE TABLE IF NOT EXISTS meetings (
    id TEXT PRIMARY KEY,
    trigger TEXT NOT NULL,
    caller TEXT NOT NULL,
    speakers TEXT NOT NULL,
    outcome TEXT,
    tally TEXT,
    status TEXT NOT NULL DEFAULT 'running',
    started_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
    finished_at TEXT
);
`
