package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"crewmind/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// Journal is the write side of the event log. A nil *Journal discards
// everything, so callers can run without one.
type Journal struct {
	db *sql.DB
}

// Open creates (if needed) and opens the journal at path with WAL and a
// busy timeout, and applies the schema.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer connection. Keeps :memory: coherent and avoids SQLITE_BUSY
	// between our own goroutines.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", protocol.SchemaDDL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal %s: %w", path, err)
		}
	}
	return &Journal{db: db}, nil
}

// Close releases the database. Safe on a nil Journal.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Log inserts one event row.
func (j *Journal) Log(ctx context.Context, evType, source, agent, sessionID, payload string) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (type, source, agent, session_id, payload) VALUES (?, ?, ?, ?, ?)`,
		evType, source, agent, sessionID, payload)
	if err != nil {
		return fmt.Errorf("log %s event: %w", evType, err)
	}
	return nil
}

// LogJSON marshals v as the payload of an event row.
func (j *Journal) LogJSON(ctx context.Context, evType, source, agent, sessionID string, v any) error {
	if j == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", evType, err)
	}
	return j.Log(ctx, evType, source, agent, sessionID, string(data))
}

// StartMeeting records a running meeting.
func (j *Journal) StartMeeting(ctx context.Context, id string, trigger protocol.Event, caller string, speakers []string) error {
	if j == nil {
		return nil
	}
	trig, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("marshal meeting trigger: %w", err)
	}
	sp, err := json.Marshal(speakers)
	if err != nil {
		return fmt.Errorf("marshal meeting speakers: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO meetings (id, trigger, caller, speakers) VALUES (?, ?, ?, ?)`,
		id, string(trig), caller, string(sp))
	if err != nil {
		return fmt.Errorf("start meeting %s: %w", id, err)
	}
	return nil
}

// FinishMeeting stores the outcome and tally of a resolved meeting.
func (j *Journal) FinishMeeting(ctx context.Context, id, outcome string, tally map[string]int) error {
	if j == nil {
		return nil
	}
	t, err := json.Marshal(tally)
	if err != nil {
		return fmt.Errorf("marshal tally: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`UPDATE meetings SET outcome = ?, tally = ?, status = 'resolved',
		 finished_at = strftime('%Y-%m-%d %H:%M:%f', 'now') WHERE id = ?`,
		outcome, string(t), id)
	if err != nil {
		return fmt.Errorf("finish meeting %s: %w", id, err)
	}
	return nil
}

// AbandonMeeting marks a meeting abandoned.
func (j *Journal) AbandonMeeting(ctx context.Context, id string) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE meetings SET status = 'abandoned',
		 finished_at = strftime('%Y-%m-%d %H:%M:%f', 'now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("abandon meeting %s: %w", id, err)
	}
	return nil
}
