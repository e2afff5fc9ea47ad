// Package eventlog is the crewmind journal: a SQLite audit trail of
// connections, batches, actions and meetings. Journal writes it; Reader
// gives read-only access for `crewmind logs` and the dashboard.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"crewmind/pkg/protocol"
)

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// Agent filters events to one player.
	Agent string

	// Type filters to a specific event type (e.g. "action", "chat").
	Type string

	// SessionID filters to one client connection.
	SessionID string

	// AfterID returns only rows with a larger id. Used for following.
	AfterID int64

	// Limit keeps only the most recent rows (0 = no limit).
	Limit int
}

// Reader provides read-only access to the journal.
type Reader struct {
	db *sql.DB
}

// NewReader opens the journal read-only. The writer keeps it in WAL mode
// so readers never block it.
// Returns an error if the database doesn't exist or cannot be opened.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("journal not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	return &Reader{db: db}, nil
}

// Close releases the database connection.
// Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Events returns matching rows in id order (oldest first).
func (r *Reader) Events(ctx context.Context, opts QueryOpts) ([]protocol.JournalEvent, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []protocol.JournalEvent
	for rows.Next() {
		var e protocol.JournalEvent
		var agent, session, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &agent, &session, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Agent, e.SessionID, e.Payload = agent.String, session.String, payload.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	// Newest-first from the query so LIMIT keeps the tail.
	slices.Reverse(events)
	return events, nil
}

// Meetings returns the most recent meetings, newest first.
func (r *Reader) Meetings(ctx context.Context, limit int) ([]protocol.MeetingRow, error) {
	query := `SELECT id, trigger, caller, speakers, COALESCE(outcome, ''), COALESCE(tally, ''),
		status, started_at, COALESCE(finished_at, '') FROM meetings ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	var out []protocol.MeetingRow
	for rows.Next() {
		var m protocol.MeetingRow
		if err := rows.Scan(&m.ID, &m.Trigger, &m.Caller, &m.Speakers, &m.Outcome, &m.Tally,
			&m.Status, &m.StartedAt, &m.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings: %w", err)
	}
	return out, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, source, agent, session_id, payload, created_at FROM events WHERE 1=1"

	if opts.Agent != "" {
		conditions = append(conditions, "agent = ?")
		args = append(args, opts.Agent)
	}
	if opts.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.AfterID > 0 {
		conditions = append(conditions, "id > ?")
		args = append(args, opts.AfterID)
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}

// DefaultPath returns the journal path under the project state dir.
func DefaultPath(projectDir string) string {
	return filepath.Join(projectDir, protocol.StateDir, protocol.JournalFile)
}
