package protocol

// JournalEvent represents a row in the events SQLite table.
type JournalEvent struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	Agent     string `json:"agent"`
	SessionID string `json:"session_id"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}

// MeetingRow represents a row in the meetings SQLite table.
type MeetingRow struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	Caller     string `json:"caller"`
	Speakers   string `json:"speakers"` // JSON array
	Outcome    string `json:"outcome"`
	Tally      string `json:"tally"` // JSON object
	Status     string `json:"status"` // running, resolved, abandoned
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}
