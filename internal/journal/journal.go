// Package journal persists lifecycle events (process started, stopped,
// crashed, restarted) to a local SQLite database, independent
// of the in-memory, non-persistent per-process log content held by
// internal/logbuf.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one immutable journal entry.
type Event struct {
	ID      int64
	Process string
	Kind    string // Started, Stopped, Crashed, Restarted; mode changes are not journaled
	At      time.Time
	Detail  string
}

// Journal is an append-only sink plus a bounded recent-events query used by
// get_status's recent_events field.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	j := &Journal{db: db}
	if err := j.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) ensureSchema() error {
	_, err := j.db.Exec(`
CREATE TABLE IF NOT EXISTS events (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	process  TEXT NOT NULL,
	kind     TEXT NOT NULL,
	at       TIMESTAMP NOT NULL,
	detail   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_process_at ON events(process, at);
`)
	if err != nil {
		return fmt.Errorf("journal: ensure schema: %w", err)
	}
	return nil
}

// RecordEvent implements supervisor.EventRecorder.
func (j *Journal) RecordEvent(process, kind, detail string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO events (process, kind, at, detail) VALUES (?, ?, ?, ?)`,
		process, kind, time.Now().UTC(), detail,
	)
	if err != nil {
		// The journal is a best-effort side channel: a write failure must
		// never abort the monitor loop that triggered it.
		return
	}
}

// Recent returns the most recent limit events for process, newest first.
func (j *Journal) Recent(process string, limit int) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(
		`SELECT id, process, kind, at, detail FROM events WHERE process = ? ORDER BY at DESC, id DESC LIMIT ?`,
		process, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Process, &e.Kind, &e.At, &e.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
