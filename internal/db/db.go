package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stupiduntilnot/agentdbg/internal/audit"
	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates all tables: events, history.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);

		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			request TEXT NOT NULL,
			records TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_history_session_id ON history(session_id, id);
	`)
	return err
}

// LatestSessionID returns the session id from the most recent session.started
// event, or "" if none found.
func LatestSessionID(database *sql.DB) (string, error) {
	var payload string
	err := database.QueryRow(
		`SELECT payload FROM events WHERE event_type = ? ORDER BY id DESC LIMIT 1`,
		audit.EventSessionStarted,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return "", err
	}
	id, _ := m["session_id"].(string)
	return id, nil
}

// NextCycleSeq returns the next cycle sequence number by counting
// cycle.started events under the given session event ID.
func NextCycleSeq(database *sql.DB, sessionEventID int64) (int, error) {
	var count int
	err := database.QueryRow(
		`SELECT COUNT(*) FROM events WHERE parent_id = ? AND event_type = ?`,
		sessionEventID, audit.EventCycleStarted,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

// AppendHistory stores one executed cycle so a later session can resume it.
func AppendHistory(db *sql.DB, sessionID string, entry ctxpkg.Entry) error {
	raw, err := ctxpkg.EncodeRecords(entry.Records)
	if err != nil {
		return fmt.Errorf("encode history records: %w", err)
	}
	if _, err := db.Exec(
		`INSERT INTO history (session_id, request, records) VALUES (?, ?, ?)`,
		sessionID, entry.Request, raw,
	); err != nil {
		return fmt.Errorf("insert history for session %s: %w", sessionID, err)
	}
	return nil
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// EventLog is an audit.Sink backed by the events table.
type EventLog struct {
	DB *sql.DB
}

func (l *EventLog) Append(e audit.Event) (int64, error) {
	return LogEvent(l.DB, e.ParentID, e.Type, e.Payload)
}
