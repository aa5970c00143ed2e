package db

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stupiduntilnot/agentdbg/internal/audit"
	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitSchema(t *testing.T) {
	db := testDB(t)

	// Verify both tables exist by querying sqlite_master.
	tables := map[string]bool{}
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('events','history')`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		tables[name] = true
	}

	for _, want := range []string{"events", "history"} {
		if !tables[want] {
			t.Errorf("table %q not created", want)
		}
	}
}

func TestLogEvent_Basic(t *testing.T) {
	db := testDB(t)

	id1, err := LogEvent(db, nil, audit.EventSessionStarted, map[string]any{"session_id": "s1", "pid": 123})
	if err != nil {
		t.Fatal(err)
	}
	if id1 <= 0 {
		t.Errorf("expected positive id, got %d", id1)
	}

	id2, err := LogEvent(db, nil, audit.EventCycleStarted, map[string]any{"request": "bt"})
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Errorf("expected id2 > id1, got %d <= %d", id2, id1)
	}

	// Verify timestamp is non-zero.
	var ts int64
	err = db.QueryRow(`SELECT timestamp FROM events WHERE id = ?`, id1).Scan(&ts)
	if err != nil {
		t.Fatal(err)
	}
	if ts == 0 {
		t.Error("expected non-zero timestamp")
	}

	// Verify payload is valid JSON.
	var payloadStr string
	err = db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id1).Scan(&payloadStr)
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		t.Fatalf("invalid payload JSON: %v", err)
	}
	if payload["session_id"] != "s1" {
		t.Errorf("expected session_id=s1, got %v", payload["session_id"])
	}
}

func TestLogEvent_WithParent(t *testing.T) {
	db := testDB(t)

	parentID, err := LogEvent(db, nil, audit.EventSessionStarted, map[string]any{"session_id": "s1"})
	if err != nil {
		t.Fatal(err)
	}

	childID, err := LogEvent(db, &parentID, audit.EventTurnStarted, map[string]any{"model": "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}

	// Verify parent_id is stored correctly.
	var storedParent int64
	err = db.QueryRow(`SELECT parent_id FROM events WHERE id = ?`, childID).Scan(&storedParent)
	if err != nil {
		t.Fatal(err)
	}
	if storedParent != parentID {
		t.Errorf("expected parent_id=%d, got %d", parentID, storedParent)
	}

	// Verify root event has NULL parent_id.
	var nullParent sql.NullInt64
	err = db.QueryRow(`SELECT parent_id FROM events WHERE id = ?`, parentID).Scan(&nullParent)
	if err != nil {
		t.Fatal(err)
	}
	if nullParent.Valid {
		t.Errorf("expected NULL parent_id for root event, got %d", nullParent.Int64)
	}
}

func TestLatestSessionID(t *testing.T) {
	db := testDB(t)

	// No events yet -> empty string.
	id, err := LatestSessionID(db)
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("expected empty session id, got %q", id)
	}

	_, err = LogEvent(db, nil, audit.EventSessionStarted, map[string]any{"session_id": "abc123"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = LogEvent(db, nil, audit.EventSessionStarted, map[string]any{"session_id": "def456"})
	if err != nil {
		t.Fatal(err)
	}
	id, err = LatestSessionID(db)
	if err != nil {
		t.Fatal(err)
	}
	if id != "def456" {
		t.Errorf("expected def456, got %q", id)
	}
}

func TestNextCycleSeq(t *testing.T) {
	db := testDB(t)

	sessionID, err := LogEvent(db, nil, audit.EventSessionStarted, map[string]any{"session_id": "s1"})
	if err != nil {
		t.Fatal(err)
	}

	// No cycles yet -> seq=1.
	seq, err := NextCycleSeq(db, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Errorf("expected 1, got %d", seq)
	}

	_, err = LogEvent(db, &sessionID, audit.EventCycleStarted, map[string]any{"request": "break at main"})
	if err != nil {
		t.Fatal(err)
	}
	seq, err = NextCycleSeq(db, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 2 {
		t.Errorf("expected 2, got %d", seq)
	}
}

func TestAppendHistory_RoundTripsThroughProvider(t *testing.T) {
	db := testDB(t)

	entries := []ctxpkg.Entry{
		{Request: "break at main", Records: []ctxpkg.Record{{Command: "break main", Stdout: "Breakpoint 1 at 0x1139\n"}}},
		{Request: "run", Records: []ctxpkg.Record{{Command: "run", Stderr: "No executable file specified.\n"}}},
	}
	for _, e := range entries {
		if err := AppendHistory(db, "s1", e); err != nil {
			t.Fatal(err)
		}
	}
	if err := AppendHistory(db, "other", ctxpkg.Entry{Request: "bt"}); err != nil {
		t.Fatal(err)
	}

	provider := &ctxpkg.SQLiteProvider{DB: db}
	got, err := provider.GetHistory("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Request != "break at main" || got[1].Records[0].Stderr == "" {
		t.Fatalf("unexpected history: %+v", got)
	}
}

func TestEventLog_Append(t *testing.T) {
	db := testDB(t)
	log := &EventLog{DB: db}

	root, err := log.Append(audit.Event{Type: audit.EventSessionStarted, Payload: map[string]any{"session_id": "s1"}})
	if err != nil {
		t.Fatal(err)
	}
	child, err := log.Append(audit.Event{ParentID: &root, Type: audit.EventCycleStarted})
	if err != nil {
		t.Fatal(err)
	}

	var parent int64
	var eventType string
	if err := db.QueryRow(`SELECT parent_id, event_type FROM events WHERE id = ?`, child).Scan(&parent, &eventType); err != nil {
		t.Fatal(err)
	}
	if parent != root || eventType != audit.EventCycleStarted {
		t.Fatalf("unexpected stored event parent=%d type=%s", parent, eventType)
	}
}

func TestLogEvent_NilPayload(t *testing.T) {
	db := testDB(t)

	id, err := LogEvent(db, nil, audit.EventCycleSucceeded, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id <= 0 {
		t.Errorf("expected positive id, got %d", id)
	}

	// Verify payload is NULL.
	var payload sql.NullString
	err = db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Valid {
		t.Errorf("expected NULL payload, got %q", payload.String)
	}
}
