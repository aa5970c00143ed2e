package context

import (
	"database/sql"
	"encoding/json"
)

// SQLiteProvider reads executed cycles from a SQLite database.
type SQLiteProvider struct {
	DB *sql.DB
}

type storedRecord struct {
	Command string `json:"command"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// GetHistory returns the most recent `limit` entries for the given session,
// ordered chronologically (oldest first).
func (p *SQLiteProvider) GetHistory(sessionID string, limit int) ([]Entry, error) {
	rows, err := p.DB.Query(
		"SELECT request, records FROM history WHERE session_id = ? ORDER BY id DESC LIMIT ?",
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		var request, raw string
		if err := rows.Scan(&request, &raw); err != nil {
			continue
		}
		var stored []storedRecord
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			continue
		}
		records := make([]Record, 0, len(stored))
		for _, s := range stored {
			records = append(records, Record{Command: s.Command, Stdout: s.Stdout, Stderr: s.Stderr})
		}
		results = append(results, Entry{Request: request, Records: records})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// EncodeRecords serializes records into the JSON shape stored in the history table.
func EncodeRecords(records []Record) (string, error) {
	stored := make([]storedRecord, 0, len(records))
	for _, r := range records {
		stored = append(stored, storedRecord{Command: r.Command, Stdout: r.Stdout, Stderr: r.Stderr})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
