package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/agentdbg/internal/audit"
	"github.com/stupiduntilnot/agentdbg/internal/config"
	"github.com/stupiduntilnot/agentdbg/internal/db"
)

// Event represents a row from the events table.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*Event
}

type treeOptions struct {
	dbPath    string
	eventID   int64
	sessionID string
	maxDepth  int
	jsonOut   bool
	noPayload bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &treeOptions{}
	cmd := &cobra.Command{
		Use:           "audit-tree",
		Short:         "Print the audit event tree of an agentdbg session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.dbPath, "db", envOrDefault("AGENTDBG_DB_PATH", config.Defaults().DBPath), "SQLite database path")
	cmd.Flags().Int64Var(&opts.eventID, "id", 0, "show subtree of a specific event ID")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "show the latest session.started tree of a session ID")
	cmd.Flags().IntVarP(&opts.maxDepth, "level", "L", 0, "limit display depth (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "output JSON format")
	cmd.Flags().BoolVar(&opts.noPayload, "no-payload", false, "hide payload details")
	return cmd
}

func run(out io.Writer, opts *treeOptions) error {
	database, err := sql.Open("sqlite3", opts.dbPath+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	// Determine root event ID.
	rootID := opts.eventID
	if rootID == 0 {
		rootID, err = latestSessionRoot(database, opts.sessionID)
		if err != nil {
			return fmt.Errorf("find session root: %w", err)
		}
	}

	// Query the full subtree using recursive CTE.
	events, err := querySubtree(database, rootID)
	if err != nil {
		return fmt.Errorf("query subtree: %w", err)
	}

	// Build in-memory tree.
	root := buildTree(events, rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", rootID)
	}

	if opts.jsonOut {
		return printJSON(out, root, opts.maxDepth, opts.noPayload)
	}
	if root.EventType == audit.EventSessionStarted {
		cycles, err := db.NextCycleSeq(database, root.ID)
		if err != nil {
			return fmt.Errorf("count cycles: %w", err)
		}
		fmt.Fprintf(out, "%d cycle(s)\n", cycles-1)
	}
	printTree(out, root, "", true, 1, opts.maxDepth, opts.noPayload)
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// latestSessionRoot finds the most recent session.started event, optionally
// restricted to one session ID.
func latestSessionRoot(database *sql.DB, sessionID string) (int64, error) {
	var id int64
	var err error
	if sessionID == "" {
		err = database.QueryRow(
			`SELECT id FROM events WHERE event_type = ? ORDER BY id DESC LIMIT 1`,
			audit.EventSessionStarted,
		).Scan(&id)
	} else {
		err = database.QueryRow(
			`SELECT id FROM events WHERE event_type = ?
			 AND json_extract(payload, '$.session_id') = ?
			 ORDER BY id DESC LIMIT 1`,
			audit.EventSessionStarted, sessionID,
		).Scan(&id)
	}
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no session.started event found")
	}
	return id, err
}

// querySubtree returns all events in the subtree rooted at rootID using a recursive CTE.
func querySubtree(database *sql.DB, rootID int64) ([]*Event, error) {
	rows, err := database.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// buildTree organizes a flat list of events into a tree rooted at rootID.
func buildTree(events []*Event, rootID int64) *Event {
	byID := make(map[int64]*Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	for _, ev := range events {
		if ev.ParentID.Valid && ev.ParentID.Int64 != ev.ID {
			if parent, ok := byID[ev.ParentID.Int64]; ok {
				parent.Children = append(parent.Children, ev)
			}
		}
	}

	for _, ev := range events {
		sort.Slice(ev.Children, func(i, j int) bool {
			return ev.Children[i].ID < ev.Children[j].ID
		})
	}

	return byID[rootID]
}

func childPrefix(prefix string, isLast bool, depth int) string {
	if depth == 1 {
		return prefix
	}
	if isLast {
		return prefix + "    "
	}
	return prefix + "│   "
}

// printTree renders the event tree using box-drawing characters.
func printTree(out io.Writer, ev *Event, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	line := formatEvent(ev, noPayload)
	if depth == 1 {
		fmt.Fprintln(out, line)
	} else {
		connector := "├── "
		if isLast {
			connector = "└── "
		}
		fmt.Fprintln(out, prefix+connector+line)
	}

	next := childPrefix(prefix, isLast, depth)
	if maxDepth > 0 && depth >= maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(out, next+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(out, child, next, i == len(ev.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatEvent formats a single event line: [id] timestamp  event_type  key=value ...
func formatEvent(ev *Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.EventType)

	if !noPayload && ev.Payload.Valid && ev.Payload.String != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(ev.Payload.String), &m); err == nil {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				line += fmt.Sprintf("  %s=%s", k, formatValue(m[k]))
			}
		}
	}

	return line
}

// formatValue converts a payload value to a display string, truncating long text.
// Command output often spans lines, so strings with newlines are quoted.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q", val[:80]+"...")
		}
		for _, r := range val {
			if r == '\n' {
				return fmt.Sprintf("%q", val)
			}
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	EventType string      `json:"event_type"`
	Payload   any         `json:"payload,omitempty"`
	Children  []jsonEvent `json:"children,omitempty"`
}

func toJSONEvent(ev *Event, depth, maxDepth int, noPayload bool) jsonEvent {
	je := jsonEvent{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
	}

	if !noPayload && ev.Payload.Valid && ev.Payload.String != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(ev.Payload.String), &m); err == nil {
			je.Payload = m
		}
	}

	if maxDepth > 0 && depth >= maxDepth {
		return je
	}

	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, maxDepth, noPayload))
	}
	return je
}

func printJSON(out io.Writer, root *Event, maxDepth int, noPayload bool) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toJSONEvent(root, 1, maxDepth, noPayload)); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
