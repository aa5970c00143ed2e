package context

import (
	"fmt"
	"strings"
)

// Entry aggregates the commands executed for one user request.
type Entry struct {
	Request string
	Records []Record
}

// Window keeps the most recent Size entries of a debugger session, oldest first.
// A Window with Size <= 0 never retains anything.
type Window struct {
	Size    int
	entries []Entry
}

// NewWindow returns an empty window bounded to size entries.
func NewWindow(size int) *Window {
	return &Window{Size: size}
}

// Append adds an entry, evicting the oldest entries beyond Size.
func (w *Window) Append(e Entry) {
	if w.Size <= 0 {
		return
	}
	records := make([]Record, len(e.Records))
	copy(records, e.Records)
	w.entries = append(w.entries, Entry{Request: e.Request, Records: records})
	if len(w.entries) > w.Size {
		w.entries = w.entries[len(w.entries)-w.Size:]
	}
}

// Len returns the number of retained entries.
func (w *Window) Len() int {
	return len(w.entries)
}

// Entries returns a copy of the retained entries in chronological order.
func (w *Window) Entries() []Entry {
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Render formats the most recent lastN entries, oldest first.
// An empty window, or lastN <= 0, renders to "".
func (w *Window) Render(lastN int) string {
	if lastN <= 0 || len(w.entries) == 0 {
		return ""
	}
	start := 0
	if len(w.entries) > lastN {
		start = len(w.entries) - lastN
	}

	var b strings.Builder
	b.WriteString("Previously executed debugger commands (oldest first):\n")
	for i, e := range w.entries[start:] {
		fmt.Fprintf(&b, "[%d] request: %s\n", i+1, e.Request)
		for _, r := range e.Records {
			b.WriteString("(gdb) " + r.Command + "\n")
			if out := strings.TrimRight(r.Stdout, "\n"); out != "" {
				b.WriteString(out + "\n")
			}
			if errText := strings.TrimRight(r.Stderr, "\n"); errText != "" {
				b.WriteString("error: " + errText + "\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
