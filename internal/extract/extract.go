// Package extract turns free-form model responses into debugger command batches.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects how commands are located in a model response.
type Mode string

const (
	// ModeFenced only accepts commands inside fenced command blocks.
	ModeFenced Mode = "fenced"
	// ModeLines treats an unfenced response as a newline-delimited command list.
	ModeLines Mode = "lines"
	// ModeJSON accepts a {"commands":[...]} object before falling back to fences.
	ModeJSON Mode = "json"
)

const (
	DefaultOpen            = "```gdb"
	DefaultClose           = "```"
	DefaultNoCommandMarker = "# No valid command"
)

// ParseMode validates a mode name; the empty string selects ModeFenced.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFenced:
		return ModeFenced, nil
	case ModeLines:
		return ModeLines, nil
	case ModeJSON:
		return ModeJSON, nil
	default:
		return "", fmt.Errorf("unknown extract mode: %s", s)
	}
}

// Batch is the parsed result of one model response.
type Batch struct {
	Commands  []string
	Narrative string
	// Declined is set when the model emitted the no-command marker.
	Declined bool
}

// Extractor parses model responses. The zero value uses fenced mode with
// the default markers.
type Extractor struct {
	Mode            Mode
	Open            string
	Close           string
	NoCommandMarker string
}

// New returns an extractor for mode with the default fence markers.
func New(mode Mode) *Extractor {
	return &Extractor{
		Mode:            mode,
		Open:            DefaultOpen,
		Close:           DefaultClose,
		NoCommandMarker: DefaultNoCommandMarker,
	}
}

// Extract never fails: anything it cannot interpret is narrative.
func (e *Extractor) Extract(text string) Batch {
	switch e.mode() {
	case ModeJSON:
		if b, ok := e.extractJSON(text); ok {
			return b
		}
	case ModeLines:
		if !strings.Contains(text, e.open()) {
			return e.finish(splitLines(text), "")
		}
	}
	return e.extractFenced(text)
}

func (e *Extractor) extractFenced(text string) Batch {
	var (
		commands  []string
		narrative []string
	)
	open, closing := e.open(), e.close()
	rest := text
	for {
		start := strings.Index(rest, open)
		if start < 0 {
			narrative = append(narrative, rest)
			break
		}
		// The info string after the opening marker belongs to the marker line.
		bodyStart := start + len(open)
		if nl := strings.IndexByte(rest[bodyStart:], '\n'); nl >= 0 {
			bodyStart += nl + 1
		} else {
			narrative = append(narrative, rest)
			break
		}
		end := strings.Index(rest[bodyStart:], closing)
		if end < 0 {
			// Unterminated fence: no match for this region.
			narrative = append(narrative, rest)
			break
		}
		narrative = append(narrative, rest[:start])
		commands = append(commands, splitLines(rest[bodyStart:bodyStart+end])...)
		rest = rest[bodyStart+end+len(closing):]
	}
	return e.finish(commands, joinNarrative(narrative))
}

type jsonPayload struct {
	Commands    []string `json:"commands"`
	Explanation string   `json:"explanation"`
}

func (e *Extractor) extractJSON(text string) (Batch, bool) {
	obj, ok := extractJSONObject(text)
	if !ok {
		return Batch{}, false
	}
	var payload jsonPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil || payload.Commands == nil {
		return Batch{}, false
	}
	var commands []string
	for _, c := range payload.Commands {
		commands = append(commands, splitLines(c)...)
	}
	return e.finish(commands, strings.TrimSpace(payload.Explanation)), true
}

func (e *Extractor) finish(commands []string, narrative string) Batch {
	b := Batch{Narrative: narrative}
	marker := e.marker()
	for _, c := range commands {
		if marker != "" && strings.EqualFold(c, marker) {
			b.Declined = true
			continue
		}
		b.Commands = append(b.Commands, c)
	}
	return b
}

func (e *Extractor) mode() Mode {
	if e.Mode == "" {
		return ModeFenced
	}
	return e.Mode
}

func (e *Extractor) open() string {
	if e.Open == "" {
		return DefaultOpen
	}
	return e.Open
}

func (e *Extractor) close() string {
	if e.Close == "" {
		return DefaultClose
	}
	return e.Close
}

func (e *Extractor) marker() string {
	if e.NoCommandMarker == "" {
		return DefaultNoCommandMarker
	}
	return e.NoCommandMarker
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func joinNarrative(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

func extractJSONObject(content string) (string, bool) {
	s := strings.TrimSpace(content)
	if s == "" {
		return "", false
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	inString := false
	escapeNext := false
	depth := 0
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escapeNext {
				escapeNext = false
				continue
			}
			if ch == '\\' {
				escapeNext = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
