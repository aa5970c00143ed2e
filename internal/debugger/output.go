package debugger

import (
	"strings"
)

const truncatedMarker = "[output truncated]"

// Limits controls output truncation boundaries.
type Limits struct {
	MaxLines int
	MaxBytes int
}

// DefaultLimits bounds a single command's captured output.
var DefaultLimits = Limits{MaxLines: 400, MaxBytes: 64 * 1024}

// ApplyOutputLimits truncates text by line and byte limits.
func ApplyOutputLimits(text string, limits Limits) (out string, truncatedLines bool, truncatedBytes bool) {
	if limits.MaxLines > 0 {
		lines := strings.Split(text, "\n")
		if len(lines) > limits.MaxLines {
			lines = lines[:limits.MaxLines]
			text = strings.Join(lines, "\n")
			truncatedLines = true
		}
	}

	if limits.MaxBytes > 0 && len(text) > limits.MaxBytes {
		text = text[:limits.MaxBytes]
		truncatedBytes = true
	}
	return text, truncatedLines, truncatedBytes
}

func limitOutput(out Output, limits Limits) Output {
	return Output{
		Stdout: limitText(out.Stdout, limits),
		Stderr: limitText(out.Stderr, limits),
	}
}

func limitText(text string, limits Limits) string {
	out, byLines, byBytes := ApplyOutputLimits(text, limits)
	if byLines || byBytes {
		return strings.TrimRight(out, "\n") + "\n" + truncatedMarker + "\n"
	}
	return out
}

const commandListMarker = "List of commands:"

// CondenseHelp shortens GDB class help to its command list and drops the
// "set " subcommands, which dominate classes like "data" and rarely answer
// a request. Text without a command list is returned unchanged.
func CondenseHelp(text string) string {
	pos := strings.Index(text, commandListMarker)
	if pos < 0 {
		return text
	}
	rest := text[pos+len(commandListMarker):]
	kept := make([]string, 0, 32)
	for _, line := range strings.Split(rest, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "set ") {
			continue
		}
		kept = append(kept, line)
	}
	condensed := strings.TrimSpace(strings.Join(kept, "\n"))
	if condensed == "" {
		return text
	}
	return commandListMarker + "\n" + condensed
}
