package debugger

import (
	"strings"
)

type recordKind int

const (
	kindRaw recordKind = iota
	kindPrompt
	kindConsole
	kindTarget
	kindLog
	kindResult
	kindExecAsync
	kindStatusAsync
	kindNotifyAsync
)

// record is one line of GDB/MI output.
type record struct {
	kind    recordKind
	token   string
	class   string
	text    string
	results string
}

func parseRecord(line string) record {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "(gdb)" {
		return record{kind: kindPrompt}
	}

	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	token, rest := line[:i], line[i:]
	if rest == "" {
		return record{kind: kindRaw, text: line}
	}

	switch rest[0] {
	case '~', '@', '&':
		text, _, ok := parseCString(rest[1:])
		if !ok {
			text = rest[1:]
		}
		kind := kindConsole
		if rest[0] == '@' {
			kind = kindTarget
		} else if rest[0] == '&' {
			kind = kindLog
		}
		return record{kind: kind, token: token, text: text}
	case '^', '*', '+', '=':
		class, results, _ := strings.Cut(rest[1:], ",")
		kind := kindResult
		switch rest[0] {
		case '*':
			kind = kindExecAsync
		case '+':
			kind = kindStatusAsync
		case '=':
			kind = kindNotifyAsync
		}
		return record{kind: kind, token: token, class: class, results: results}
	}
	return record{kind: kindRaw, text: line}
}

// resultField returns the c-string value of name in a result list.
func resultField(results, name string) string {
	key := name + "="
	for start := 0; start < len(results); {
		idx := strings.Index(results[start:], key)
		if idx < 0 {
			return ""
		}
		pos := start + idx
		if pos == 0 || results[pos-1] == ',' || results[pos-1] == '{' {
			value, _, ok := parseCString(results[pos+len(key):])
			if ok {
				return value
			}
		}
		start = pos + len(key)
	}
	return ""
}

// parseCString decodes a leading MI c-string and returns the remainder.
func parseCString(s string) (string, string, bool) {
	if len(s) == 0 || s[0] != '"' {
		return "", s, false
	}
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			return b.String(), s[i+1:], true
		case '\\':
			i++
			if i >= len(s) {
				return b.String(), "", false
			}
			switch e := s[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'a':
				b.WriteByte('\a')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'v':
				b.WriteByte('\v')
			case 'e':
				b.WriteByte(0x1b)
			case '0', '1', '2', '3', '4', '5', '6', '7':
				v, n := 0, 0
				for n < 3 && i+n < len(s) && s[i+n] >= '0' && s[i+n] <= '7' {
					v = v*8 + int(s[i+n]-'0')
					n++
				}
				b.WriteByte(byte(v))
				i += n - 1
			default:
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), "", false
}

// quoteCString encodes a console command as an MI c-string argument.
func quoteCString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
