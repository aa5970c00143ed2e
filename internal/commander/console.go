package commander

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Console is a Commander over a terminal or any reader/writer pair.
type Console struct {
	in  *bufio.Reader
	out io.Writer

	mu       sync.Mutex
	markdown *glamour.TermRenderer

	prompt  lipgloss.Style
	command lipgloss.Style
	stderr  lipgloss.Style
	dim     lipgloss.Style
	errText lipgloss.Style
}

// NewConsole builds a console. With plain set, narrative is printed as-is
// instead of being rendered as markdown.
func NewConsole(in io.Reader, out io.Writer, plain bool) *Console {
	r := lipgloss.NewRenderer(out)
	c := &Console{
		in:      bufio.NewReader(in),
		out:     out,
		prompt:  r.NewStyle().Bold(true),
		command: r.NewStyle().Foreground(lipgloss.Color("12")),
		stderr:  r.NewStyle().Foreground(lipgloss.Color("11")),
		dim:     r.NewStyle().Faint(true),
		errText: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
	if !plain {
		c.markdown, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
	}
	return c
}

func (c *Console) ReadLine(prompt string) (string, error) {
	c.mu.Lock()
	fmt.Fprint(c.out, c.prompt.Render(prompt))
	c.mu.Unlock()

	line, err := c.in.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Console) Confirm(question string) (bool, error) {
	answer, err := c.ReadLine(question + " [y/N] ")
	if err != nil {
		return false, err
	}
	return IsYes(answer), nil
}

// IsYes reports whether an answer is an explicit confirmation.
func IsYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func (c *Console) Notify(kind Kind, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindCommand:
		fmt.Fprintln(c.out, c.command.Render("(gdb) "+text))
	case KindStdout:
		fmt.Fprint(c.out, withNewline(text))
	case KindStderr:
		fmt.Fprint(c.out, c.stderr.Render(strings.TrimRight(text, "\n"))+"\n")
	case KindNarrative:
		fmt.Fprint(c.out, withNewline(c.renderMarkdown(text)))
	case KindError:
		fmt.Fprintln(c.out, c.errText.Render(text))
	default:
		fmt.Fprintln(c.out, text)
	}
}

func (c *Console) renderMarkdown(text string) string {
	if c.markdown == nil {
		return text
	}
	rendered, err := c.markdown.Render(text)
	if err != nil {
		return text
	}
	return rendered
}

func (c *Console) Stream() io.Writer { return dimWriter{c: c} }

type dimWriter struct{ c *Console }

func (w dimWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	if _, err := io.WriteString(w.c.out, w.c.dim.Render(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func withNewline(text string) string {
	if text == "" || strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}
