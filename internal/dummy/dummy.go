// Package dummy provides scripted stand-ins for the model service, the
// debugger and the console so the session can run offline.
//
// Scripts are comma-separated actions: ok, err:<class>, proto:<reason>,
// sleep:<ms>, msg:<text> and msgb64:<base64 text>.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/agentdbg/internal/commander"
	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
	"github.com/stupiduntilnot/agentdbg/internal/debugger"
	modelpkg "github.com/stupiduntilnot/agentdbg/internal/model"
)

type action struct {
	kind string
	arg  string
}

var actionKinds = []string{"err", "proto", "sleep", "msg", "msgb64"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found || !knownKind(kind) {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		actions = append(actions, action{kind: kind, arg: arg})
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

func knownKind(kind string) bool {
	for _, k := range actionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

// next returns the next action, repeating the last one once exhausted.
func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func (r *scriptRunner) exhausted() bool {
	return r.index >= len(r.actions)
}

func (a action) text() (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", fmt.Errorf("dummy msgb64 decode failed: %w", err)
	}
	return string(raw), nil
}

func sleepFor(arg string) {
	ms, _ := strconv.Atoi(arg)
	if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}

// Provider is a scripted model provider. It records every request it
// receives.
type Provider struct {
	mu       sync.Mutex
	script   *scriptRunner
	requests []modelpkg.Request
}

func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

func (p *Provider) Query(ctx context.Context, req modelpkg.Request) (modelpkg.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	recorded := req
	recorded.Messages = append([]ctxpkg.Message(nil), req.Messages...)
	p.requests = append(p.requests, recorded)

	if err := ctx.Err(); err != nil {
		return modelpkg.Response{}, &modelpkg.TransportError{Provider: "dummy", Err: err}
	}

	a := p.script.next()
	var content string
	switch a.kind {
	case "err":
		return modelpkg.Response{}, &modelpkg.TransportError{
			Provider: "dummy",
			Err:      fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api")),
		}
	case "proto":
		return modelpkg.Response{}, &modelpkg.ProtocolError{Provider: "dummy", Reason: emptyAs(a.arg, "empty model response")}
	case "sleep":
		sleepFor(a.arg)
		content = "dummy-after-sleep"
	case "msg", "msgb64":
		text, err := a.text()
		if err != nil {
			return modelpkg.Response{}, &modelpkg.ProtocolError{Provider: "dummy", Reason: err.Error()}
		}
		content = text
	default:
		content = "dummy-ok"
	}

	if req.Stream != nil {
		_, _ = io.WriteString(req.Stream, content)
	}
	return modelpkg.Response{Content: content, InputTokens: 1, OutputTokens: 1}, nil
}

// Requests returns the requests received so far.
func (p *Provider) Requests() []modelpkg.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]modelpkg.Request(nil), p.requests...)
}

// Debugger is a scripted debugger bridge. Commands without a scripted
// output echo themselves to stdout.
type Debugger struct {
	mu       sync.Mutex
	outputs  map[string]debugger.Output
	breaks   map[string]bool
	executed []string
	closed   bool
}

func NewDebugger() *Debugger {
	return &Debugger{outputs: map[string]debugger.Output{}, breaks: map[string]bool{}}
}

// Respond scripts the output of a command.
func (d *Debugger) Respond(command string, out debugger.Output) *Debugger {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs[command] = out
	return d
}

// BreakOn makes the session fail when command is executed.
func (d *Debugger) BreakOn(command string) *Debugger {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breaks[command] = true
	return d
}

func (d *Debugger) Execute(ctx context.Context, command string) (debugger.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return debugger.Output{}, &debugger.SessionError{Command: command, Err: debugger.ErrClosed}
	}
	d.executed = append(d.executed, command)
	if d.breaks[command] {
		d.closed = true
		return debugger.Output{}, &debugger.SessionError{Command: command, Err: debugger.ErrExited}
	}
	if out, ok := d.outputs[command]; ok {
		return out, nil
	}
	return debugger.Output{Stdout: "(dummy) " + command + "\n"}, nil
}

// Executed returns the commands run so far, in order.
func (d *Debugger) Executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.executed...)
}

func (d *Debugger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Notice is one piece of text the session showed.
type Notice struct {
	Kind cmdpkg.Kind
	Text string
}

// Commander is a scripted console. Input lines come from the input script
// and end with io.EOF once it is exhausted; confirmations come from the
// confirm script, where ok and msg:y mean yes.
type Commander struct {
	mu       sync.Mutex
	input    *scriptRunner
	confirm  *scriptRunner
	notices  []Notice
	streamed strings.Builder
}

func NewCommander(inputScript, confirmScript string) (*Commander, error) {
	input, err := newRunner(inputScript)
	if err != nil {
		return nil, err
	}
	confirm, err := newRunner(confirmScript)
	if err != nil {
		return nil, err
	}
	return &Commander{input: input, confirm: confirm}, nil
}

func (c *Commander) ReadLine(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.input.exhausted() {
		return "", io.EOF
	}
	a := c.input.next()
	switch a.kind {
	case "err":
		return "", fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		sleepFor(a.arg)
		return "", nil
	case "msg", "msgb64":
		return a.text()
	default:
		return "", nil
	}
}

func (c *Commander) Confirm(question string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.confirm.next()
	switch a.kind {
	case "ok":
		return true, nil
	case "err":
		return false, fmt.Errorf("dummy commander confirm error class=%s", emptyAs(a.arg, "command_source_api"))
	case "msg", "msgb64":
		text, err := a.text()
		if err != nil {
			return false, err
		}
		return cmdpkg.IsYes(text), nil
	default:
		return false, nil
	}
}

func (c *Commander) Notify(kind cmdpkg.Kind, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, Notice{Kind: kind, Text: text})
}

func (c *Commander) Stream() io.Writer { return streamWriter{c: c} }

type streamWriter struct{ c *Commander }

func (w streamWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.streamed.Write(p)
}

// Notices returns everything shown so far.
func (c *Commander) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice(nil), c.notices...)
}

// Streamed returns the concatenated streamed model output.
func (c *Commander) Streamed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamed.String()
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
