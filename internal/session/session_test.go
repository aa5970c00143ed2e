package session

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stupiduntilnot/agentdbg/internal/audit"
	"github.com/stupiduntilnot/agentdbg/internal/commander"
	"github.com/stupiduntilnot/agentdbg/internal/debugger"
	"github.com/stupiduntilnot/agentdbg/internal/dummy"
	"github.com/stupiduntilnot/agentdbg/internal/orchestrator"
)

func gdbBlock(commands ...string) string {
	text := "```gdb\n" + strings.Join(commands, "\n") + "\n```"
	return "msgb64:" + base64.StdEncoding.EncodeToString([]byte(text))
}

func input(lines ...string) string {
	actions := make([]string, 0, len(lines))
	for _, l := range lines {
		actions = append(actions, "msgb64:"+base64.StdEncoding.EncodeToString([]byte(l)))
	}
	return strings.Join(actions, ",")
}

type harness struct {
	session *Session
	console *dummy.Commander
	bridge  *dummy.Debugger
	events  *audit.Memory
}

func newHarness(t *testing.T, providerScript, inputScript, confirmScript string) *harness {
	t.Helper()
	provider, err := dummy.NewProvider(providerScript)
	require.NoError(t, err)
	console, err := dummy.NewCommander(inputScript, confirmScript)
	require.NoError(t, err)
	bridge := dummy.NewDebugger()
	events := &audit.Memory{}

	eventID, err := Start(events, "s1", map[string]any{"program": "a.out"})
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.Config{
		Model:        "test-model",
		SystemPrompt: "translate",
		WindowSize:   3,
	}, provider, bridge, orchestrator.WithAudit(events, eventID), orchestrator.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	return &harness{
		session: &Session{
			ID:        "s1",
			Planner:   orch,
			Bridge:    bridge,
			Commander: console,
			Sink:      events,
			EventID:   eventID,
			Logger:    zaptest.NewLogger(t),
		},
		console: console,
		bridge:  bridge,
		events:  events,
	}
}

func texts(notices []dummy.Notice, kind commander.Kind) []string {
	var out []string
	for _, n := range notices {
		if n.Kind == kind {
			out = append(out, n.Text)
		}
	}
	return out
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		in   string
		want Line
	}{
		{"", Line{Kind: LineEmpty}},
		{"  agent set a breakpoint at main ", Line{Kind: LineAgent, Text: "set a breakpoint at main"}},
		{"agent", Line{Kind: LineAgent}},
		{"ask show the stack", Line{Kind: LineAsk, Text: "show the stack"}},
		{"quit", Line{Kind: LineQuit}},
		{"exit", Line{Kind: LineQuit}},
		{"info breakpoints", Line{Kind: LinePassthrough, Text: "info breakpoints"}},
		{"agentx", Line{Kind: LinePassthrough, Text: "agentx"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseLine(tc.in), tc.in)
	}
}

func TestServe_AgentRunsCommands(t *testing.T) {
	h := newHarness(t,
		strings.Join([]string{gdbBlock("help break"), gdbBlock("break main")}, ","),
		input("agent set a breakpoint at main"), "ok")

	require.NoError(t, h.session.Serve(context.Background()))
	assert.Equal(t, []string{"help break", "break main"}, h.bridge.Executed())
	notices := h.console.Notices()
	assert.Equal(t, []string{"break main"}, texts(notices, commander.KindCommand))
	assert.Equal(t, []string{"(dummy) break main\n"}, texts(notices, commander.KindStdout))
	assert.Equal(t, audit.EventSessionStarted, h.events.Types()[0])
}

func TestServe_AskDeclinedNeverExecutes(t *testing.T) {
	h := newHarness(t,
		strings.Join([]string{gdbBlock("help break"), gdbBlock("break main")}, ","),
		input("ask set a breakpoint at main"), "msg:n")

	require.NoError(t, h.session.Serve(context.Background()))
	assert.Equal(t, []string{"help break"}, h.bridge.Executed())
	notices := h.console.Notices()
	assert.Contains(t, texts(notices, commander.KindInfo), "Not executed.")
	assert.Contains(t, texts(notices, commander.KindCommand), "break main")
	assert.Contains(t, h.events.Types(), audit.EventPlanDeclined)
}

func TestServe_AskConfirmedExecutes(t *testing.T) {
	h := newHarness(t,
		strings.Join([]string{gdbBlock("help break"), gdbBlock("break main")}, ","),
		input("ask set a breakpoint at main"), "msg:y")

	require.NoError(t, h.session.Serve(context.Background()))
	assert.Equal(t, []string{"help break", "break main"}, h.bridge.Executed())
}

func TestServe_UsageAndPassthroughAndQuit(t *testing.T) {
	h := newHarness(t, "ok", input("agent", "ask  ", "info registers", "quit", "bt"), "ok")

	require.NoError(t, h.session.Serve(context.Background()))
	assert.Equal(t, []string{"info registers"}, h.bridge.Executed(), "lines after quit are not read")
	info := texts(h.console.Notices(), commander.KindInfo)
	assert.Contains(t, info, "usage: agent <request in plain words>")
	assert.Contains(t, info, "usage: ask <request in plain words>")
}

func TestServe_FailedCycleKeepsShellRunning(t *testing.T) {
	h := newHarness(t, "err:connection_refused", input("agent break at main", "bt"), "ok")

	require.NoError(t, h.session.Serve(context.Background()))
	assert.Equal(t, []string{"bt"}, h.bridge.Executed())
	errs := texts(h.console.Notices(), commander.KindError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "model service failed")
}

func TestServe_EndsWhenDebuggerExits(t *testing.T) {
	h := newHarness(t, "ok", input("kill-gdb", "bt"), "ok")
	h.bridge.BreakOn("kill-gdb")

	err := h.session.Serve(context.Background())
	var sessionErr *debugger.SessionError
	require.True(t, errors.As(err, &sessionErr), "got %v", err)
	assert.Equal(t, []string{"kill-gdb"}, h.bridge.Executed())
}

func TestServe_InputError(t *testing.T) {
	h := newHarness(t, "ok", "err:tty_gone", "ok")
	assert.Error(t, h.session.Serve(context.Background()))
}
