// Package session runs the interactive shell of one debugger session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/agentdbg/internal/audit"
	"github.com/stupiduntilnot/agentdbg/internal/commander"
	"github.com/stupiduntilnot/agentdbg/internal/debugger"
	"github.com/stupiduntilnot/agentdbg/internal/orchestrator"
)

// Prompt is shown before every input line.
const Prompt = "(agentdbg) "

// LineKind classifies one line of shell input.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineAgent
	LineAsk
	LineQuit
	LinePassthrough
)

// Line is a parsed input line. Text is the request for agent and ask, and
// the raw command for passthrough.
type Line struct {
	Kind LineKind
	Text string
}

// ParseLine splits the shell keyword from its argument.
func ParseLine(raw string) Line {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Line{Kind: LineEmpty}
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch word {
	case "agent":
		return Line{Kind: LineAgent, Text: rest}
	case "ask":
		return Line{Kind: LineAsk, Text: rest}
	case "quit", "exit":
		if rest == "" {
			return Line{Kind: LineQuit}
		}
	}
	return Line{Kind: LinePassthrough, Text: line}
}

// Planner resolves and executes natural-language requests.
type Planner interface {
	Resolve(ctx context.Context, request string) (orchestrator.Plan, error)
	Execute(ctx context.Context, plan orchestrator.Plan) (orchestrator.Result, error)
}

// Session ties a planner, a debugger and a console together.
type Session struct {
	ID        string
	Planner   Planner
	Bridge    debugger.Bridge
	Commander commander.Commander
	Sink      audit.Sink
	// EventID is the session.started event new events hang under.
	EventID int64
	Logger  *zap.Logger
}

// Start records the session.started event and returns its id.
func Start(sink audit.Sink, sessionID string, payload map[string]any) (int64, error) {
	p := map[string]any{"session_id": sessionID}
	for k, v := range payload {
		p[k] = v
	}
	return sink.Append(audit.Event{Type: audit.EventSessionStarted, Payload: p})
}

// Serve reads lines until input ends, the user quits or the debugger
// session goes away. Failed requests are reported and the shell continues.
func (s *Session) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := s.Commander.ReadLine(Prompt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		line := ParseLine(raw)
		if line.Kind == LineQuit {
			return nil
		}
		if err := s.Handle(ctx, line); err != nil {
			return err
		}
	}
}

// Handle runs one parsed line. It returns an error only when the debugger
// session can no longer be used.
func (s *Session) Handle(ctx context.Context, line Line) error {
	switch line.Kind {
	case LineAgent:
		if line.Text == "" {
			s.Commander.Notify(commander.KindInfo, "usage: agent <request in plain words>")
			return nil
		}
		plan, err := s.Planner.Resolve(ctx, line.Text)
		if err != nil {
			s.reportFailure(plan, err)
			return sessionGone(err)
		}
		return s.execute(ctx, plan)

	case LineAsk:
		if line.Text == "" {
			s.Commander.Notify(commander.KindInfo, "usage: ask <request in plain words>")
			return nil
		}
		plan, err := s.Planner.Resolve(ctx, line.Text)
		if err != nil {
			s.reportFailure(plan, err)
			return sessionGone(err)
		}
		s.Commander.Notify(commander.KindInfo, "Proposed commands:")
		for _, c := range plan.Commands {
			s.Commander.Notify(commander.KindCommand, c)
		}
		if plan.Narrative != "" {
			s.Commander.Notify(commander.KindNarrative, plan.Narrative)
		}
		ok, err := s.Commander.Confirm("Execute these commands?")
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read confirmation: %w", err)
		}
		if !ok {
			s.Commander.Notify(commander.KindInfo, "Not executed.")
			s.emit(audit.EventPlanDeclined, map[string]any{"request": plan.Request, "commands": plan.Commands})
			return nil
		}
		return s.execute(ctx, plan)

	case LinePassthrough:
		out, err := s.Bridge.Execute(ctx, line.Text)
		s.show(out.Stdout, out.Stderr)
		if err != nil {
			s.Commander.Notify(commander.KindError, err.Error())
			return sessionGone(err)
		}
	}
	return nil
}

func (s *Session) execute(ctx context.Context, plan orchestrator.Plan) error {
	result, err := s.Planner.Execute(ctx, plan)
	for _, r := range result.Records {
		s.Commander.Notify(commander.KindCommand, r.Command)
		s.show(r.Stdout, r.Stderr)
	}
	if err != nil {
		s.Commander.Notify(commander.KindError, err.Error())
		return sessionGone(err)
	}
	return nil
}

func (s *Session) show(stdout, stderr string) {
	if stdout != "" {
		s.Commander.Notify(commander.KindStdout, stdout)
	}
	if stderr != "" {
		s.Commander.Notify(commander.KindStderr, stderr)
	}
}

func (s *Session) reportFailure(plan orchestrator.Plan, err error) {
	var cycleErr *orchestrator.CycleError
	if errors.As(err, &cycleErr) {
		msg := fmt.Sprintf("No command executed: %s (after %d model queries, %d help probes).",
			cycleErr.Reason, plan.State.Iteration, plan.State.ProbeCount)
		s.Commander.Notify(commander.KindError, msg)
		if cycleErr.Err != nil && cycleErr.Err.Error() != cycleErr.Reason {
			s.Commander.Notify(commander.KindInfo, cycleErr.Err.Error())
		}
		if plan.Narrative != "" {
			s.Commander.Notify(commander.KindNarrative, plan.Narrative)
		}
		return
	}
	s.Commander.Notify(commander.KindError, err.Error())
}

func (s *Session) emit(eventType string, payload map[string]any) {
	if s.Sink == nil {
		return
	}
	if _, err := s.Sink.Append(audit.Event{ParentID: audit.Ptr(s.EventID), Type: eventType, Payload: payload}); err != nil {
		s.logger().Warn("audit append failed", zap.String("event", eventType), zap.Error(err))
	}
}

func (s *Session) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// sessionGone passes through errors meaning the debugger has exited or the
// bridge was closed; anything else leaves the shell running.
func sessionGone(err error) error {
	if errors.Is(err, debugger.ErrExited) || errors.Is(err, debugger.ErrClosed) {
		return err
	}
	return nil
}
