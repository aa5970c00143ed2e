// Package orchestrator runs the bounded exploration loop that turns a
// natural-language request into verified debugger commands.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/agentdbg/internal/audit"
	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
	"github.com/stupiduntilnot/agentdbg/internal/control"
	"github.com/stupiduntilnot/agentdbg/internal/debugger"
	"github.com/stupiduntilnot/agentdbg/internal/extract"
	"github.com/stupiduntilnot/agentdbg/internal/model"
)

// ProbePrefix marks a command that queries the debugger's help system.
const ProbePrefix = "help "

// Config holds the per-session settings of an Orchestrator.
type Config struct {
	Model        string
	SystemPrompt string
	Policy       control.Policy
	// WindowSize is the number of executed requests carried into prompts.
	WindowSize int
	Extractor  *extract.Extractor
	// CondenseHelp shortens class help output before it is shown to the model.
	CondenseHelp bool
}

// Orchestrator owns the conversation context of one debugger session.
type Orchestrator struct {
	cfg       Config
	provider  model.Provider
	bridge    debugger.Bridge
	window    *ctxpkg.Window
	assembler ctxpkg.Assembler

	logger   *zap.Logger
	sink     audit.Sink
	parentID int64
	stream   io.Writer
	persist  func(ctxpkg.Entry) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithAudit sends cycle events to sink as children of parentID.
func WithAudit(sink audit.Sink, parentID int64) Option {
	return func(o *Orchestrator) {
		o.sink = sink
		o.parentID = parentID
	}
}

// WithStream shows partial model output on w while queries are in flight.
func WithStream(w io.Writer) Option {
	return func(o *Orchestrator) { o.stream = w }
}

// WithHistory seeds the context window with previously executed entries.
func WithHistory(entries []ctxpkg.Entry) Option {
	return func(o *Orchestrator) {
		for _, e := range entries {
			o.window.Append(e)
		}
	}
}

// WithPersist is called with every entry appended to the context window.
func WithPersist(fn func(ctxpkg.Entry) error) Option {
	return func(o *Orchestrator) { o.persist = fn }
}

// New validates cfg and returns an orchestrator bound to provider and bridge.
func New(cfg Config, provider model.Provider, bridge debugger.Bridge, opts ...Option) (*Orchestrator, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrNoModel
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return nil, ErrNoPrompt
	}
	if cfg.Policy == (control.Policy{}) {
		cfg.Policy = control.DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.New(extract.ModeFenced)
	}

	o := &Orchestrator{
		cfg:       cfg,
		provider:  provider,
		bridge:    bridge,
		window:    ctxpkg.NewWindow(cfg.WindowSize),
		assembler: &ctxpkg.StandardAssembler{},
		logger:    zap.NewNop(),
		sink:      audit.Nop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o, nil
}

// Window returns the session's context window.
func (o *Orchestrator) Window() *ctxpkg.Window { return o.window }

// Run resolves request and executes the accepted batch.
func (o *Orchestrator) Run(ctx context.Context, request string) (Result, error) {
	plan, err := o.Resolve(ctx, request)
	if err != nil {
		return Result{Plan: plan}, err
	}
	return o.Execute(ctx, plan)
}

// Resolve runs the exploration loop until the model proposes a final batch
// after enough help probes, or the iteration budget is spent. A cycle that
// ends without a batch returns a *CycleError. The context window is never
// changed here.
func (o *Orchestrator) Resolve(ctx context.Context, request string) (Plan, error) {
	request = strings.TrimSpace(request)
	policy := o.cfg.Policy
	plan := Plan{
		Request: request,
		State: LoopState{
			MinProbes:     policy.MinProbes,
			MaxIterations: policy.MaxIterations,
			Outcome:       OutcomePending,
		},
	}
	state := &plan.State
	plan.cycleID = o.emit(o.parentID, audit.EventCycleStarted, map[string]any{
		"request":        request,
		"model":          o.cfg.Model,
		"min_probes":     policy.MinProbes,
		"max_iterations": policy.MaxIterations,
		"window_entries": o.window.Len(),
	})
	o.logger.Debug("cycle started", zap.String("request", request))

	ex := o.cfg.Extractor
	open, closing := fenceMarkers(ex)
	messages := o.assembler.Assemble(o.cfg.SystemPrompt, o.window, request)

	for {
		if err := control.CheckIterationLimit(policy, state.Iteration); err != nil {
			cycleErr := o.finish(&plan, OutcomeExhausted, "iteration budget spent without an accepted command batch", err)
			return plan, cycleErr
		}
		state.Iteration++

		turnID := o.emit(plan.cycleID, audit.EventTurnStarted, map[string]any{
			"iteration": state.Iteration,
			"messages":  len(messages),
		})
		resp, err := o.query(ctx, messages)
		if err != nil {
			var protocolErr *model.ProtocolError
			if errors.As(err, &protocolErr) {
				o.emit(turnID, audit.EventCorrectionIssued, map[string]any{"kind": "protocol", "error": err.Error()})
				o.logger.Warn("unusable model response", zap.Int("iteration", state.Iteration), zap.Error(err))
				messages = append(messages, user(protocolCorrection(open, closing)))
				continue
			}
			cycleErr := o.finish(&plan, OutcomeAborted, "model service failed", err)
			return plan, cycleErr
		}
		o.emit(turnID, audit.EventTurnCompleted, map[string]any{
			"content":       resp.Content,
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		})

		batch := ex.Extract(resp.Content)
		plan.Narrative = batch.Narrative
		switch {
		case len(batch.Commands) == 0 && batch.Declined:
			cycleErr := o.finish(&plan, OutcomeAborted, ErrDeclined.Error(), ErrDeclined)
			return plan, cycleErr

		case len(batch.Commands) == 0:
			o.emit(turnID, audit.EventCorrectionIssued, map[string]any{"kind": "narrative"})
			messages = append(messages, assistant(resp.Content), user(narrativeCorrection(open, closing)))

		case containsProbe(batch.Commands):
			probes := probeCommands(batch.Commands)
			state.ProbeCount++
			for _, probe := range probes {
				out, err := o.bridge.Execute(ctx, probe)
				if err != nil {
					cycleErr := o.finish(&plan, OutcomeAborted, "debugger session failed during help probe", err)
					return plan, cycleErr
				}
				output := out.Stdout + out.Stderr
				if o.cfg.CondenseHelp {
					output = debugger.CondenseHelp(output)
				}
				state.UsedProbes = append(state.UsedProbes, probe)
				o.emit(turnID, audit.EventProbeExecuted, map[string]any{
					"command":     probe,
					"probe_count": state.ProbeCount,
					"stderr":      out.Stderr,
				})
				messages = append(messages,
					assistant(fenced(open, closing, probe)),
					user(probeResult(probe, output, state.ProbeCount, state.MinProbes)),
				)
			}

		case control.ProbesSatisfied(policy, state.ProbeCount):
			plan.Commands = batch.Commands
			o.finish(&plan, OutcomeSuccess, "", nil)
			return plan, nil

		default:
			o.emit(turnID, audit.EventCorrectionIssued, map[string]any{
				"kind":        "probe_required",
				"probe_count": state.ProbeCount,
			})
			messages = append(messages, assistant(resp.Content),
				user(probeFirstCorrection(ProbePrefix, state.ProbeCount, state.MinProbes)))
		}
	}
}

// Execute runs an accepted batch in order. A command the debugger rejects
// is recorded and the batch continues; a *debugger.SessionError stops the
// batch and is returned together with the records gathered so far. The
// executed records are appended to the context window.
func (o *Orchestrator) Execute(ctx context.Context, plan Plan) (Result, error) {
	result := Result{Plan: plan}
	if plan.State.Outcome != OutcomeSuccess || len(plan.Commands) == 0 {
		return result, ErrNotResolved
	}

	var sessionErr error
	for _, command := range plan.Commands {
		out, err := o.bridge.Execute(ctx, command)
		record := ctxpkg.Record{Command: command, Stdout: out.Stdout, Stderr: out.Stderr}
		if err != nil {
			var se *debugger.SessionError
			if !errors.As(err, &se) {
				err = &debugger.SessionError{Command: command, Err: err}
			}
			record.Stderr = joinStderr(out.Stderr, err)
			result.Records = append(result.Records, record)
			o.emit(plan.cycleID, audit.EventSessionError, map[string]any{"command": command, "error": err.Error()})
			o.logger.Error("debugger session failed", zap.String("command", command), zap.Error(err))
			sessionErr = err
			break
		}
		result.Records = append(result.Records, record)
		eventType := audit.EventCommandExecuted
		if record.Failed() {
			eventType = audit.EventCommandFailed
		}
		o.emit(plan.cycleID, eventType, map[string]any{
			"command": command,
			"stdout":  record.Stdout,
			"stderr":  record.Stderr,
		})
	}

	entry := ctxpkg.Entry{Request: plan.Request, Records: result.Records}
	o.window.Append(entry)
	o.emit(plan.cycleID, audit.EventContextAppended, map[string]any{
		"records": len(entry.Records),
		"window":  o.window.Len(),
	})
	if o.persist != nil {
		if err := o.persist(entry); err != nil {
			o.logger.Warn("persist history failed", zap.Error(err))
		}
	}
	return result, sessionErr
}

func (o *Orchestrator) query(ctx context.Context, messages []ctxpkg.Message) (model.Response, error) {
	req := model.Request{
		Model:       o.cfg.Model,
		Messages:    messages,
		Temperature: 0,
		Stream:      o.stream,
	}
	resp, err := o.provider.Query(ctx, req)
	if o.stream != nil && resp.Content != "" {
		_, _ = io.WriteString(o.stream, "\n")
	}
	return resp, err
}

func (o *Orchestrator) finish(plan *Plan, outcome Outcome, reason string, cause error) error {
	plan.State.Outcome = outcome
	payload := map[string]any{
		"iterations":  plan.State.Iteration,
		"probe_count": plan.State.ProbeCount,
		"used_probes": plan.State.UsedProbes,
	}
	var eventType string
	switch outcome {
	case OutcomeSuccess:
		eventType = audit.EventCycleSucceeded
		payload["commands"] = plan.Commands
	case OutcomeExhausted:
		eventType = audit.EventCycleExhausted
		payload["reason"] = reason
	default:
		eventType = audit.EventCycleAborted
		payload["reason"] = reason
		if cause != nil {
			payload["error"] = cause.Error()
		}
	}
	o.emit(plan.cycleID, eventType, payload)
	o.logger.Info("cycle finished",
		zap.String("outcome", string(outcome)),
		zap.Int("iterations", plan.State.Iteration),
		zap.Int("probe_count", plan.State.ProbeCount),
	)
	if outcome == OutcomeSuccess {
		return nil
	}
	return &CycleError{Outcome: outcome, Reason: reason, Err: cause}
}

// emit appends an audit event. Failures are logged and never stop the cycle.
func (o *Orchestrator) emit(parentID int64, eventType string, payload map[string]any) int64 {
	id, err := o.sink.Append(audit.Event{ParentID: audit.Ptr(parentID), Type: eventType, Payload: payload})
	if err != nil {
		o.logger.Warn("audit append failed", zap.String("event", eventType), zap.Error(err))
		return parentID
	}
	return id
}

// IsProbe reports whether command queries the debugger's help system.
func IsProbe(command string) bool {
	c := strings.TrimSpace(command)
	return c == strings.TrimSpace(ProbePrefix) || strings.HasPrefix(c, ProbePrefix)
}

func containsProbe(commands []string) bool {
	for _, c := range commands {
		if IsProbe(c) {
			return true
		}
	}
	return false
}

func probeCommands(commands []string) []string {
	var probes []string
	for _, c := range commands {
		if IsProbe(c) {
			probes = append(probes, c)
		}
	}
	return probes
}

func fenceMarkers(ex *extract.Extractor) (string, string) {
	open, closing := ex.Open, ex.Close
	if open == "" {
		open = extract.DefaultOpen
	}
	if closing == "" {
		closing = extract.DefaultClose
	}
	return open, closing
}
