package orchestrator

import (
	"errors"
	"fmt"

	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
)

// Outcome is the terminal classification of one cycle.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSuccess   Outcome = "success"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeAborted   Outcome = "aborted"
)

// LoopState tracks one exploration cycle.
type LoopState struct {
	// Iteration counts model queries of every kind.
	Iteration     int
	ProbeCount    int
	MinProbes     int
	MaxIterations int
	UsedProbes    []string
	Outcome       Outcome
}

// Plan is a resolved request. Commands is set only when the outcome is
// OutcomeSuccess.
type Plan struct {
	Request   string
	Commands  []string
	Narrative string
	State     LoopState

	cycleID int64
}

// Result is an executed plan.
type Result struct {
	Plan
	Records []ctxpkg.Record
}

var (
	// ErrNoModel and ErrNoPrompt are configuration errors reported before
	// any query is sent.
	ErrNoModel  = errors.New("model id is not configured")
	ErrNoPrompt = errors.New("system prompt is empty")

	// ErrDeclined is the cause of a cycle the model gave up on.
	ErrDeclined = errors.New("model reported no valid command")

	// ErrNotResolved is returned when executing a plan that did not succeed.
	ErrNotResolved = errors.New("plan was not resolved")
)

// CycleError reports a cycle that ended without an accepted batch.
type CycleError struct {
	Outcome Outcome
	Reason  string
	Err     error
}

func (e *CycleError) Error() string {
	if e.Err == nil || e.Err.Error() == e.Reason {
		return fmt.Sprintf("cycle %s: %s", e.Outcome, e.Reason)
	}
	return fmt.Sprintf("cycle %s: %s: %v", e.Outcome, e.Reason, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }
