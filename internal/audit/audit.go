// Package audit defines the append-only event trail of debugging sessions.
package audit

import (
	"sync"
)

// Event types.
const (
	EventSessionStarted   = "session.started"
	EventSessionError     = "session.error"
	EventCycleStarted     = "cycle.started"
	EventCycleSucceeded   = "cycle.succeeded"
	EventCycleExhausted   = "cycle.exhausted"
	EventCycleAborted     = "cycle.aborted"
	EventTurnStarted      = "turn.started"
	EventTurnCompleted    = "turn.completed"
	EventCorrectionIssued = "correction.issued"
	EventProbeExecuted    = "probe.executed"
	EventCommandExecuted  = "command.executed"
	EventCommandFailed    = "command.failed"
	EventContextAppended  = "context.appended"
	EventPlanDeclined     = "plan.declined"
)

// Event is one entry of the trail. ParentID links it into a tree rooted at
// the session.started event.
type Event struct {
	ParentID *int64
	Type     string
	Payload  map[string]any
}

// Sink receives events and returns the id assigned to each.
type Sink interface {
	Append(e Event) (int64, error)
}

// Nop discards events.
type Nop struct{}

func (Nop) Append(Event) (int64, error) { return 0, nil }

// Memory keeps events in memory, numbered from 1.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Append(e Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return int64(len(m.events)), nil
}

// Events returns a copy of everything appended so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Types returns the event types in append order.
func (m *Memory) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.events))
	for _, e := range m.events {
		types = append(types, e.Type)
	}
	return types
}

// Ptr returns a pointer to id for use as a ParentID. Zero means no parent.
func Ptr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
