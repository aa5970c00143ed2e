// Package debugger executes debugger commands against a live GDB session.
package debugger

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is reported when a command is sent after the bridge was closed.
var ErrClosed = errors.New("debugger bridge closed")

// ErrExited is reported when the debugger process left during a command.
var ErrExited = errors.New("debugger exited")

// Output is the text a single command produced.
type Output struct {
	Stdout string
	Stderr string
}

// Bridge executes one debugger command at a time. A command the debugger
// rejects is reported through Output.Stderr; the returned error is non-nil
// only when the session itself is unusable and is always a *SessionError.
type Bridge interface {
	Execute(ctx context.Context, command string) (Output, error)
	Close() error
}

// SessionError means the debugger session can no longer accept commands.
type SessionError struct {
	Command string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("debugger session error: %v", e.Err)
	}
	return fmt.Sprintf("debugger session error running %q: %v", e.Command, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
