package model

import (
	"context"
	"fmt"
	"io"

	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
)

// Request is one transcript sent to the model service.
type Request struct {
	Model       string
	Messages    []ctxpkg.Message
	Temperature float32
	// Stream receives partial text as it arrives when non-nil. The full
	// text is still returned in Response.Content.
	Stream io.Writer
}

// Response is the common response model for model providers.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the model provider abstraction used by the orchestrator.
type Provider interface {
	Query(ctx context.Context, req Request) (Response, error)
}

// TransportError reports that the model service could not be reached or
// answered with a failure status.
type TransportError struct {
	Provider string
	Status   int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s transport error status=%d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a response that arrived but carries no usable text.
type ProtocolError struct {
	Provider string
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s protocol error: %s", e.Provider, e.Reason)
}
