package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stupiduntilnot/agentdbg/internal/control"
)

// Guarded fails fast while the circuit breaker is open instead of sending
// queries to a model service that keeps failing.
type Guarded struct {
	Inner   Provider
	Circuit *control.CircuitBreaker
	Now     func() time.Time
}

// NewGuarded wraps p with breaker.
func NewGuarded(p Provider, breaker *control.CircuitBreaker) *Guarded {
	return &Guarded{Inner: p, Circuit: breaker, Now: time.Now}
}

func (g *Guarded) Query(ctx context.Context, req Request) (Response, error) {
	now := g.now()
	if !g.Circuit.Allow(now) {
		return Response{}, &TransportError{
			Provider: "circuit",
			Err: fmt.Errorf("model service disabled after repeated %s failures, retry in %s",
				g.Circuit.OpenedClass(), g.Circuit.RetryAfter(now).Round(time.Second)),
		}
	}
	resp, err := g.Inner.Query(ctx, req)
	if err != nil {
		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			g.Circuit.RecordFailure("transport", g.now())
		}
		return resp, err
	}
	g.Circuit.RecordSuccess()
	return resp, nil
}

func (g *Guarded) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}
