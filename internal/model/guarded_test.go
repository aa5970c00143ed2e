package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stupiduntilnot/agentdbg/internal/control"
)

type stubProvider struct {
	calls int
	errs  []error
}

func (s *stubProvider) Query(ctx context.Context, req Request) (Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Response{}, s.errs[i]
	}
	return Response{Content: "ok"}, nil
}

func TestGuarded_OpensAfterTransportFailures(t *testing.T) {
	transport := &TransportError{Provider: "stub", Err: errors.New("connection refused")}
	inner := &stubProvider{errs: []error{transport, transport}}
	now := time.Unix(1000, 0)
	g := NewGuarded(inner, control.NewCircuitBreaker(2, time.Minute))
	g.Now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if _, err := g.Query(context.Background(), Request{}); err == nil {
			t.Fatalf("call %d: expected transport error", i)
		}
	}

	_, err := g.Query(context.Background(), Request{})
	var te *TransportError
	if !errors.As(err, &te) || te.Provider != "circuit" {
		t.Fatalf("expected circuit transport error, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open circuit must not reach provider, calls=%d", inner.calls)
	}

	now = now.Add(2 * time.Minute)
	resp, err := g.Query(context.Background(), Request{})
	if err != nil {
		t.Fatalf("expected half-open probe to pass: %v", err)
	}
	if resp.Content != "ok" || g.Circuit.State() != control.CircuitClosed {
		t.Fatalf("unexpected state after recovery: %q %s", resp.Content, g.Circuit.State())
	}
}

func TestGuarded_ProtocolErrorsDoNotTrip(t *testing.T) {
	protocol := &ProtocolError{Provider: "stub", Reason: "empty"}
	inner := &stubProvider{errs: []error{protocol, protocol, protocol}}
	g := NewGuarded(inner, control.NewCircuitBreaker(1, time.Minute))

	for i := 0; i < 3; i++ {
		_, err := g.Query(context.Background(), Request{})
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("call %d: expected protocol error, got %v", i, err)
		}
	}
	if g.Circuit.State() != control.CircuitClosed {
		t.Fatalf("protocol errors must not open the circuit")
	}
}
