package control

import "fmt"

// Policy bounds one orchestration cycle.
type Policy struct {
	// MaxIterations caps model queries per cycle, counting probe,
	// corrective and candidate turns alike.
	MaxIterations int
	// MinProbes is the number of probe steps required before a final
	// batch is accepted.
	MinProbes int
}

// DefaultPolicy returns the default exploration policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxIterations: 5,
		MinProbes:     1,
	}
}

// Validate rejects policies that could not terminate or would skip probing.
func (p Policy) Validate() error {
	if p.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be > 0, got %d", p.MaxIterations)
	}
	if p.MinProbes < 1 {
		return fmt.Errorf("min probes must be >= 1, got %d", p.MinProbes)
	}
	if p.MinProbes >= p.MaxIterations {
		return fmt.Errorf("min probes (%d) must be below max iterations (%d)", p.MinProbes, p.MaxIterations)
	}
	return nil
}

// LimitType identifies which limit is reached.
type LimitType string

const (
	LimitIterations LimitType = "max_iterations"
)

// LimitError indicates a run limit was reached.
type LimitError struct {
	Type      LimitType
	Value     int64
	Threshold int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit reached type=%s value=%d threshold=%d", e.Type, e.Value, e.Threshold)
}

// CheckIterationLimit validates iteration usage against policy.
func CheckIterationLimit(p Policy, used int) error {
	if p.MaxIterations <= 0 || used >= p.MaxIterations {
		return &LimitError{Type: LimitIterations, Value: int64(used), Threshold: int64(p.MaxIterations)}
	}
	return nil
}

// ProbesSatisfied reports whether enough probe steps happened to accept a final batch.
func ProbesSatisfied(p Policy, probeCount int) bool {
	min := p.MinProbes
	if min < 1 {
		min = 1
	}
	return probeCount >= min
}
