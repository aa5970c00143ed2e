package control

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker stops a session from hammering an unreachable model
// service. It counts consecutive failures per error class; one success
// resets every class.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	state       CircuitState
	failures    map[string]int
	openedAt    time.Time
	openedClass string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[string]int{},
	}
}

func (c *CircuitBreaker) State() CircuitState {
	return c.state
}

// Allow returns whether a query may be sent at this instant. An open
// circuit moves to half-open once the cooldown has elapsed.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	if c.state != CircuitOpen {
		return true
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// RetryAfter returns how long an open circuit keeps rejecting queries.
func (c *CircuitBreaker) RetryAfter(now time.Time) time.Duration {
	if c.state != CircuitOpen {
		return 0
	}
	remaining := c.Cooldown - now.Sub(c.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *CircuitBreaker) RecordSuccess() {
	c.state = CircuitClosed
	c.openedClass = ""
	c.failures = map[string]int{}
}

// RecordFailure counts a failure; a failure while half-open reopens at once.
func (c *CircuitBreaker) RecordFailure(errClass string, now time.Time) {
	if errClass == "" {
		errClass = "unknown"
	}
	if c.state == CircuitHalfOpen {
		c.trip(errClass, now)
		return
	}
	c.failures[errClass]++
	if c.failures[errClass] >= c.Threshold {
		c.trip(errClass, now)
	}
}

func (c *CircuitBreaker) trip(errClass string, now time.Time) {
	c.state = CircuitOpen
	c.openedAt = now
	c.openedClass = errClass
}

func (c *CircuitBreaker) OpenedClass() string {
	return c.openedClass
}
