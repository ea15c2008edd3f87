package verifier

import (
	"sync"
	"time"
)

// breakerState represents the state of the judge circuit breaker.
type breakerState int

const (
	breakerClosed   breakerState = iota // normal operation
	breakerOpen                         // failing, skip judge calls
	breakerHalfOpen                     // cooldown elapsed, allow a trial call
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// circuitBreaker guards the judge capability: consecutive failures open it,
// a cooldown later a single trial request is allowed through, and any
// success closes it again.
type circuitBreaker struct {
	mu              sync.Mutex
	state           breakerState
	failures        int
	lastStateChange time.Time

	failThreshold int
	cooldown      time.Duration
	now           func() time.Time
}

func newCircuitBreaker(failThreshold int, cooldown time.Duration) *circuitBreaker {
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &circuitBreaker{
		state:         breakerClosed,
		failThreshold: failThreshold,
		cooldown:      cooldown,
		now:           time.Now,
	}
}

// Allow reports whether a judge call should be attempted.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.cooldown {
			cb.state = breakerHalfOpen
			cb.lastStateChange = cb.now()
			return true
		}
		return false
	case breakerHalfOpen:
		return true
	default:
		return false
	}
}

// MarkSuccess records a successful judge call and closes the breaker.
func (cb *circuitBreaker) MarkSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	if cb.state != breakerClosed {
		cb.state = breakerClosed
		cb.lastStateChange = cb.now()
	}
}

// MarkFailure records a failed judge call, opening the breaker once the
// threshold is reached. A failed half-open trial reopens it immediately.
func (cb *circuitBreaker) MarkFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.failThreshold {
		cb.state = breakerOpen
		cb.lastStateChange = cb.now()
	}
}

// State returns the current state for logging.
func (cb *circuitBreaker) State() breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
