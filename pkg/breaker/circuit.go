// Package breaker implements the per-backend circuit breaker and the
// jittered exponential-backoff retry loop (spec §4.3).
package breaker

import (
	"sync"
	"time"
)

// State is one of closed, open, half-open (spec §3).
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker is a failure-counting tracker with three states.
// Zero value is not usable; construct with NewCircuitBreaker.
//
// Transitions (spec §4.3):
//   - closed -> open when the failure count reaches threshold. The count is
//     not bounded by a time window: it accumulates failures of any age and
//     is reset to zero by any success recorded in closed state.
//   - open -> half-open once resetTimeout has elapsed since the open
//     transition; this is observed lazily on the next CanAttempt call, not
//     driven by a background timer.
//   - half-open -> closed after successThreshold consecutive successes.
//   - half-open -> open on any failure.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration

	state            State
	failureCount     int
	consecutiveOK    int
	lastStateChange  time.Time
	halfOpenProbeOut bool // a single probe call is outstanding
	disabled         bool
}

// NewCircuitBreaker constructs a breaker with the given failure threshold
// and reset timeout. successThreshold defaults to 2 (spec default) via
// NewCircuitBreakerWithSuccessThreshold if a different value is needed.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return NewCircuitBreakerWithSuccessThreshold(failureThreshold, 2, resetTimeout)
}

// NewCircuitBreakerWithSuccessThreshold is the fully-parameterized constructor.
func NewCircuitBreakerWithSuccessThreshold(failureThreshold, successThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		resetTimeout:     resetTimeout,
		state:            Closed,
		lastStateChange:  time.Now(),
	}
}

// NewDisabled returns a breaker that always admits (spec §4.3 "a disabled
// breaker always admits").
func NewDisabled() *CircuitBreaker {
	cb := NewCircuitBreaker(0, 0)
	cb.disabled = true
	return cb
}

// CanAttempt is the admission check ("can_proceed" in spec §4.3). In open
// state it returns false, unless resetTimeout has elapsed, in which case it
// transitions to half-open and admits exactly one probe. In half-open state
// a single probing call is allowed in flight; further calls are refused
// until that probe resolves via RecordSuccess/RecordFailure.
func (cb *CircuitBreaker) CanAttempt() bool {
	if cb.disabled {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Since(cb.lastStateChange) < cb.resetTimeout {
			return false
		}
		cb.setState(HalfOpen)
		cb.halfOpenProbeOut = true
		return true
	case HalfOpen:
		if cb.halfOpenProbeOut {
			return false
		}
		cb.halfOpenProbeOut = true
		return true
	default:
		return false
	}
}

// RecordSuccess notes a successful call. In half-open state, successThreshold
// consecutive successes close the circuit; in closed state it resets the
// failure counter (spec: "reset on success").
func (cb *CircuitBreaker) RecordSuccess() {
	if cb.disabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.halfOpenProbeOut = false
		cb.consecutiveOK++
		if cb.consecutiveOK >= cb.successThreshold {
			cb.setState(Closed)
			cb.failureCount = 0
			cb.consecutiveOK = 0
		}
	case Closed:
		cb.failureCount = 0
	}
}

// RecordFailure notes a failed call. In closed state it increments the
// failure counter, opening the circuit once the threshold is reached. In
// half-open state any failure reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	if cb.disabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(Open)
		}
	case HalfOpen:
		cb.halfOpenProbeOut = false
		cb.consecutiveOK = 0
		cb.setState(Open)
	}
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s State) {
	cb.state = s
	cb.lastStateChange = time.Now()
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) GetFailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

func (cb *CircuitBreaker) GetLastStateChange() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastStateChange
}
