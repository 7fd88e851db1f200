package llm

import (
	"sync"
	"time"
)

// CircuitState is a per-provider circuit's position.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // provider healthy, calls flow
	CircuitOpen                         // provider failing, calls rejected
	CircuitHalfOpen                     // probing recovery with one call
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one provider in the Router. Reaching the threshold
// of consecutive failures opens the circuit, so the Router fails over to the
// next provider without burning a planner/verifier call on a known-bad
// backend. After the recovery timeout one probe call is let through; its
// outcome closes or re-opens the circuit.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            CircuitState
	failureCount     int
	failureThreshold int
	recoveryTimeout  time.Duration
	lastFailureTime  time.Time
}

// NewCircuitBreaker creates a breaker opening after failureThreshold
// consecutive failures and probing again after recoveryTimeout.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Allow reports whether a call may go through. An open circuit whose
// recovery timeout has elapsed transitions to half-open and admits one
// probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.state = CircuitHalfOpen
			return true
		}
	}
	return false
}

// RecordSuccess resets the consecutive-failure count; a successful probe
// closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
	}
}

// RecordFailure counts a failed call. A failed probe immediately re-opens a
// half-open circuit; crossing the threshold opens a closed one.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = CircuitOpen
	}
}

// State returns the current circuit position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
