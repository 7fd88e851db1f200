package llm

import (
	"testing"
	"time"
)

func TestCircuitBreaker_ClosedByDefaultAndAllows(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	if cb.State() != CircuitClosed {
		t.Fatal("expected closed state by default")
	}
	if !cb.Allow() {
		t.Fatal("expected a closed circuit to allow calls")
	}
}

func TestCircuitBreaker_OpensAtThresholdAndRejects(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatal("two failures must not trip a threshold of three")
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("expected open after the third consecutive failure")
	}
	if cb.Allow() {
		t.Fatal("an open circuit must reject calls before the recovery timeout")
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Fatal("a success between failures must reset the consecutive count")
	}
}

func TestCircuitBreaker_ProbeAfterRecoveryTimeout(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected one probe allowed after the recovery timeout")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatal("expected half-open while probing")
	}
}

func TestCircuitBreaker_ProbeOutcomeClosesOrReopens(t *testing.T) {
	cases := []struct {
		name    string
		outcome func(*CircuitBreaker)
		want    CircuitState
	}{
		{"successful probe closes", (*CircuitBreaker).RecordSuccess, CircuitClosed},
		{"failed probe re-opens", (*CircuitBreaker).RecordFailure, CircuitOpen},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(2, 10*time.Millisecond)
			cb.RecordFailure()
			cb.RecordFailure()
			time.Sleep(15 * time.Millisecond)
			cb.Allow() // transitions to half-open

			tt.outcome(cb)
			if cb.State() != tt.want {
				t.Fatalf("expected %s after probe, got %s", tt.want, cb.State())
			}
		})
	}
}

func TestCircuitState_Strings(t *testing.T) {
	cases := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half_open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range cases {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
