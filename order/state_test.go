package order

import (
	"errors"
	"testing"
	"time"
)

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusFailed, true},
		{StatusActive, StatusFilled, true},
		{StatusActive, StatusCancelled, true},
		{StatusPending, StatusFilled, false},
		{StatusActive, StatusFailed, false},
		{StatusFilled, StatusCancelled, false},
		{StatusCancelled, StatusFilled, false},
		{StatusFailed, StatusActive, false},
	}
	for _, tt := range tests {
		err := sm.ValidateTransition(tt.from, tt.to)
		if tt.ok && err != nil {
			t.Fatalf("%s -> %s should be legal: %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s -> %s should be illegal, got %v", tt.from, tt.to, err)
		}
	}
}

func TestFinalStates(t *testing.T) {
	sm := NewStateMachine()
	for _, s := range []Status{StatusFilled, StatusCancelled, StatusFailed} {
		if !sm.IsFinalState(s) {
			t.Fatalf("%s should be final", s)
		}
	}
	if sm.IsFinalState(StatusActive) || sm.IsFinalState(StatusPending) {
		t.Fatalf("active/pending are not final")
	}
	if !sm.CanCancel(StatusActive) || sm.CanCancel(StatusFilled) {
		t.Fatalf("unexpected CanCancel result")
	}
}

func TestParseSide(t *testing.T) {
	if s, ok := ParseSide(" buy "); !ok || s != SideBuy {
		t.Fatalf("expected BUY, got %q %v", s, ok)
	}
	if s, ok := ParseSide("SELL"); !ok || s.Opposite() != SideBuy {
		t.Fatalf("expected SELL, got %q %v", s, ok)
	}
	if _, ok := ParseSide("HOLD"); ok {
		t.Fatalf("HOLD must not parse")
	}
}

func TestSubmissionNotionalAndAge(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	s := NewSubmission("id", "r1", Quote{Token: "T1", Price: 0.5, Side: SideSell, Size: 20}, t0)
	if s.Status != StatusPending {
		t.Fatalf("new submission should be pending, got %s", s.Status)
	}
	if s.Notional() != 10 {
		t.Fatalf("expected notional 10, got %v", s.Notional())
	}
	if s.Age(t0.Add(301*time.Second)) != 301*time.Second {
		t.Fatalf("unexpected age")
	}
}
