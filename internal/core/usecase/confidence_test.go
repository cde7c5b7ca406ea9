package usecase

import "testing"

func TestGateAcceptsOnFirstAttempt(t *testing.T) {
	gate := NewConfidenceGate(GatePolicy{InitialThreshold: 0.7, Floor: 0.3, MaxAttempts: 3})

	if !gate.Active() {
		t.Fatalf("new gate should be active")
	}
	if gate.Threshold() != 0.7 {
		t.Fatalf("expected initial threshold 0.7, got %v", gate.Threshold())
	}
	if got := gate.Observe(5); got != StateAccepted {
		t.Fatalf("expected accepted, got %q", got)
	}
	if gate.Active() {
		t.Fatalf("accepted gate should be inactive")
	}
	if len(gate.Attempts()) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(gate.Attempts()))
	}
}

func TestGateDefaultScheduleDropsToFloorThenExhausts(t *testing.T) {
	gate := NewConfidenceGate(GatePolicy{InitialThreshold: 0.7, Floor: 0.3, MaxAttempts: 3})

	if got := gate.Observe(0); got != StateRetrying {
		t.Fatalf("expected retrying after empty first attempt, got %q", got)
	}
	if gate.Threshold() != 0.3 {
		t.Fatalf("expected retry at floor 0.3, got %v", gate.Threshold())
	}
	if got := gate.Observe(0); got != StateExhausted {
		t.Fatalf("expected exhausted after empty floor attempt, got %q", got)
	}
	if len(gate.Attempts()) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(gate.Attempts()))
	}
}

func TestGateCustomScheduleIsMonotoneNonIncreasing(t *testing.T) {
	// 0.8 would raise the threshold: it must be skipped.
	gate := NewConfidenceGate(GatePolicy{
		InitialThreshold: 0.7,
		RetrySchedule:    []float64{0.8, 0.5, 0.1},
		Floor:            0.3,
		MaxAttempts:      5,
	})

	gate.Observe(0)
	if gate.Threshold() != 0.5 {
		t.Fatalf("expected threshold 0.5, got %v", gate.Threshold())
	}
	gate.Observe(0)
	// 0.1 is below the floor: clamped to 0.3.
	if gate.Threshold() != 0.3 {
		t.Fatalf("expected floor clamp to 0.3, got %v", gate.Threshold())
	}
	if got := gate.Observe(0); got != StateExhausted {
		t.Fatalf("expected exhausted at floor, got %q", got)
	}
}

func TestGateRespectsMaxAttempts(t *testing.T) {
	gate := NewConfidenceGate(GatePolicy{
		InitialThreshold: 0.9,
		RetrySchedule:    []float64{0.8, 0.7, 0.6, 0.5},
		Floor:            0.1,
		MaxAttempts:      2,
	})

	gate.Observe(0)
	if got := gate.Observe(0); got != StateExhausted {
		t.Fatalf("expected exhausted at max attempts, got %q", got)
	}
	if len(gate.Attempts()) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", len(gate.Attempts()))
	}
}

func TestGateScheduleExhaustedAboveFloorTriesFloorOnce(t *testing.T) {
	gate := NewConfidenceGate(GatePolicy{
		InitialThreshold: 0.7,
		RetrySchedule:    []float64{0.5},
		Floor:            0.3,
		MaxAttempts:      5,
	})

	gate.Observe(0)
	if gate.Threshold() != 0.5 {
		t.Fatalf("expected 0.5, got %v", gate.Threshold())
	}
	gate.Observe(0)
	if gate.Threshold() != 0.3 {
		t.Fatalf("expected final floor attempt at 0.3, got %v", gate.Threshold())
	}
	if got := gate.Observe(0); got != StateExhausted {
		t.Fatalf("expected exhausted, got %q", got)
	}
}

func TestGateDegradedFallback(t *testing.T) {
	gate := NewConfidenceGate(GatePolicy{InitialThreshold: 0.7, Floor: 0.3, MaxAttempts: 3})

	if !gate.AllowDegraded() {
		t.Fatalf("fresh gate should allow the degraded path")
	}
	if got := gate.ObserveDegraded(2); got != StateAccepted {
		t.Fatalf("expected accepted degraded result, got %q", got)
	}
	if gate.AllowDegraded() {
		t.Fatalf("degraded path must be single-use")
	}
	attempts := gate.Attempts()
	if len(attempts) != 1 || !attempts[0].Degraded {
		t.Fatalf("expected one degraded attempt, got %+v", attempts)
	}
}

func TestGateDegradedEmptyResultExhausts(t *testing.T) {
	gate := NewConfidenceGate(GatePolicy{InitialThreshold: 0.7, Floor: 0.3, MaxAttempts: 3})

	if got := gate.ObserveDegraded(0); got != StateExhausted {
		t.Fatalf("expected exhausted, got %q", got)
	}
}

func TestGateAbandon(t *testing.T) {
	gate := NewConfidenceGate(GatePolicy{InitialThreshold: 0.7, Floor: 0.3, MaxAttempts: 3})

	gate.Abandon()
	if gate.State() != StateExhausted {
		t.Fatalf("expected exhausted after abandon, got %q", gate.State())
	}
	if gate.Observe(5) != StateExhausted {
		t.Fatalf("terminal gate must ignore further observations")
	}
}

func TestGatePolicyNormalizeDefaults(t *testing.T) {
	gate := NewConfidenceGate(GatePolicy{})
	if gate.Threshold() != 0.7 {
		t.Fatalf("expected default threshold 0.7, got %v", gate.Threshold())
	}

	// Floor above the initial threshold is pulled down to it.
	clamped := NewConfidenceGate(GatePolicy{InitialThreshold: 0.5, Floor: 0.9})
	if clamped.policy.Floor != 0.5 {
		t.Fatalf("expected floor clamped to 0.5, got %v", clamped.policy.Floor)
	}
}
