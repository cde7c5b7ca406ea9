package usecase

// GateState is the confidence gate's position in its per-turn state machine.
type GateState string

const (
	StateInitial   GateState = "initial"
	StateRetrying  GateState = "retrying"
	StateAccepted  GateState = "accepted"
	StateExhausted GateState = "exhausted"
)

// GatePolicy bounds the retry loop. RetrySchedule lists the thresholds used
// after the initial one, in order; entries never raise the current threshold
// and never go below Floor.
type GatePolicy struct {
	InitialThreshold float64
	RetrySchedule    []float64
	Floor            float64
	MaxAttempts      int
}

func (p GatePolicy) normalize() GatePolicy {
	out := p
	if out.InitialThreshold <= 0 || out.InitialThreshold > 1 {
		out.InitialThreshold = 0.7
	}
	if out.Floor <= 0 {
		out.Floor = 0.3
	}
	if out.Floor > out.InitialThreshold {
		out.Floor = out.InitialThreshold
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if len(out.RetrySchedule) == 0 {
		out.RetrySchedule = []float64{out.Floor}
	}
	return out
}

// RetryAttempt is the ephemeral record of one retrieval attempt.
type RetryAttempt struct {
	Attempt     int     `json:"attempt"`
	Threshold   float64 `json:"threshold"`
	ResultCount int     `json:"result_count"`
	Degraded    bool    `json:"degraded,omitempty"`
}

// ConfidenceGate decides whether a fused result set is sufficient and, if
// not, whether and at what threshold to retry. One instance per user turn.
type ConfidenceGate struct {
	policy       GatePolicy
	state        GateState
	threshold    float64
	scheduleIdx  int
	degradedUsed bool
	attempts     []RetryAttempt
}

func NewConfidenceGate(policy GatePolicy) *ConfidenceGate {
	p := policy.normalize()
	return &ConfidenceGate{
		policy:    p,
		state:     StateInitial,
		threshold: p.InitialThreshold,
	}
}

func (g *ConfidenceGate) State() GateState { return g.state }

// Active reports whether another retrieval attempt should run.
func (g *ConfidenceGate) Active() bool {
	return g.state == StateInitial || g.state == StateRetrying
}

// Threshold is the confidence threshold for the current attempt.
func (g *ConfidenceGate) Threshold() float64 { return g.threshold }

// AttemptNumber is the 1-based number of the attempt about to run.
func (g *ConfidenceGate) AttemptNumber() int { return len(g.attempts) + 1 }

func (g *ConfidenceGate) Attempts() []RetryAttempt { return g.attempts }

// Observe records the outcome of one attempt and advances the state machine.
// The threshold sequence is monotone non-increasing and the attempt count
// never exceeds MaxAttempts.
func (g *ConfidenceGate) Observe(resultCount int) GateState {
	if !g.Active() {
		return g.state
	}
	g.record(resultCount, false)

	if resultCount > 0 {
		g.state = StateAccepted
		return g.state
	}
	if len(g.attempts) >= g.policy.MaxAttempts {
		g.state = StateExhausted
		return g.state
	}

	next, ok := g.nextThreshold()
	if !ok {
		g.state = StateExhausted
		return g.state
	}
	g.threshold = next
	g.state = StateRetrying
	return g.state
}

// ObserveDegraded records the single vector-only fallback attempt taken when
// both adapters failed. It terminates the turn either way.
func (g *ConfidenceGate) ObserveDegraded(resultCount int) GateState {
	if !g.Active() {
		return g.state
	}
	g.degradedUsed = true
	g.record(resultCount, true)
	if resultCount > 0 {
		g.state = StateAccepted
	} else {
		g.state = StateExhausted
	}
	return g.state
}

// AllowDegraded reports whether the vector-only fallback may still be used.
func (g *ConfidenceGate) AllowDegraded() bool {
	return g.Active() && !g.degradedUsed && len(g.attempts) < g.policy.MaxAttempts
}

// Abandon forces the terminal state, used when the overall query deadline
// elapses mid-loop.
func (g *ConfidenceGate) Abandon() {
	if g.Active() {
		g.state = StateExhausted
	}
}

func (g *ConfidenceGate) record(resultCount int, degraded bool) {
	g.attempts = append(g.attempts, RetryAttempt{
		Attempt:     len(g.attempts) + 1,
		Threshold:   g.threshold,
		ResultCount: resultCount,
		Degraded:    degraded,
	})
}

// nextThreshold walks the schedule, skipping entries that would raise the
// threshold, and stops once the floor has been tried.
func (g *ConfidenceGate) nextThreshold() (float64, bool) {
	if g.threshold <= g.policy.Floor {
		return 0, false
	}
	for g.scheduleIdx < len(g.policy.RetrySchedule) {
		candidate := g.policy.RetrySchedule[g.scheduleIdx]
		g.scheduleIdx++
		if candidate < g.policy.Floor {
			candidate = g.policy.Floor
		}
		if candidate < g.threshold {
			return candidate, true
		}
	}
	// Schedule exhausted above the floor: one last attempt at the floor.
	if g.policy.Floor < g.threshold {
		return g.policy.Floor, true
	}
	return 0, false
}
