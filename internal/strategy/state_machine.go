package strategy

import (
	"fmt"
	"sync"

	"bookpoly/internal/config"
)

// DefenseTracker is the per-position state of the defense machine.
type DefenseTracker struct {
	Phase             Phase    `json:"phase"`
	PhaseEnteredAt    float64  `json:"phase_entered_at"`
	AlertTicks        int      `json:"alert_ticks"`
	SeverityZeroSince *float64 `json:"severity_zero_since,omitempty"`
	TotalHedgeShares  int      `json:"total_hedge_shares"`
	LastHedgeAt       float64  `json:"last_hedge_at"`
	HedgeSide         Side     `json:"hedge_side,omitempty"`

	// PendingHedgeShares were requested but not yet reported filled.
	PendingHedgeShares int     `json:"pending_hedge_shares"`
	PendingSince       float64 `json:"pending_since,omitempty"`
}

// TransitionInput is what the machine observes on one tick.
type TransitionInput struct {
	At            float64
	Severity      float64
	AdverseMove   *float64
	AllowReversal bool
	TimeLeftS     float64
}

type Transition struct {
	From   Phase  `json:"from"`
	To     Phase  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

func (t Transition) Changed() bool { return t.From != t.To }

// allowedEdges is the complete transition table.
var allowedEdges = map[Phase][]Phase{
	PhaseNormal:  {PhaseAlert},
	PhaseAlert:   {PhaseDefense, PhaseNormal},
	PhaseDefense: {PhasePanic, PhaseNormal},
	PhasePanic:   {PhaseExit, PhaseDefense},
	PhaseExit:    nil,
}

// AllowedTransition reports whether from->to is an edge of the machine.
// Staying in place is always allowed.
func AllowedTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, p := range allowedEdges[from] {
		if p == to {
			return true
		}
	}
	return false
}

type DefenseMachine struct {
	cfg config.DefenseConfig

	mu      sync.Mutex
	tracker DefenseTracker
}

func NewDefenseMachine(cfg config.DefenseConfig) *DefenseMachine {
	return &DefenseMachine{cfg: cfg, tracker: DefenseTracker{Phase: PhaseNormal}}
}

// Step feeds one tick into the machine and returns the resulting transition.
func (m *DefenseMachine) Step(in TransitionInput) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &m.tracker

	if in.Severity > 0 {
		t.SeverityZeroSince = nil
	} else if t.SeverityZeroSince == nil {
		at := in.At
		t.SeverityZeroSince = &at
	}
	if t.Phase == PhaseAlert {
		if in.Severity > 0 {
			t.AlertTicks++
		} else {
			t.AlertTicks = 0
		}
	}

	obs := observation{
		severity:      in.Severity,
		alertTicks:    t.AlertTicks,
		adverse:       0,
		allowReversal: in.AllowReversal,
		timeLeftS:     in.TimeLeftS,
	}
	if in.AdverseMove != nil {
		obs.adverse = *in.AdverseMove
	}
	if t.SeverityZeroSince != nil {
		obs.zeroForS = in.At - *t.SeverityZeroSince
	}

	from := t.Phase
	to, reason := nextPhase(m.cfg, from, obs)
	if !AllowedTransition(from, to) {
		panic(fmt.Sprintf("strategy: illegal defense transition %s -> %s", from, to))
	}
	if to != from {
		t.Phase = to
		t.PhaseEnteredAt = in.At
		switch to {
		case PhaseAlert:
			t.AlertTicks = 1
		case PhaseNormal:
			t.AlertTicks = 0
		}
	}
	return Transition{From: from, To: to, Reason: reason}
}

type observation struct {
	severity      float64
	alertTicks    int
	zeroForS      float64
	adverse       float64
	allowReversal bool
	timeLeftS     float64
}

func nextPhase(cfg config.DefenseConfig, current Phase, o observation) (Phase, string) {
	switch current {
	case PhaseNormal:
		if o.severity > 0 {
			return PhaseAlert, fmt.Sprintf("severity=%.4f", o.severity)
		}
	case PhaseAlert:
		if o.alertTicks >= cfg.AlertConfirmTicks && o.allowReversal {
			return PhaseDefense, fmt.Sprintf("confirmed_%dticks sev=%.4f", o.alertTicks, o.severity)
		}
		if o.severity == 0 && o.zeroForS >= cfg.AlertCooldownS {
			return PhaseNormal, fmt.Sprintf("alert_cooldown_%.0fs", o.zeroForS)
		}
	case PhaseDefense:
		if o.severity >= cfg.PanicThreshold && o.adverse >= cfg.PanicAdverseMin {
			return PhasePanic, fmt.Sprintf("sev=%.4f>=panic(%.2f) adverse=%.4f", o.severity, cfg.PanicThreshold, o.adverse)
		}
		if o.severity == 0 && o.zeroForS >= cfg.DefenseExitS {
			return PhaseNormal, fmt.Sprintf("defense_exit_%.0fs", o.zeroForS)
		}
	case PhasePanic:
		if !o.allowReversal || o.timeLeftS < cfg.ExitTimeFloorS {
			return PhaseExit, fmt.Sprintf("no_time t_left=%.0fs allow_rev=%t", o.timeLeftS, o.allowReversal)
		}
		if o.severity < cfg.PanicThreshold {
			return PhaseDefense, fmt.Sprintf("panic_deescalate sev=%.4f", o.severity)
		}
	case PhaseExit:
	default:
		panic(fmt.Sprintf("strategy: unknown defense phase %q", string(current)))
	}
	return current, ""
}

func (m *DefenseMachine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.Phase
}

// Tracker returns a copy of the current tracker.
func (m *DefenseMachine) Tracker() DefenseTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tracker
	if t.SeverityZeroSince != nil {
		v := *t.SeverityZeroSince
		t.SeverityZeroSince = &v
	}
	return t
}

// HedgeCooldownActive reports whether a hedge was requested or filled less
// than cooldownS seconds before at.
func (m *DefenseMachine) HedgeCooldownActive(at, cooldownS float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.LastHedgeAt > 0 && at-m.tracker.LastHedgeAt < cooldownS
}

func (m *DefenseMachine) HedgedShares() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.TotalHedgeShares
}

// CommittedShares is filled plus pending hedge shares. New hedges are sized
// against it.
func (m *DefenseMachine) CommittedShares() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.TotalHedgeShares + m.tracker.PendingHedgeShares
}

// ReserveHedge books shares that were just requested. The cooldown starts at
// the request.
func (m *DefenseMachine) ReserveHedge(shares int, at float64, side Side) {
	if shares <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &m.tracker
	if t.PendingHedgeShares == 0 {
		t.PendingSince = at
	}
	t.PendingHedgeShares += shares
	t.LastHedgeAt = at
	t.HedgeSide = side
}

// ReleasePendingHedge drops the whole reservation and returns its size.
func (m *DefenseMachine) ReleasePendingHedge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.tracker.PendingHedgeShares
	m.tracker.PendingHedgeShares = 0
	m.tracker.PendingSince = 0
	return n
}

// ExpirePendingHedge releases a reservation older than timeoutS. A zero
// timeout keeps reservations until they fill.
func (m *DefenseMachine) ExpirePendingHedge(at, timeoutS float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &m.tracker
	if t.PendingHedgeShares == 0 || timeoutS <= 0 || at-t.PendingSince < timeoutS {
		return 0
	}
	n := t.PendingHedgeShares
	t.PendingHedgeShares = 0
	t.PendingSince = 0
	return n
}

// RecordHedgeFill books shares filled by the execution collaborator and
// consumes the matching part of the reservation.
func (m *DefenseMachine) RecordHedgeFill(shares int, at float64) {
	if shares <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &m.tracker
	t.TotalHedgeShares += shares
	t.LastHedgeAt = at
	t.PendingHedgeShares -= min(shares, t.PendingHedgeShares)
	if t.PendingHedgeShares == 0 {
		t.PendingSince = 0
	}
}

// Reset starts a new cycle in NORMAL with every counter cleared.
func (m *DefenseMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker = DefenseTracker{Phase: PhaseNormal}
}

// Restore re-applies hedge bookkeeping after a restart. The phase restarts
// in NORMAL and no reservation survives.
func (m *DefenseMachine) Restore(totalHedged int, lastHedgeAt float64, hedgeSide Side) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker = DefenseTracker{
		Phase:            PhaseNormal,
		TotalHedgeShares: totalHedged,
		LastHedgeAt:      lastHedgeAt,
		HedgeSide:        hedgeSide,
	}
}
