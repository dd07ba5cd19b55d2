package strategy

import "fmt"

// Side is the binary outcome a position holds.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

func (s Side) Opposite() Side {
	switch s {
	case SideUp:
		return SideDown
	case SideDown:
		return SideUp
	}
	panic(fmt.Sprintf("strategy: unknown side %q", string(s)))
}

func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}

// HeldPrice converts the UP probability into the price of the outcome s.
func (s Side) HeldPrice(probUp float64) float64 {
	if s == SideDown {
		return 1 - probUp
	}
	return probUp
}

// Phase is a state of the post-entry defense machine.
type Phase string

const (
	PhaseNormal  Phase = "NORMAL"
	PhaseAlert   Phase = "ALERT"
	PhaseDefense Phase = "DEFENSE"
	PhasePanic   Phase = "PANIC"
	PhaseExit    Phase = "EXIT"
)

// Phases lists every phase in escalation order.
var Phases = []Phase{PhaseNormal, PhaseAlert, PhaseDefense, PhasePanic, PhaseExit}

func (p Phase) Hedging() bool {
	return p == PhaseDefense || p == PhasePanic
}

type Action string

const (
	ActionEnter   Action = "ENTER"
	ActionNoEnter Action = "NO_ENTER"
)

type Confidence string

const (
	ConfidenceHigh Confidence = "HIGH"
	ConfidenceNone Confidence = ""
)

// Zone buckets the underdog probability.
type Zone string

const (
	ZoneDanger  Zone = "danger"
	ZoneCaution Zone = "caution"
	ZoneSafe    Zone = "safe"
	ZoneNeutral Zone = "neutral"
)
