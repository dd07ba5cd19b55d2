package strategy

import (
	"fmt"
	"math"
	"slices"

	"bookpoly/internal/config"
)

// ReversalSignal comes from an external reversal detector. Direction is the
// side the market is expected to move toward; empty means no direction.
type ReversalSignal struct {
	Score     float64 `json:"score"`
	Direction Side    `json:"direction,omitempty"`
}

type EntryInput struct {
	ProbUp     float64
	RemainingS float64
	Gates      GateResult
	Score      float64
	Regime     string
	Reversal   *ReversalSignal
}

// Decision is the pre-position output for one tick.
type Decision struct {
	Action     Action     `json:"action"`
	Side       Side       `json:"side,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
	Reason     string     `json:"reason"`
	Zone       Zone       `json:"zone"`
	Score      float64    `json:"score"`
	EntryPrice float64    `json:"entry_price,omitempty"`
}

type EntryEngine struct {
	cfg   config.EntryConfig
	zones config.ZoneConfig
}

func NewEntryEngine(entry config.EntryConfig, zones config.ZoneConfig) *EntryEngine {
	return &EntryEngine{cfg: entry, zones: zones}
}

// FavoriteSide is UP when its probability is at least one half.
func FavoriteSide(probUp float64) Side {
	if probUp >= 0.5 {
		return SideUp
	}
	return SideDown
}

func (e *EntryEngine) Decide(in EntryInput) Decision {
	side := FavoriteSide(in.ProbUp)
	favProb := side.HeldPrice(in.ProbUp)
	zone := ClassifyZone(e.zones, in.ProbUp)
	noEnter := func(reason string) Decision {
		return Decision{Action: ActionNoEnter, Reason: reason, Zone: zone, Score: in.Score}
	}

	if r := in.Reversal; r != nil && r.Score > e.cfg.ReversalBlock && r.Direction.Valid() && r.Direction != side {
		return noEnter(fmt.Sprintf("reversal_blocked:score=%.2f_direction=%s_side=%s", r.Score, r.Direction, side))
	}

	zoneBlocked := slices.Contains(e.cfg.BlockedZones, string(zone))
	regimeBlocked := in.Regime != "" && slices.Contains(e.cfg.BlockedRegimes, in.Regime)

	if !e.cfg.ForcedDisabled &&
		favProb >= e.cfg.ForcedMinProb &&
		in.RemainingS <= e.cfg.ForcedMaxRemaining &&
		in.RemainingS >= e.cfg.ForcedMinRemaining &&
		in.Gates.Passed &&
		!zoneBlocked &&
		!regimeBlocked &&
		in.Score >= e.cfg.ForcedMinScore {
		return Decision{
			Action:     ActionEnter,
			Side:       side,
			Confidence: ConfidenceHigh,
			Reason:     fmt.Sprintf("forced_entry:prob=%.0f%%_remaining=%.0fs_side=%s", favProb*100, in.RemainingS, side),
			Zone:       zone,
			Score:      in.Score,
			EntryPrice: EntryPrice(in.ProbUp, side),
		}
	}

	switch {
	case !in.Gates.Passed:
		failed := in.Gates.Failed
		if failed == "" {
			failed = "unknown"
		}
		return noEnter("gates_failed:" + failed)
	case zoneBlocked:
		return noEnter("zone_blocked:" + string(zone))
	case regimeBlocked:
		return noEnter("regime_blocked:" + in.Regime)
	}
	return noEnter(fmt.Sprintf("only_forced_entry_allowed:prob=%.0f%%_remaining=%.0fs", favProb*100, in.RemainingS))
}

// EntryPrice is the cost of one share of side.
func EntryPrice(probUp float64, side Side) float64 {
	return side.HeldPrice(probUp)
}

// PotentialPayout is the profit per share if side settles in the money.
func PotentialPayout(entryPrice float64) float64 {
	return 1 - entryPrice
}

func RiskReward(entryPrice float64) float64 {
	if entryPrice == 0 {
		return math.Inf(1)
	}
	return (1 - entryPrice) / entryPrice
}
