// Package exec publishes order intents derived from engine decisions. It never
// talks to an exchange; a downstream executor consumes the intents.
package exec

import (
	"fmt"
	"math"
	"strconv"

	"bookpoly/internal/defense"
	"bookpoly/internal/strategy"
)

type Kind string

const (
	KindEnter Kind = "enter"
	KindHedge Kind = "hedge"
)

// Intent is one buy instruction. Key identifies it across restarts so a
// replayed tick never publishes twice.
type Intent struct {
	Key        string         `json:"key"`
	Kind       Kind           `json:"kind"`
	Instrument string         `json:"instrument"`
	Side       strategy.Side  `json:"side"`
	Shares     int            `json:"shares,omitempty"`
	Price      float64        `json:"price"`
	At         float64        `json:"ts_s"`
	Phase      strategy.Phase `json:"phase,omitempty"`
	Reason     string         `json:"reason"`

	// Entry intents only. RiskReward is omitted when it is not finite.
	PotentialPayout float64  `json:"potential_payout,omitempty"`
	RiskReward      *float64 `json:"risk_reward,omitempty"`
}

func intentKey(instrument string, kind Kind, at float64) string {
	return fmt.Sprintf("%s:%s:%s", instrument, kind, strconv.FormatInt(int64(math.Round(at*1000)), 10))
}

// EnterIntent is keyed by the market window so each window yields at most one
// entry intent.
func EnterIntent(instrument string, windowStart int64, at float64, d strategy.Decision) (Intent, bool) {
	if d.Action != strategy.ActionEnter {
		return Intent{}, false
	}
	in := Intent{
		Key:             fmt.Sprintf("%s:%s:%d", instrument, KindEnter, windowStart),
		Kind:            KindEnter,
		Instrument:      instrument,
		Side:            d.Side,
		Price:           d.EntryPrice,
		At:              at,
		Reason:          d.Reason,
		PotentialPayout: strategy.PotentialPayout(d.EntryPrice),
	}
	if rr := strategy.RiskReward(d.EntryPrice); !math.IsInf(rr, 0) && !math.IsNaN(rr) {
		in.RiskReward = &rr
	}
	return in, true
}

func HedgeIntent(instrument string, at float64, d defense.Decision) (Intent, bool) {
	if !d.ShouldHedge || d.HedgeShares <= 0 {
		return Intent{}, false
	}
	return Intent{
		Key:        intentKey(instrument, KindHedge, at),
		Kind:       KindHedge,
		Instrument: instrument,
		Side:       d.HedgeSide,
		Shares:     d.HedgeShares,
		Price:      d.HedgePrice,
		At:         at,
		Phase:      d.Phase,
		Reason:     d.Reason,
	}, true
}
