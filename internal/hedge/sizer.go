// Package hedge sizes and prices the protective buy of the opposite outcome.
package hedge

import (
	"bookpoly/internal/config"
	"bookpoly/internal/strategy"

	"github.com/shopspring/decimal"
)

type Sizer struct {
	cfg config.HedgeConfig
}

func New(cfg config.HedgeConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// TargetFraction is the share of the position that should be hedged in
// phase. Non-hedging phases return zero.
func (s *Sizer) TargetFraction(phase strategy.Phase, severity float64) float64 {
	f, _ := s.fraction(phase, severity).Float64()
	return f
}

func (s *Sizer) fraction(phase strategy.Phase, severity float64) decimal.Decimal {
	lo := decimal.NewFromFloat(s.cfg.MinHedge)
	hi := decimal.NewFromFloat(s.cfg.MaxHedge)
	switch phase {
	case strategy.PhasePanic:
		return hi
	case strategy.PhaseDefense:
		f := lo.Add(hi.Sub(lo).Mul(decimal.NewFromFloat(severity)))
		if f.LessThan(lo) {
			return lo
		}
		if f.GreaterThan(hi) {
			return hi
		}
		return f
	default:
		return decimal.Zero
	}
}

// Shares returns how many more shares to hedge given what is already hedged.
// The cumulative total never exceeds ceil(shares * max_hedge).
func (s *Sizer) Shares(phase strategy.Phase, severity float64, shares, hedged int) int {
	if !phase.Hedging() || shares <= 0 {
		return 0
	}
	target := decimal.NewFromInt(int64(shares)).Mul(s.fraction(phase, severity)).Ceil().IntPart()
	remaining := int(target) - hedged
	if remaining < s.cfg.MinShares {
		return 0
	}
	return remaining
}

// Price is the limit price for the hedge: the opposite best ask, plus the
// panic markup in PANIC, rounded to the cent and clamped to the tradable range.
func (s *Sizer) Price(phase strategy.Phase, bestAsk float64) float64 {
	p := decimal.NewFromFloat(bestAsk)
	if phase == strategy.PhasePanic {
		p = p.Add(decimal.NewFromFloat(s.cfg.PanicMarkup))
	}
	p = p.Round(2)
	if lo := decimal.NewFromFloat(s.cfg.MinPrice); p.LessThan(lo) {
		p = lo
	}
	if hi := decimal.NewFromFloat(s.cfg.MaxPrice); p.GreaterThan(hi) {
		p = hi
	}
	out, _ := p.Float64()
	return out
}
