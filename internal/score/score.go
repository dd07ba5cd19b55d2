// Package score folds microstructure, persistence and volatility features
// into one entry-strength value in [0,1].
package score

import (
	"math"

	"bookpoly/internal/config"
)

// Normalisation ranges.
const (
	imbalanceRange      = 0.5
	edgeRange           = 0.02
	deltaRange          = 0.2
	takerLow, takerHigh = 0.4, 0.6
	persistenceMaxS     = 120.0
	volatilityMax       = 1.0
	spreadPctMax        = 0.03
	impactMax           = 0.02

	neutral           = 0.5
	defaultVolatility = 0.3
	// Unfillable books score as the worst impact.
	missingImpact = 1.0
)

// Inputs are the raw features. Optional features are nil when unavailable.
type Inputs struct {
	Imbalance      float64
	MicropriceEdge float64
	ImbalanceDelta *float64
	TakerRatio     *float64
	PersistenceS   float64
	Volatility     *float64
	SpreadPct      float64
	ImpactBuy      *float64
	ImpactSell     *float64
}

// Factors holds one value per scored feature.
type Factors struct {
	Imbalance      float64 `json:"imbalance"`
	MicropriceEdge float64 `json:"microprice_edge"`
	ImbalanceDelta float64 `json:"imbalance_delta"`
	Momentum       float64 `json:"momentum"`
	Persistence    float64 `json:"persistence"`
	Volatility     float64 `json:"volatility"`
	Spread         float64 `json:"spread"`
	Impact         float64 `json:"impact"`
}

type Result struct {
	Score          float64 `json:"score"`
	Raw            float64 `json:"raw"`
	Interpretation string  `json:"interpretation"`
	Normalized     Factors `json:"normalized"`
	Contributions  Factors `json:"contributions"`
}

type Scorer struct {
	w        config.ScoreConfig
	min, max float64
}

// New builds a scorer whose output range is derived from the sum of the
// negative and positive weights.
func New(w config.ScoreConfig) *Scorer {
	s := &Scorer{w: w}
	for _, v := range []float64{w.Imbalance, w.MicropriceEdge, w.ImbalanceDelta, w.Momentum, w.Persistence, w.Volatility, w.Spread, w.Impact} {
		if v < 0 {
			s.min += v
		} else {
			s.max += v
		}
	}
	return s
}

func (s *Scorer) Compute(in Inputs) Result {
	n := Factors{
		Imbalance:      NormalizeSymmetric(in.Imbalance, imbalanceRange),
		MicropriceEdge: NormalizeSymmetric(in.MicropriceEdge, edgeRange),
		ImbalanceDelta: neutral,
		Momentum:       neutral,
		Persistence:    Normalize(in.PersistenceS, 0, persistenceMaxS),
		Volatility:     Normalize(defaultVolatility, 0, volatilityMax),
		Spread:         Normalize(in.SpreadPct, 0, spreadPctMax),
		Impact:         missingImpact,
	}
	if in.ImbalanceDelta != nil {
		n.ImbalanceDelta = NormalizeSymmetric(*in.ImbalanceDelta, deltaRange)
	}
	if in.TakerRatio != nil {
		n.Momentum = Normalize(*in.TakerRatio, takerLow, takerHigh)
	}
	if in.Volatility != nil {
		n.Volatility = Normalize(*in.Volatility, 0, volatilityMax)
	}
	if in.ImpactBuy != nil && in.ImpactSell != nil {
		avg := (math.Abs(*in.ImpactBuy) + math.Abs(*in.ImpactSell)) / 2
		n.Impact = Normalize(avg, 0, impactMax)
	}
	c := Factors{
		Imbalance:      n.Imbalance * s.w.Imbalance,
		MicropriceEdge: n.MicropriceEdge * s.w.MicropriceEdge,
		ImbalanceDelta: n.ImbalanceDelta * s.w.ImbalanceDelta,
		Momentum:       n.Momentum * s.w.Momentum,
		Persistence:    n.Persistence * s.w.Persistence,
		Volatility:     n.Volatility * s.w.Volatility,
		Spread:         n.Spread * s.w.Spread,
		Impact:         n.Impact * s.w.Impact,
	}
	raw := c.Imbalance + c.MicropriceEdge + c.ImbalanceDelta + c.Momentum +
		c.Persistence + c.Volatility + c.Spread + c.Impact
	final := Normalize(raw, s.min, s.max)
	return Result{
		Score:          final,
		Raw:            raw,
		Interpretation: Interpret(final),
		Normalized:     n,
		Contributions:  c,
	}
}

// Normalize maps v from [lo,hi] onto [0,1] with clamping. A degenerate range
// yields 0.5.
func Normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return neutral
	}
	return clamp01((v - lo) / (hi - lo))
}

// NormalizeSymmetric maps v from [-m,m] onto [0,1] centred at 0.5.
func NormalizeSymmetric(v, m float64) float64 {
	if m == 0 {
		return neutral
	}
	return clamp01((v + m) / (2 * m))
}

func Interpret(score float64) string {
	switch {
	case score >= 0.8:
		return "very_strong"
	case score >= 0.65:
		return "strong"
	case score >= 0.5:
		return "moderate"
	case score >= 0.35:
		return "weak"
	default:
		return "very_weak"
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
