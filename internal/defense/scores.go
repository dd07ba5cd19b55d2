package defense

import (
	"math"

	"bookpoly/internal/config"
	"bookpoly/internal/market"
	"bookpoly/internal/rolling"
)

const (
	rpiMinSamples       = 5
	strongDirVelocity   = 0.001
	maxDirVelocityScore = 3.0
)

// RegimeShiftScore summarises how far volatility has moved away from its
// usual level, in [0, 1].
func RegimeShiftScore(volRatio, zVol float64, deltaVolEntry *float64) float64 {
	var ratioScore, zScore, deltaScore float64
	if volRatio > 1 {
		ratioScore = rolling.Clamp01((volRatio - 1) / 3)
	}
	if zVol > 0 {
		zScore = rolling.Clamp01(zVol / 4)
	}
	if deltaVolEntry != nil && *deltaVolEntry > 1 {
		deltaScore = rolling.Clamp01((*deltaVolEntry - 1) / 3)
	}
	return market.Round(rolling.Clamp01(0.30*ratioScore+0.45*zScore+0.25*deltaScore), 4)
}

// ReversalScore blends regime, direction and book, less a penalty for a
// wide spread. It is diagnostic and never drives a transition.
func ReversalScore(regimeShift, zVelocity, zImbalance float64, confirmed bool, spread, maxSpread float64) float64 {
	var velScore, imbScore, bonus float64
	if zVelocity > 0 {
		velScore = rolling.Clamp01(zVelocity / 4)
	}
	if zImbalance > 0 {
		imbScore = rolling.Clamp01(zImbalance / 4)
	}
	if confirmed {
		bonus = 0.15
	}
	raw := 0.35*regimeShift + 0.30*velScore + 0.20*imbScore + bonus
	if maxSpread > eps && spread > 0 {
		raw = math.Max(0, raw-rolling.Clamp01(spread/maxSpread)*0.15)
	}
	return market.Round(rolling.Clamp01(raw), 4)
}

// Pressures are the three RPI pillars. Only components pushing against the
// position contribute.
type Pressures struct {
	Vol  float64 `json:"vol"`
	Dir  float64 `json:"dir"`
	Book float64 `json:"book"`
}

type PressureInput struct {
	VolRatio            float64
	ZVol                float64
	DeltaVolEntry       *float64
	ZVelocity           float64
	DirectionalVelocity *float64
	ZImbalance          float64
	BookConfirmed       bool
	LiquidityVacuum     bool
}

func ComputePressures(in PressureInput) Pressures {
	var p Pressures
	if in.VolRatio > 1 {
		p.Vol += in.VolRatio - 1
	}
	if in.ZVol > 0 {
		p.Vol += 0.5 * in.ZVol
	}
	if d := in.DeltaVolEntry; d != nil && *d > 1 {
		p.Vol += 0.5 * (*d - 1)
	}

	if in.ZVelocity > 0 {
		p.Dir += 0.7 * in.ZVelocity
	}
	if dv := in.DirectionalVelocity; dv != nil && *dv > 0 {
		p.Dir += math.Min(*dv/strongDirVelocity, maxDirVelocityScore)
	}

	if in.ZImbalance > 0 {
		p.Book += 0.5 * in.ZImbalance
	}
	if in.BookConfirmed {
		p.Book += 1.0
	}
	if in.LiquidityVacuum {
		p.Book += 1.5
	}
	return p
}

// RPI is the weighted sum of the pillars, never negative.
func RPI(p Pressures, w config.RPIWeights) float64 {
	return market.Round(math.Max(0, w.Vol*p.Vol+w.Dir*p.Dir+w.Book*p.Book), 4)
}

// RPIThreshold is mean + k*std of the RPI history within window seconds,
// floored at minThreshold. Fewer than five samples yield the floor.
func RPIThreshold(history *rolling.Series[float64], window, k, minThreshold float64) float64 {
	if history.Len() < rpiMinSamples {
		return minThreshold
	}
	recent := rolling.Values(history.Window(window))
	if len(recent) < rpiMinSamples {
		return minThreshold
	}
	mean, std := rolling.MeanStd(recent)
	return math.Max(minThreshold, market.Round(mean+k*std, 4))
}

// Severity is the fraction by which rpi exceeds threshold, clamped to [0, 1].
func Severity(rpi, threshold float64) float64 {
	if threshold < eps || rpi <= threshold {
		return 0
	}
	return market.Round(rolling.Clamp01((rpi-threshold)/threshold), 4)
}
