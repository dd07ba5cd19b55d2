// Package defense computes the post-entry reversal indicators and the
// Reversal Pressure Index for one open position.
package defense

import (
	"math"

	"bookpoly/internal/rolling"
)

const (
	eps         = rolling.Epsilon
	maxVolRatio = 10.0
)

// ReturnsStd is the population std of simple returns over the samples no
// older than window seconds before the newest one. It needs three points.
func ReturnsStd(prices *rolling.Series[float64], window float64) float64 {
	if prices.Len() < 3 {
		return 0
	}
	recent := prices.Window(window)
	if len(recent) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		prev := recent[i-1].Value
		if prev > eps {
			returns = append(returns, (recent[i].Value-prev)/prev)
		}
	}
	if len(returns) < 2 {
		return 0
	}
	_, std := rolling.MeanStd(returns)
	return std
}

// VolRatio is short over long volatility, capped at 10.
func VolRatio(short, long float64) float64 {
	return math.Min(short/math.Max(long, eps), maxVolRatio)
}

// DeltaVolEntry compares current short vol to the short vol frozen at entry.
func DeltaVolEntry(short, entryShort float64) *float64 {
	if entryShort < eps {
		return nil
	}
	v := short / entryShort
	return &v
}
