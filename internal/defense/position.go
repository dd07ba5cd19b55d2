package defense

import (
	"math"

	"bookpoly/internal/strategy"
)

// Regime is the volatility picture frozen at the moment of the fill.
type Regime struct {
	VolShort float64 `json:"vol_short" msgpack:"vol_short"`
	VolLong  float64 `json:"vol_long" msgpack:"vol_long"`
	ZVol     float64 `json:"z_vol" msgpack:"z_vol"`
}

// PositionMeta describes the open position. EntryPrice is the price paid
// for the held outcome, not the UP probability.
type PositionMeta struct {
	Instrument string        `json:"instrument" msgpack:"instrument"`
	Side       strategy.Side `json:"side" msgpack:"side"`
	EntryPrice float64       `json:"entry_price" msgpack:"entry_price"`
	EntryAt    float64       `json:"entry_at" msgpack:"entry_at"`
	Shares     int           `json:"shares" msgpack:"shares"`
	Regime     Regime        `json:"regime" msgpack:"regime"`
}

// AdverseMove is positive when the held outcome trades below the entry.
func AdverseMove(probUp, entry float64, side strategy.Side) float64 {
	return entry - side.HeldPrice(probUp)
}

func DistanceFromEntry(probUp, entry float64, side strategy.Side) float64 {
	return math.Abs(side.HeldPrice(probUp) - entry)
}

// ZAdverse normalises the adverse move by short volatility.
func ZAdverse(adverse, volShort float64) *float64 {
	if volShort < eps {
		return nil
	}
	v := adverse / volShort
	return &v
}
