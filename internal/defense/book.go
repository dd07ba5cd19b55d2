package defense

import (
	"bookpoly/internal/market"
	"bookpoly/internal/rolling"
	"bookpoly/internal/strategy"
)

// BookConfirmed reports whether every imbalance sample within persistS of
// the newest one leans against side.
func BookConfirmed(imbalances *rolling.Series[float64], side strategy.Side, persistS float64) bool {
	if imbalances.Len() < 2 {
		return false
	}
	recent := imbalances.Window(persistS)
	if len(recent) == 0 {
		return false
	}
	for _, smp := range recent {
		if side == strategy.SideDown {
			if smp.Value <= 0 {
				return false
			}
		} else if smp.Value >= 0 {
			return false
		}
	}
	return true
}

// protectiveDepth is the side of the UP book that supports a position:
// bids for UP, asks for DOWN.
func protectiveDepth(s market.BookSnapshot, side strategy.Side) float64 {
	if side == strategy.SideDown {
		return s.AskQty
	}
	return s.BidQty
}

// DepthShift is the relative change of protective depth between the oldest
// and newest book within window seconds.
func DepthShift(books *rolling.Series[market.BookSnapshot], side strategy.Side, window float64) float64 {
	if books.Len() < 2 {
		return 0
	}
	recent := books.Window(window)
	if len(recent) < 2 {
		return 0
	}
	before := protectiveDepth(recent[0].Value, side)
	after := protectiveDepth(recent[len(recent)-1].Value, side)
	if before < eps {
		return 0
	}
	return (after - before) / before
}

// LiquidityVacuum reports a protective depth drop larger than thresholdPct.
func LiquidityVacuum(books *rolling.Series[market.BookSnapshot], side strategy.Side, thresholdPct, window float64) bool {
	return DepthShift(books, side, window) < -thresholdPct
}

// DirectionalImbalanceZ turns the raw imbalance z-score into one where
// positive means pressure against side.
func DirectionalImbalanceZ(raw float64, side strategy.Side) float64 {
	if side == strategy.SideDown {
		return raw
	}
	return -raw
}
