package defense

import (
	"bookpoly/internal/rolling"
	"bookpoly/internal/strategy"
)

// Velocity is the mean of the last smoothN instantaneous slopes within
// window seconds of the newest price.
func Velocity(prices *rolling.Series[float64], window float64, smoothN int) float64 {
	if prices.Len() < 2 {
		return 0
	}
	recent := prices.Window(window)
	if len(recent) < 2 {
		return 0
	}
	slopes := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		dt := recent[i].At - recent[i-1].At
		if dt > eps {
			slopes = append(slopes, (recent[i].Value-recent[i-1].Value)/dt)
		}
	}
	if len(slopes) == 0 {
		return 0
	}
	if smoothN > 0 && len(slopes) > smoothN {
		slopes = slopes[len(slopes)-smoothN:]
	}
	var sum float64
	for _, s := range slopes {
		sum += s
	}
	return sum / float64(len(slopes))
}

// Acceleration is the slope between the two newest velocity samples.
func Acceleration(velocities *rolling.Series[float64]) float64 {
	last, ok := velocities.FromEnd(0)
	if !ok {
		return 0
	}
	prev, ok := velocities.FromEnd(1)
	if !ok {
		return 0
	}
	dt := last.At - prev.At
	if dt < eps {
		return 0
	}
	return (last.Value - prev.Value) / dt
}

// DirectionalVelocity is positive when the UP price moves against side.
func DirectionalVelocity(velocity float64, side strategy.Side) float64 {
	if side == strategy.SideDown {
		return velocity
	}
	return -velocity
}
