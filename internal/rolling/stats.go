package rolling

import "math"

const Epsilon = 1e-12

// Stats summarises a window of samples. Z compares the latest value to the
// window and is 0 when fewer than two samples exist or the window is flat.
type Stats struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
	Z     float64 `json:"z"`
}

// Describe computes population statistics over values with current as the
// value being scored.
func Describe(values []float64, current float64) Stats {
	if len(values) < 2 {
		return Stats{Mean: current, Min: current, Max: current, Count: len(values)}
	}
	mean, std := MeanStd(values)
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	z := 0.0
	if std > 0 {
		z = (current - mean) / std
	}
	return Stats{Mean: mean, Std: std, Min: lo, Max: hi, Count: len(values), Z: z}
}

// MeanStd returns the mean and population standard deviation.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// ZScore scores value against window. It returns 0 when the window holds
// fewer than minCount samples (never fewer than two) or its std is below
// Epsilon.
func ZScore(value float64, window []float64, minCount int) float64 {
	if minCount < 2 {
		minCount = 2
	}
	if len(window) < minCount {
		return 0
	}
	mean, std := MeanStd(window)
	if std < Epsilon {
		return 0
	}
	return (value - mean) / std
}

// WindowZ scores value against the last window seconds of s.
func WindowZ(value float64, s *Series[float64], window float64, minCount int) float64 {
	if s.Len() < minCount {
		return 0
	}
	return ZScore(value, Values(s.Window(window)), minCount)
}

func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
