package defense

// TimePhase buckets the time left to expiry.
type TimePhase string

const (
	TimeEarly TimePhase = "early"
	TimeMid   TimePhase = "mid"
	TimeLate  TimePhase = "late"
)

func ClassifyTime(timeLeftS, earlyS, lateS float64) TimePhase {
	switch {
	case timeLeftS > earlyS:
		return TimeEarly
	case timeLeftS < lateS:
		return TimeLate
	default:
		return TimeMid
	}
}

// AllowReversal reports whether enough time remains to place and fill a hedge.
func AllowReversal(timeLeftS, minS float64) bool {
	return timeLeftS >= minS
}

// TimePressure grows linearly from 0 at the window length to 1 at expiry.
func TimePressure(timeLeftS, windowS float64) float64 {
	switch {
	case timeLeftS >= windowS:
		return 0
	case timeLeftS <= 0:
		return 1
	default:
		return 1 - timeLeftS/windowS
	}
}
