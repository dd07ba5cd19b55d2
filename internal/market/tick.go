package market

// VolSnapshot is the optional external volatility/sentiment feed.
type VolSnapshot struct {
	RealizedVol *float64 `json:"realized_vol,omitempty"`
	TakerRatio  *float64 `json:"taker_ratio,omitempty"`
	Regime      string   `json:"regime,omitempty"`
}

// Tick is one market-data update for one instrument. Mid is the probability
// of the UP outcome and Book is the UP outcome's order book.
type Tick struct {
	Instrument      string       `json:"instrument"`
	TimeMS          int64        `json:"ts_ms"`
	WindowStart     int64        `json:"window_start"`
	Mid             float64      `json:"mid"`
	SecondsToExpiry int          `json:"seconds_to_expiry"`
	Book            *Book        `json:"book,omitempty"`
	Vol             *VolSnapshot `json:"vol,omitempty"`
	LatencyMS       float64      `json:"latency_ms"`
	// OppositeBestAsk is the DOWN outcome's best ask when the feed carries it.
	OppositeBestAsk *float64 `json:"down_best_ask,omitempty"`
}

// Seconds returns the tick time as fractional unix seconds.
func (t Tick) Seconds() float64 {
	return float64(t.TimeMS) / 1000
}

// ElapsedInWindow is the number of seconds since the market window opened.
func (t Tick) ElapsedInWindow() float64 {
	return t.Seconds() - float64(t.WindowStart)
}

func (t Tick) Regime() string {
	if t.Vol == nil {
		return ""
	}
	return t.Vol.Regime
}

func (t Tick) RealizedVol() *float64 {
	if t.Vol == nil {
		return nil
	}
	return t.Vol.RealizedVol
}

func (t Tick) TakerRatio() *float64 {
	if t.Vol == nil {
		return nil
	}
	return t.Vol.TakerRatio
}
