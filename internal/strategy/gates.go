package strategy

import "bookpoly/internal/config"

// Gate failure reasons, in priority order.
const (
	ReasonTimeGate      = "time_gate_failed"
	ReasonLiquidityGate = "liquidity_gate_failed"
	ReasonSpreadGate    = "spread_gate_failed"
	ReasonStabilityGate = "stability_gate_failed"
	ReasonLatencyGate   = "latency_gate_failed"
)

type GateInput struct {
	ElapsedS    float64
	BidDepth    float64
	AskDepth    float64
	Spread      float64
	Mid         float64
	Regime      string
	RealizedVol *float64
	LatencyMS   float64
}

type GateResult struct {
	Time       bool    `json:"time"`
	Liquidity  bool    `json:"liquidity"`
	Spread     bool    `json:"spread"`
	Stability  bool    `json:"stability"`
	Latency    bool    `json:"latency"`
	Passed     bool    `json:"passed"`
	RemainingS float64 `json:"remaining_s"`
	Failed     string  `json:"failed,omitempty"`
}

// EvaluateGates applies the five admission filters. RemainingS counts down
// to the end of the market window.
func EvaluateGates(cfg config.GatesConfig, in GateInput) GateResult {
	r := GateResult{
		Time:       in.ElapsedS >= cfg.WindowStartS && in.ElapsedS <= cfg.WindowEndS,
		Liquidity:  in.BidDepth+in.AskDepth >= cfg.MinDepth,
		Spread:     spreadOK(cfg, in.Spread, in.Mid),
		Stability:  stabilityOK(cfg, in.Regime, in.RealizedVol),
		Latency:    in.LatencyMS <= cfg.MaxLatencyMS,
		RemainingS: cfg.WindowDurationS - in.ElapsedS,
	}
	switch {
	case !r.Time:
		r.Failed = ReasonTimeGate
	case !r.Liquidity:
		r.Failed = ReasonLiquidityGate
	case !r.Spread:
		r.Failed = ReasonSpreadGate
	case !r.Stability:
		r.Failed = ReasonStabilityGate
	case !r.Latency:
		r.Failed = ReasonLatencyGate
	default:
		r.Passed = true
	}
	return r
}

func spreadOK(cfg config.GatesConfig, spread, mid float64) bool {
	if mid <= 0 || spread <= 0 {
		return false
	}
	return spread/mid <= cfg.MaxSpreadPct
}

func stabilityOK(cfg config.GatesConfig, regime string, vol *float64) bool {
	if regime != "" && regime == cfg.BlockedRegime {
		return false
	}
	if vol != nil && *vol > cfg.MaxVolatility {
		return false
	}
	return true
}
