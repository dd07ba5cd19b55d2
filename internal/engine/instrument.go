// Package engine runs the per-instrument tick pipeline: gates, microstructure,
// rolling statistics, scoring, and either the entry decision or the defense
// decision of the open position.
package engine

import (
	"bookpoly/internal/config"
	"bookpoly/internal/defense"
	"bookpoly/internal/market"
	"bookpoly/internal/micro"
	"bookpoly/internal/rolling"
	"bookpoly/internal/score"
	"bookpoly/internal/strategy"
)

// SchemaVersion is written to every audit record as "v".
const SchemaVersion = 1

// TickSnapshot is the audit record of one processed tick.
type TickSnapshot struct {
	V               int                   `json:"v"`
	At              float64               `json:"ts_s"`
	Instrument      string                `json:"instrument"`
	Mid             float64               `json:"mid"`
	SecondsToExpiry int                   `json:"seconds_to_expiry"`
	Book            *market.BookSnapshot  `json:"book"`
	Gates           strategy.GateResult   `json:"gates"`
	Micro           *micro.Metrics        `json:"micro"`
	Rolling         rolling.State         `json:"rolling"`
	ImbalanceMA     *float64              `json:"imbalance_ma"`
	ProbMomentum    *float64              `json:"prob_momentum"`
	Score           score.Result          `json:"score"`
	Entry           *strategy.Decision    `json:"entry,omitempty"`
	Defense         *defense.Decision     `json:"defense,omitempty"`
	Indicators      defense.Snapshot      `json:"indicators"`
	Position        *defense.PositionMeta `json:"position,omitempty"`
}

// Result is what one tick produces. Exactly one of Entry and Defense is set.
type Result struct {
	Snapshot TickSnapshot
	Entry    *strategy.Decision
	Defense  *defense.Decision
}

// Fill reports that the entry order was filled.
type Fill struct {
	Side   strategy.Side `json:"side"`
	Price  float64       `json:"price"`
	Shares int           `json:"shares"`
	At     float64       `json:"at"`
}

// Instrument holds every piece of per-instrument state. It must be driven
// from a single goroutine.
type Instrument struct {
	id  string
	cfg *config.Config

	tracker *rolling.Tracker
	scorer  *score.Scorer
	entry   *strategy.EntryEngine
	defense *defense.Engine

	reversal *strategy.ReversalSignal

	windowStart int64
	lastProb    float64
	seen        bool
}

func NewInstrument(id string, cfg *config.Config) *Instrument {
	return &Instrument{
		id:      id,
		cfg:     cfg,
		tracker: rolling.NewTracker(cfg.Rolling),
		scorer:  score.New(cfg.Score),
		entry:   strategy.NewEntryEngine(cfg.Entry, cfg.Zones),
		defense: defense.NewEngine(id, cfg.Defense, cfg.Hedge),
	}
}

func (i *Instrument) ID() string { return i.id }

// SetReversal installs the latest signal of an external reversal detector.
// It applies to every following entry decision; nil clears it.
func (i *Instrument) SetReversal(sig *strategy.ReversalSignal) {
	if sig == nil {
		i.reversal = nil
		return
	}
	v := *sig
	i.reversal = &v
}

func (i *Instrument) Reversal() *strategy.ReversalSignal { return i.reversal }

func (i *Instrument) Process(t market.Tick) Result {
	at := t.Seconds()
	if i.seen && t.WindowStart != i.windowStart {
		i.tracker.SetWindowOutcome(windowOutcome(i.lastProb), i.lastProb)
	}
	i.seen = true
	i.windowStart = t.WindowStart
	i.lastProb = t.Mid

	var bookSnap *market.BookSnapshot
	if t.Book != nil {
		if s, ok := market.NewBookSnapshot(*t.Book); ok {
			bookSnap = &s
		}
	}

	gateIn := strategy.GateInput{
		ElapsedS:    t.ElapsedInWindow(),
		Mid:         t.Mid,
		Regime:      t.Regime(),
		RealizedVol: t.RealizedVol(),
		LatencyMS:   t.LatencyMS,
	}
	if bookSnap != nil {
		gateIn.BidDepth = bookSnap.BidQty
		gateIn.AskDepth = bookSnap.AskQty
		gateIn.Spread = bookSnap.Spread
	}
	gates := strategy.EvaluateGates(i.cfg.Gates, gateIn)

	var m *micro.Metrics
	if bookSnap != nil {
		mm := micro.Analyze(*t.Book, *bookSnap, t.Mid, i.tracker.PrevImbalance())
		m = &mm
	}

	trackIn := rolling.Input{
		At:          at,
		WindowStart: t.WindowStart,
		GatesPassed: gates.Passed,
		Prob:        t.Mid,
		NoBook:      m == nil,
	}
	scoreIn := score.Inputs{
		TakerRatio: t.TakerRatio(),
		Volatility: t.RealizedVol(),
	}
	if m != nil {
		trackIn.Imbalance = m.Imbalance
		trackIn.SpreadPct = m.SpreadPct
		trackIn.MicropriceEdge = m.MicropriceEdge
		scoreIn.Imbalance = m.Imbalance
		scoreIn.MicropriceEdge = m.MicropriceEdge
		scoreIn.ImbalanceDelta = m.ImbalanceDelta
		scoreIn.SpreadPct = m.SpreadPct
		scoreIn.ImpactBuy = m.ImpactBuySmall
		scoreIn.ImpactSell = m.ImpactSellSmall
	}
	state := i.tracker.Update(trackIn)
	scoreIn.PersistenceS = state.PersistenceS
	scored := i.scorer.Compute(scoreIn)

	indicators := i.defense.Update(at, t.Mid, float64(t.SecondsToExpiry), bookSnap)

	snap := TickSnapshot{
		V:               SchemaVersion,
		At:              market.Round(at, 3),
		Instrument:      i.id,
		Mid:             t.Mid,
		SecondsToExpiry: t.SecondsToExpiry,
		Book:            bookSnap,
		Gates:           gates,
		Micro:           m,
		Rolling:         state,
		ImbalanceMA:     i.tracker.ImbalanceMA(float64(i.cfg.Rolling.ImbalanceMA)),
		ProbMomentum:    i.tracker.ProbMomentum(i.cfg.Rolling.MomentumTicks),
		Score:           scored,
		Indicators:      indicators,
	}
	res := Result{}

	if pos, ok := i.defense.Position(); ok {
		d := i.defense.Evaluate(indicators, oppositeBestAsk(t, bookSnap, pos.Side))
		snap.Defense = &d
		snap.Position = &pos
		res.Defense = &d
	} else {
		d := i.entry.Decide(strategy.EntryInput{
			ProbUp:     t.Mid,
			RemainingS: gates.RemainingS,
			Gates:      gates,
			Score:      scored.Score,
			Regime:     t.Regime(),
			Reversal:   i.reversal,
		})
		snap.Entry = &d
		res.Entry = &d
	}
	res.Snapshot = snap
	return res
}

// OnFill freezes the volatility regime and starts defending the position.
func (i *Instrument) OnFill(f Fill) defense.PositionMeta {
	meta := defense.PositionMeta{
		Instrument: i.id,
		Side:       f.Side,
		EntryPrice: f.Price,
		EntryAt:    f.At,
		Shares:     f.Shares,
		Regime:     i.defense.SnapshotRegime(),
	}
	i.defense.StartPosition(meta)
	return meta
}

func (i *Instrument) OnHedgeFill(shares int, at float64) {
	i.defense.RecordHedgeFill(shares, at)
}

// CancelHedge frees the shares reserved by a hedge that was not sent.
func (i *Instrument) CancelHedge() int {
	return i.defense.CancelPendingHedge()
}

// Close ends the defense cycle of the current position.
func (i *Instrument) Close() {
	i.defense.ClearPosition()
}

// Restore resumes a checkpointed position after a restart.
func (i *Instrument) Restore(meta defense.PositionMeta, hedged int, lastHedgeAt float64, hedgeSide strategy.Side) {
	i.defense.RestorePosition(meta, hedged, lastHedgeAt, hedgeSide)
}

func (i *Instrument) Position() (defense.PositionMeta, bool) { return i.defense.Position() }

func (i *Instrument) Tracker() strategy.DefenseTracker { return i.defense.Tracker() }

func (i *Instrument) Phase() strategy.Phase { return i.defense.Phase() }

// oppositeBestAsk is the best ask of the outcome not held. For an UP
// position it prefers the DOWN book carried by the tick and falls back to
// the complement of the UP best bid.
func oppositeBestAsk(t market.Tick, book *market.BookSnapshot, held strategy.Side) *float64 {
	switch held {
	case strategy.SideUp:
		if t.OppositeBestAsk != nil {
			v := *t.OppositeBestAsk
			return &v
		}
		if book != nil && book.BestBid > 0 {
			v := 1 - book.BestBid
			return &v
		}
	case strategy.SideDown:
		if t.Book != nil && len(t.Book.Asks) > 0 && book != nil {
			v := book.BestAsk
			return &v
		}
	}
	return nil
}

func windowOutcome(finalProb float64) string {
	if finalProb >= 0.5 {
		return string(strategy.SideUp)
	}
	return string(strategy.SideDown)
}
