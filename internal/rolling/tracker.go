package rolling

import "bookpoly/internal/config"

// Input is one tick's worth of tracked features.
type Input struct {
	At             float64
	WindowStart    int64
	GatesPassed    bool
	Prob           float64
	Imbalance      float64
	SpreadPct      float64
	MicropriceEdge float64

	// NoBook marks a tick without an order book. Book features are not
	// recorded for it.
	NoBook bool
}

// State is the tracker view after an update.
type State struct {
	WindowStart    int64    `json:"window_start"`
	TicksInWindow  int      `json:"ticks_in_window"`
	PersistenceS   float64  `json:"persistence_s"`
	Prob           Stats    `json:"prob"`
	Imbalance      Stats    `json:"imbalance"`
	SpreadPct      Stats    `json:"spread_pct"`
	MicropriceEdge Stats    `json:"microprice_edge"`
	PrevOutcome    string   `json:"prev_window_outcome,omitempty"`
	PrevFinalProb  *float64 `json:"prev_window_prob,omitempty"`
}

// Tracker keeps per-instrument rolling statistics and the gate persistence
// timer. It is not safe for concurrent use.
type Tracker struct {
	prob      *Series[float64]
	imbalance *Series[float64]
	spread    *Series[float64]
	edge      *Series[float64]

	windowStart  int64
	ticks        int
	passing      bool
	passingSince float64
	persistence  float64

	prevOutcome string
	prevProb    *float64
}

func NewTracker(cfg config.RollingConfig) *Tracker {
	maxAge := cfg.MaxAge.Seconds()
	return &Tracker{
		prob:      NewSeries[float64](maxAge, cfg.MaxSamples),
		imbalance: NewSeries[float64](maxAge, cfg.MaxSamples),
		spread:    NewSeries[float64](maxAge, cfg.MaxSamples),
		edge:      NewSeries[float64](maxAge, cfg.MaxSamples),
	}
}

func (t *Tracker) Update(in Input) State {
	if in.WindowStart != t.windowStart {
		t.windowStart = in.WindowStart
		t.ticks = 0
		t.prob.Reset()
		t.imbalance.Reset()
		t.spread.Reset()
		t.edge.Reset()
	}
	t.ticks++
	t.prob.Push(in.At, in.Prob)
	if !in.NoBook {
		t.imbalance.Push(in.At, in.Imbalance)
		t.spread.Push(in.At, in.SpreadPct)
		t.edge.Push(in.At, in.MicropriceEdge)
	}

	if in.GatesPassed {
		if !t.passing {
			t.passing = true
			t.passingSince = in.At
		}
		t.persistence = in.At - t.passingSince
	} else {
		t.passing = false
		t.passingSince = 0
		t.persistence = 0
	}

	return State{
		WindowStart:    t.windowStart,
		TicksInWindow:  t.ticks,
		PersistenceS:   t.persistence,
		Prob:           Describe(Values(t.prob.Items()), in.Prob),
		Imbalance:      describeBook(t.imbalance, in.NoBook, in.Imbalance),
		SpreadPct:      describeBook(t.spread, in.NoBook, in.SpreadPct),
		MicropriceEdge: describeBook(t.edge, in.NoBook, in.MicropriceEdge),
		PrevOutcome:    t.prevOutcome,
		PrevFinalProb:  t.prevProb,
	}
}

// describeBook scores current, or the last recorded value when the tick had
// no book.
func describeBook(s *Series[float64], noBook bool, current float64) Stats {
	if noBook {
		last, ok := s.Last()
		if !ok {
			return Stats{}
		}
		current = last.Value
	}
	return Describe(Values(s.Items()), current)
}

// PrevImbalance is the most recent imbalance recorded, or nil.
func (t *Tracker) PrevImbalance() *float64 {
	last, ok := t.imbalance.Last()
	if !ok {
		return nil
	}
	v := last.Value
	return &v
}

// ImbalanceMA averages imbalance over the trailing window seconds. It is nil
// until the history spans the full window.
func (t *Tracker) ImbalanceMA(window float64) *float64 {
	items := t.imbalance.Items()
	if len(items) == 0 {
		return nil
	}
	last := items[len(items)-1].At
	if items[0].At > last-window {
		return nil
	}
	mean, _ := MeanStd(Values(t.imbalance.Window(window)))
	return &mean
}

// ProbMomentum is the latest probability minus the one n-1 samples earlier,
// nil when fewer than n samples are held.
func (t *Tracker) ProbMomentum(n int) *float64 {
	if n < 2 || t.prob.Len() < n {
		return nil
	}
	newest, _ := t.prob.FromEnd(0)
	oldest, _ := t.prob.FromEnd(n - 1)
	d := newest.Value - oldest.Value
	return &d
}

func (t *Tracker) PersistenceS() float64 { return t.persistence }

// SetWindowOutcome records how the previous market window settled.
func (t *Tracker) SetWindowOutcome(outcome string, finalProb float64) {
	t.prevOutcome = outcome
	p := finalProb
	t.prevProb = &p
}
