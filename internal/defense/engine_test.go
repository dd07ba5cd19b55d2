package defense

import (
	"math"
	"reflect"
	"testing"

	"bookpoly/internal/config"
	"bookpoly/internal/market"
	"bookpoly/internal/strategy"
)

var (
	supportiveBook = market.BookSnapshot{BestBid: 0.89, BestAsk: 0.91, BidQty: 600, AskQty: 300, Spread: 0.02, Imbalance: 0.3333}
	adverseBook    = market.BookSnapshot{BestBid: 0.85, BestAsk: 0.88, BidQty: 100, AskQty: 600, Spread: 0.03, Imbalance: -0.7143}
)

type scenario struct {
	e     *Engine
	at    float64
	left  float64
	snaps []Snapshot
}

func newScenario() *scenario {
	cfg := config.Default()
	return &scenario{
		e:    NewEngine("btc-15m", cfg.Defense, cfg.Hedge),
		at:   1000,
		left: 700,
	}
}

func (s *scenario) tick(mid float64, book *market.BookSnapshot) Snapshot {
	s.at++
	s.left--
	snap := s.e.Update(s.at, mid, s.left, book)
	s.snaps = append(s.snaps, snap)
	return snap
}

// calm feeds a flat market, fills an UP position at 0.90 and keeps it calm.
func (s *scenario) calm(t *testing.T) {
	t.Helper()
	for i := 0; i < 60; i++ {
		b := supportiveBook
		s.tick(0.90, &b)
	}
	s.e.StartPosition(PositionMeta{
		Instrument: "btc-15m",
		Side:       strategy.SideUp,
		EntryPrice: 0.90,
		EntryAt:    s.at,
		Shares:     100,
		Regime:     s.e.SnapshotRegime(),
	})
	for i := 0; i < 30; i++ {
		b := supportiveBook
		snap := s.tick(0.90, &b)
		if d := s.e.Evaluate(snap, nil); d.Phase != strategy.PhaseNormal || d.ShouldHedge {
			t.Fatalf("expected calm market to stay NORMAL, got %+v", d)
		}
	}
}

func oppositeAsk(mid float64) *float64 {
	v := 1 - mid + 0.01
	return &v
}

func TestEngineWithoutPosition(t *testing.T) {
	s := newScenario()
	b := supportiveBook
	snap := s.tick(0.9, &b)
	if snap.HasPosition || snap.AdverseMove != nil || snap.DirectionalVelocity != nil || snap.DeltaVolEntry != nil {
		t.Fatalf("expected position metrics to be absent, got %+v", snap)
	}
	d := s.e.Evaluate(snap, oppositeAsk(0.9))
	if d.Reason != "no_position" || d.ShouldHedge {
		t.Fatalf("expected no defense without a position, got %+v", d)
	}
}

func TestEngineSnapshotWithoutBook(t *testing.T) {
	s := newScenario()
	snap := s.tick(0.9, nil)
	if snap.Book != nil || snap.BookConfirmed || snap.LiquidityVacuum || snap.ZImbalance != 0 {
		t.Fatalf("expected neutral book indicators, got %+v", snap)
	}
	if snap.RPIThreshold != 0.5 {
		t.Fatalf("expected floor threshold, got %v", snap.RPIThreshold)
	}
}

func TestEngineReversalEscalatesAndHedges(t *testing.T) {
	s := newScenario()
	s.calm(t)

	escalated := false
	hedged := 0
	var hedgeDecision *Decision
	for k := 1; k <= 10; k++ {
		mid := 0.90 - 0.005*float64(k)
		b := adverseBook
		snap := s.tick(mid, &b)
		if snap.Severity < 0 || snap.Severity > 1 {
			t.Fatalf("severity out of range: %v", snap.Severity)
		}
		d := s.e.Evaluate(snap, oppositeAsk(mid))
		if d.Phase == strategy.PhaseDefense || d.Phase == strategy.PhasePanic {
			escalated = true
		}
		if d.ShouldHedge {
			dd := d
			hedgeDecision = &dd
			hedged += d.HedgeShares
			s.e.RecordHedgeFill(d.HedgeShares, snap.At)
		}
		if hedged > int(math.Ceil(100*0.80)) {
			t.Fatalf("hedged %d shares, above the cap", hedged)
		}
	}
	if !escalated {
		t.Fatalf("expected DEFENSE or PANIC within 10 ticks of the reversal, got %s", s.e.Phase())
	}
	if hedgeDecision == nil {
		t.Fatalf("expected a hedge intent during the reversal")
	}
	if hedgeDecision.HedgeSide != strategy.SideDown {
		t.Fatalf("expected hedge on DOWN, got %s", hedgeDecision.HedgeSide)
	}
	if hedgeDecision.HedgePrice < 0.01 || hedgeDecision.HedgePrice > 0.99 {
		t.Fatalf("hedge price out of range: %v", hedgeDecision.HedgePrice)
	}
	if s.e.Tracker().TotalHedgeShares != hedged {
		t.Fatalf("expected tracker to hold %d hedged shares, got %d", hedged, s.e.Tracker().TotalHedgeShares)
	}

	s.e.ClearPosition()
	if s.e.Phase() != strategy.PhaseNormal || s.e.Tracker().TotalHedgeShares != 0 {
		t.Fatalf("expected a clean tracker after the position closes")
	}
	if _, ok := s.e.Position(); ok {
		t.Fatalf("expected no position after clear")
	}
}

func TestEngineUnfilledHedgesStayUnderCap(t *testing.T) {
	s := newScenario()
	s.calm(t)

	emitted, hedges := 0, 0
	for k := 1; k <= 30; k++ {
		mid := 0.90 - 0.005*float64(k)
		b := adverseBook
		d := s.e.Evaluate(s.tick(mid, &b), oppositeAsk(mid))
		if d.ShouldHedge {
			hedges++
			emitted += d.HedgeShares
		}
		if emitted > int(math.Ceil(100*0.80)) {
			t.Fatalf("tick %d: %d hedge shares requested without fills, above the cap", k, emitted)
		}
	}
	if hedges == 0 {
		t.Fatalf("expected at least one hedge request")
	}
	tr := s.e.Tracker()
	if tr.TotalHedgeShares != 0 || tr.PendingHedgeShares != emitted {
		t.Fatalf("expected %d pending and none filled, got %+v", emitted, tr)
	}
}

func TestEnginePendingHedgeExpires(t *testing.T) {
	s := newScenario()
	s.calm(t)

	var first *Decision
	for k := 1; k <= 10 && first == nil; k++ {
		mid := 0.90 - 0.005*float64(k)
		b := adverseBook
		if d := s.e.Evaluate(s.tick(mid, &b), oppositeAsk(mid)); d.ShouldHedge {
			first = &d
		}
	}
	if first == nil {
		t.Fatalf("expected a hedge request during the reversal")
	}
	if got := s.e.CancelPendingHedge(); got != first.HedgeShares {
		t.Fatalf("expected cancel to free %d shares, got %d", first.HedgeShares, got)
	}
	if s.e.Tracker().PendingHedgeShares != 0 {
		t.Fatalf("expected no reservation after cancel")
	}

	s.e.machine.ReserveHedge(7, s.at, strategy.SideDown)
	released := 0
	for i := 0; i < 61; i++ {
		b := supportiveBook
		released += s.e.Evaluate(s.tick(0.90, &b), nil).ReleasedShares
	}
	if released != 7 || s.e.Tracker().PendingHedgeShares != 0 {
		t.Fatalf("expected the 7 reserved shares to time out, released %d", released)
	}
}

func TestEngineNoHedgeWithoutOppositeAsk(t *testing.T) {
	s := newScenario()
	s.calm(t)
	for k := 1; k <= 10; k++ {
		mid := 0.90 - 0.005*float64(k)
		b := adverseBook
		if d := s.e.Evaluate(s.tick(mid, &b), nil); d.ShouldHedge {
			t.Fatalf("expected no hedge without the opposite best ask")
		}
	}
	if s.e.Tracker().HedgeSide != "" {
		t.Fatalf("expected hedge side to stay unset")
	}
}

func TestEngineNoHedgeWithoutReversalWindow(t *testing.T) {
	s := newScenario()
	s.left = 330
	s.calm(t)
	for k := 1; k <= 10; k++ {
		mid := 0.90 - 0.005*float64(k)
		b := adverseBook
		snap := s.tick(mid, &b)
		if snap.AllowReversal {
			t.Fatalf("expected reversal window to be closed at %vs left", snap.TimeLeftS)
		}
		if d := s.e.Evaluate(snap, oppositeAsk(mid)); d.ShouldHedge || d.Phase.Hedging() {
			t.Fatalf("expected no escalation without time to reverse, got %+v", d)
		}
	}
}

func TestEngineDeterministic(t *testing.T) {
	run := func() ([]Snapshot, []Decision) {
		s := newScenario()
		var decisions []Decision
		for i := 0; i < 60; i++ {
			b := supportiveBook
			s.tick(0.90+0.001*math.Sin(float64(i)), &b)
		}
		s.e.StartPosition(PositionMeta{Side: strategy.SideUp, EntryPrice: 0.90, Shares: 50, Regime: s.e.SnapshotRegime()})
		for k := 1; k <= 40; k++ {
			mid := 0.90 - 0.003*float64(k%15)
			b := adverseBook
			if k%3 == 0 {
				b = supportiveBook
			}
			d := s.e.Evaluate(s.tick(mid, &b), oppositeAsk(mid))
			if d.ShouldHedge {
				s.e.RecordHedgeFill(d.HedgeShares, s.at)
			}
			decisions = append(decisions, d)
		}
		return s.snaps, decisions
	}
	snapsA, decA := run()
	snapsB, decB := run()
	if !reflect.DeepEqual(snapsA, snapsB) {
		t.Fatalf("expected identical snapshots across runs")
	}
	if !reflect.DeepEqual(decA, decB) {
		t.Fatalf("expected identical decisions across runs")
	}
}

func TestEngineRestorePosition(t *testing.T) {
	s := newScenario()
	meta := PositionMeta{Side: strategy.SideDown, EntryPrice: 0.92, Shares: 40}
	s.e.RestorePosition(meta, 12, 900, strategy.SideUp)
	if s.e.Phase() != strategy.PhaseNormal {
		t.Fatalf("expected NORMAL after restore, got %s", s.e.Phase())
	}
	got, ok := s.e.Position()
	if !ok || got.Side != strategy.SideDown || got.Shares != 40 {
		t.Fatalf("unexpected restored position %+v", got)
	}
	if s.e.Tracker().TotalHedgeShares != 12 {
		t.Fatalf("expected hedged shares to survive restore")
	}
	snap := s.tick(0.10, nil)
	if snap.AdverseMove == nil || !closeEnough(*snap.AdverseMove, 0.02) {
		t.Fatalf("expected DOWN adverse move 0.02, got %v", snap.AdverseMove)
	}
	if snap.DirectionalVelocity == nil {
		t.Fatalf("expected directional velocity with a position")
	}
}
