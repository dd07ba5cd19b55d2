package defense

import (
	"math"
	"testing"

	"bookpoly/internal/config"
	"bookpoly/internal/market"
	"bookpoly/internal/rolling"
	"bookpoly/internal/strategy"
)

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func series(values ...float64) *rolling.Series[float64] {
	s := rolling.NewSeries[float64](300, 300)
	for i, v := range values {
		s.Push(float64(i), v)
	}
	return s
}

func TestReturnsStd(t *testing.T) {
	if got := ReturnsStd(series(1, 1.1), 10); got != 0 {
		t.Fatalf("expected 0 with two prices, got %v", got)
	}
	got := ReturnsStd(series(1, 1.1, 1.0), 10)
	r1, r2 := 0.1, (1.0-1.1)/1.1
	mean := (r1 + r2) / 2
	want := math.Sqrt(((r1-mean)*(r1-mean) + (r2-mean)*(r2-mean)) / 2)
	if !closeEnough(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := ReturnsStd(series(0, 0, 0, 0), 10); got != 0 {
		t.Fatalf("expected zero prices to be skipped, got %v", got)
	}
}

func TestVolRatioAndDelta(t *testing.T) {
	if got := VolRatio(0.5, 0); got != maxVolRatio {
		t.Fatalf("expected cap %v, got %v", maxVolRatio, got)
	}
	if got := VolRatio(0.02, 0.01); !closeEnough(got, 2) {
		t.Fatalf("expected 2, got %v", got)
	}
	if DeltaVolEntry(0.01, 0) != nil {
		t.Fatalf("expected nil delta without entry vol")
	}
	if d := DeltaVolEntry(0.03, 0.01); d == nil || !closeEnough(*d, 3) {
		t.Fatalf("expected 3, got %v", d)
	}
}

func TestVelocityAndAcceleration(t *testing.T) {
	prices := series(0.5, 0.51, 0.53, 0.56)
	if got := Velocity(prices, 5, 3); !closeEnough(got, 0.02) {
		t.Fatalf("expected 0.02, got %v", got)
	}
	if got := Velocity(prices, 5, 2); !closeEnough(got, 0.025) {
		t.Fatalf("expected 0.025, got %v", got)
	}
	if got := Velocity(series(0.5), 5, 3); got != 0 {
		t.Fatalf("expected 0 for one price, got %v", got)
	}

	vel := rolling.NewSeries[float64](300, 300)
	vel.Push(0, 0.01)
	if got := Acceleration(vel); got != 0 {
		t.Fatalf("expected 0 with one velocity, got %v", got)
	}
	vel.Push(2, 0.03)
	if got := Acceleration(vel); !closeEnough(got, 0.01) {
		t.Fatalf("expected 0.01, got %v", got)
	}

	if DirectionalVelocity(-0.01, strategy.SideUp) != 0.01 {
		t.Fatalf("expected falling UP price to read as adverse")
	}
	if DirectionalVelocity(0.01, strategy.SideDown) != 0.01 {
		t.Fatalf("expected rising UP price to read as adverse for DOWN")
	}
}

func TestBookConfirmed(t *testing.T) {
	imb := series(-0.2, -0.3, -0.1, -0.4, -0.2, -0.3)
	if !BookConfirmed(imb, strategy.SideUp, 5) {
		t.Fatalf("expected persistent sell pressure to confirm against UP")
	}
	if BookConfirmed(imb, strategy.SideDown, 5) {
		t.Fatalf("expected sell pressure not to confirm against DOWN")
	}
	imb.Push(6, 0.1)
	if BookConfirmed(imb, strategy.SideUp, 5) {
		t.Fatalf("expected one supportive sample to break confirmation")
	}
	if BookConfirmed(series(-0.5), strategy.SideUp, 5) {
		t.Fatalf("expected a single sample never to confirm")
	}
}

func TestLiquidityVacuum(t *testing.T) {
	books := rolling.NewSeries[market.BookSnapshot](300, 120)
	books.Push(0, market.BookSnapshot{BidQty: 100, AskQty: 100})
	books.Push(5, market.BookSnapshot{BidQty: 40, AskQty: 100})
	if got := DepthShift(books, strategy.SideUp, 10); !closeEnough(got, -0.6) {
		t.Fatalf("expected -0.6, got %v", got)
	}
	if !LiquidityVacuum(books, strategy.SideUp, 0.5, 10) {
		t.Fatalf("expected vacuum on the bid side")
	}
	if LiquidityVacuum(books, strategy.SideDown, 0.5, 10) {
		t.Fatalf("expected no vacuum on the ask side")
	}
	if LiquidityVacuum(books, strategy.SideUp, 0.5, 2) {
		t.Fatalf("expected narrow window to see a single book")
	}
}

func TestPositionMetrics(t *testing.T) {
	if got := AdverseMove(0.90, 0.95, strategy.SideUp); !closeEnough(got, 0.05) {
		t.Fatalf("expected 0.05, got %v", got)
	}
	if got := AdverseMove(0.10, 0.95, strategy.SideDown); !closeEnough(got, 0.05) {
		t.Fatalf("expected 0.05 for DOWN, got %v", got)
	}
	if got := DistanceFromEntry(0.97, 0.95, strategy.SideUp); !closeEnough(got, 0.02) {
		t.Fatalf("expected 0.02, got %v", got)
	}
	if ZAdverse(0.05, 0) != nil {
		t.Fatalf("expected nil z_adverse with zero vol")
	}
	if z := ZAdverse(0.05, 0.01); z == nil || !closeEnough(*z, 5) {
		t.Fatalf("expected 5, got %v", z)
	}
}

func TestTimePhase(t *testing.T) {
	cases := map[float64]TimePhase{400: TimeEarly, 360: TimeMid, 180: TimeMid, 179: TimeLate}
	for left, want := range cases {
		if got := ClassifyTime(left, 360, 180); got != want {
			t.Fatalf("left=%v: expected %s, got %s", left, want, got)
		}
	}
	if !AllowReversal(240, 240) || AllowReversal(239, 240) {
		t.Fatalf("unexpected allow_reversal boundary")
	}
	if TimePressure(900, 900) != 0 || TimePressure(0, 900) != 1 || !closeEnough(TimePressure(450, 900), 0.5) {
		t.Fatalf("unexpected time pressure")
	}
}

func TestPressuresAndRPI(t *testing.T) {
	dv := 0.005
	delta := 2.0
	p := ComputePressures(PressureInput{
		VolRatio:            1.5,
		ZVol:                2,
		DeltaVolEntry:       &delta,
		ZVelocity:           1,
		DirectionalVelocity: &dv,
		ZImbalance:          -1,
		BookConfirmed:       true,
		LiquidityVacuum:     true,
	})
	if !closeEnough(p.Vol, 0.5+1+0.5) {
		t.Fatalf("expected vol pressure 2.0, got %v", p.Vol)
	}
	if !closeEnough(p.Dir, 0.7+3) {
		t.Fatalf("expected dir pressure 3.7, got %v", p.Dir)
	}
	if !closeEnough(p.Book, 2.5) {
		t.Fatalf("expected book pressure 2.5, got %v", p.Book)
	}
	w := config.RPIWeights{Vol: 0.40, Dir: 0.35, Book: 0.25}
	if got := RPI(p, w); !closeEnough(got, market.Round(0.8+1.295+0.625, 4)) {
		t.Fatalf("unexpected rpi %v", got)
	}
	if got := RPI(Pressures{}, w); got != 0 {
		t.Fatalf("expected zero rpi, got %v", got)
	}
}

func TestRPIThreshold(t *testing.T) {
	if got := RPIThreshold(series(1, 1, 1, 1), 60, 1.5, 0.5); got != 0.5 {
		t.Fatalf("expected floor with four samples, got %v", got)
	}
	if got := RPIThreshold(series(0, 0, 0, 0, 0, 0), 60, 1.5, 0.5); got != 0.5 {
		t.Fatalf("expected floor for a quiet history, got %v", got)
	}
	got := RPIThreshold(series(1, 1, 1, 1, 1, 3), 60, 1.5, 0.5)
	mean, std := rolling.MeanStd([]float64{1, 1, 1, 1, 1, 3})
	if !closeEnough(got, market.Round(mean+1.5*std, 4)) {
		t.Fatalf("unexpected threshold %v", got)
	}
}

func TestSeverityBoundsAndMonotonicity(t *testing.T) {
	if Severity(0.5, 0.5) != 0 {
		t.Fatalf("expected zero severity at threshold")
	}
	if Severity(1, 0) != 0 {
		t.Fatalf("expected zero severity for a zero threshold")
	}
	if Severity(0.75, 0.5) != 0.5 {
		t.Fatalf("expected 0.5, got %v", Severity(0.75, 0.5))
	}
	if Severity(5, 0.5) != 1 {
		t.Fatalf("expected clamp to 1")
	}
	prev := 0.0
	for rpi := 0.0; rpi < 3; rpi += 0.01 {
		s := Severity(rpi, 0.6)
		if s < 0 || s > 1 {
			t.Fatalf("severity %v out of range", s)
		}
		if s < prev {
			t.Fatalf("severity decreased at rpi=%v", rpi)
		}
		prev = s
	}
}

func TestScoresDiagnostics(t *testing.T) {
	delta := 4.0
	if got := RegimeShiftScore(4, 4, &delta); got != 1 {
		t.Fatalf("expected full regime shift, got %v", got)
	}
	if got := RegimeShiftScore(0.5, -1, nil); got != 0 {
		t.Fatalf("expected no regime shift, got %v", got)
	}
	full := ReversalScore(1, 4, 4, true, 0, 0.05)
	if full != 1 {
		t.Fatalf("expected capped reversal score, got %v", full)
	}
	if got := ReversalScore(1, 4, -4, false, 0.05, 0.05); !closeEnough(got, 0.35+0.30-0.15) {
		t.Fatalf("expected spread penalty, got %v", got)
	}
}
