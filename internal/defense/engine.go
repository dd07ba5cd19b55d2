package defense

import (
	"bookpoly/internal/config"
	"bookpoly/internal/hedge"
	"bookpoly/internal/market"
	"bookpoly/internal/rolling"
	"bookpoly/internal/strategy"
)

const zMinSamples = 5

// Snapshot is the full indicator block for one tick. Values are rounded the
// way they are written to the audit log.
type Snapshot struct {
	At            float64   `json:"ts_s"`
	Instrument    string    `json:"instrument"`
	Mid           float64   `json:"mid"`
	TimeLeftS     float64   `json:"time_left_s"`
	TimePhase     TimePhase `json:"time_phase"`
	AllowReversal bool      `json:"allow_reversal"`
	TimePressure  float64   `json:"time_pressure"`

	VolShort      float64  `json:"vol_short"`
	VolLong       float64  `json:"vol_long"`
	VolRatio      float64  `json:"vol_ratio"`
	ZVol          float64  `json:"z_vol"`
	DeltaVolEntry *float64 `json:"delta_vol_entry"`

	Velocity            float64  `json:"velocity"`
	Acceleration        float64  `json:"acceleration"`
	DirectionalVelocity *float64 `json:"directional_velocity"`
	ZVelocity           float64  `json:"z_velocity"`

	Book            *market.BookSnapshot `json:"book"`
	BookConfirmed   bool                 `json:"book_confirmed"`
	LiquidityVacuum bool                 `json:"liquidity_vacuum"`
	ZImbalance      float64              `json:"z_imbalance"`

	HasPosition   bool     `json:"has_position"`
	AdverseMove   *float64 `json:"adverse_move"`
	DistanceEntry *float64 `json:"distance_entry"`
	ZAdverse      *float64 `json:"z_adverse"`

	RegimeShift   float64   `json:"regime_shift_score"`
	ReversalScore float64   `json:"reversal_score"`
	Pressures     Pressures `json:"pressures"`
	RPI           float64   `json:"rpi"`
	RPIThreshold  float64   `json:"rpi_threshold"`
	Severity      float64   `json:"severity"`
}

// Decision is the defense output for one tick of an open position.
type Decision struct {
	Phase        strategy.Phase `json:"phase"`
	PrevPhase    strategy.Phase `json:"prev_phase"`
	PhaseChanged bool           `json:"phase_changed"`
	Reason       string         `json:"reason,omitempty"`

	ShouldHedge bool          `json:"should_hedge"`
	HedgeShares int           `json:"hedge_shares,omitempty"`
	HedgePrice  float64       `json:"hedge_price,omitempty"`
	HedgeSide   strategy.Side `json:"hedge_side,omitempty"`

	// ReleasedShares is a pending reservation that timed out on this tick.
	ReleasedShares int `json:"released_hedge_shares,omitempty"`

	Severity     float64  `json:"severity"`
	RPI          float64  `json:"rpi"`
	RPIThreshold float64  `json:"rpi_threshold"`
	AdverseMove  *float64 `json:"adverse_move"`
	TimeLeftS    float64  `json:"time_left_s"`
}

// Engine owns every indicator history of one instrument. It is not safe for
// concurrent Update calls.
type Engine struct {
	instrument string
	cfg        config.DefenseConfig
	hedgeCfg   config.HedgeConfig

	prices        *rolling.Series[float64]
	velocities    *rolling.Series[float64]
	dirVelocities *rolling.Series[float64]
	volShorts     *rolling.Series[float64]
	rpis          *rolling.Series[float64]
	imbalances    *rolling.Series[float64]
	books         *rolling.Series[market.BookSnapshot]

	position *PositionMeta
	machine  *strategy.DefenseMachine
	sizer    *hedge.Sizer
}

func NewEngine(instrument string, cfg config.DefenseConfig, hedgeCfg config.HedgeConfig) *Engine {
	maxAge := cfg.HistoryMaxAgeS
	return &Engine{
		instrument:    instrument,
		cfg:           cfg,
		hedgeCfg:      hedgeCfg,
		prices:        rolling.NewSeries[float64](maxAge, cfg.MaxPriceHistory),
		velocities:    rolling.NewSeries[float64](maxAge, cfg.MaxPriceHistory),
		dirVelocities: rolling.NewSeries[float64](maxAge, cfg.MaxPriceHistory),
		volShorts:     rolling.NewSeries[float64](maxAge, cfg.MaxPriceHistory),
		rpis:          rolling.NewSeries[float64](maxAge, cfg.MaxPriceHistory),
		imbalances:    rolling.NewSeries[float64](maxAge, cfg.MaxBookHistory),
		books:         rolling.NewSeries[market.BookSnapshot](maxAge, cfg.MaxBookHistory),
		machine:       strategy.NewDefenseMachine(cfg),
		sizer:         hedge.New(hedgeCfg),
	}
}

// SnapshotRegime returns the current short vol, long vol and z-vol. Call it
// at the fill, before the position starts.
func (e *Engine) SnapshotRegime() Regime {
	short := ReturnsStd(e.prices, e.cfg.VolShortWindowS)
	return Regime{
		VolShort: short,
		VolLong:  ReturnsStd(e.prices, e.cfg.VolLongWindowS),
		ZVol:     rolling.WindowZ(short, e.volShorts, e.cfg.ZVolWindowS, zMinSamples),
	}
}

// StartPosition begins a defense cycle in NORMAL.
func (e *Engine) StartPosition(meta PositionMeta) {
	e.position = &meta
	e.dirVelocities.Reset()
	e.machine.Reset()
}

// RestorePosition resumes a checkpointed position. The phase restarts in
// NORMAL while the hedge total carries over.
func (e *Engine) RestorePosition(meta PositionMeta, hedged int, lastHedgeAt float64, hedgeSide strategy.Side) {
	e.position = &meta
	e.dirVelocities.Reset()
	e.machine.Restore(hedged, lastHedgeAt, hedgeSide)
}

func (e *Engine) ClearPosition() {
	e.position = nil
	e.dirVelocities.Reset()
	e.machine.Reset()
}

func (e *Engine) Position() (PositionMeta, bool) {
	if e.position == nil {
		return PositionMeta{}, false
	}
	return *e.position, true
}

func (e *Engine) Phase() strategy.Phase { return e.machine.Phase() }

func (e *Engine) Tracker() strategy.DefenseTracker { return e.machine.Tracker() }

func (e *Engine) RecordHedgeFill(shares int, at float64) {
	e.machine.RecordHedgeFill(shares, at)
}

// CancelPendingHedge frees the reservation of a hedge that was never placed.
func (e *Engine) CancelPendingHedge() int {
	return e.machine.ReleasePendingHedge()
}

// Update appends one observation and recomputes every indicator. book is nil
// when no order book was received for the tick.
func (e *Engine) Update(at, mid, timeLeftS float64, book *market.BookSnapshot) Snapshot {
	cfg := e.cfg
	e.prices.Push(at, mid)

	snap := Snapshot{
		At:            market.Round(at, 3),
		Instrument:    e.instrument,
		Mid:           mid,
		TimeLeftS:     timeLeftS,
		TimePhase:     ClassifyTime(timeLeftS, cfg.PhaseEarlyS, cfg.PhaseLateS),
		AllowReversal: AllowReversal(timeLeftS, cfg.TMinReversalS),
		TimePressure:  market.Round(TimePressure(timeLeftS, cfg.WindowDurationS), 4),
		HasPosition:   e.position != nil,
	}

	volShort := ReturnsStd(e.prices, cfg.VolShortWindowS)
	volLong := ReturnsStd(e.prices, cfg.VolLongWindowS)
	volRatio := VolRatio(volShort, volLong)
	e.volShorts.Push(at, volShort)
	zVol := rolling.WindowZ(volShort, e.volShorts, cfg.ZVolWindowS, zMinSamples)
	var deltaVol *float64
	if e.position != nil {
		deltaVol = DeltaVolEntry(volShort, e.position.Regime.VolShort)
	}

	velocity := Velocity(e.prices, cfg.VelocityWindowS, cfg.VelocitySmoothN)
	e.velocities.Push(at, velocity)
	accel := Acceleration(e.velocities)
	var dirVel *float64
	zVel := 0.0
	if e.position != nil {
		dv := DirectionalVelocity(velocity, e.position.Side)
		dirVel = &dv
		e.dirVelocities.Push(at, dv)
		if e.dirVelocities.Len() >= zMinSamples {
			zVel = rolling.WindowZ(dv, e.dirVelocities, cfg.ZVelocityWindowS, zMinSamples)
		}
	}

	side := strategy.SideUp
	if e.position != nil {
		side = e.position.Side
	}
	var confirmed, vacuum bool
	zImb, spread := 0.0, 0.0
	if book != nil {
		b := *book
		snap.Book = &b
		spread = b.Spread
		e.books.Push(at, b)
		e.imbalances.Push(at, b.Imbalance)
		confirmed = BookConfirmed(e.imbalances, side, cfg.BookConfirmS)
		vacuum = LiquidityVacuum(e.books, side, cfg.VacuumThresholdPct, cfg.VacuumWindowS)
		raw := rolling.WindowZ(b.Imbalance, e.imbalances, cfg.ZImbalanceWindowS, zMinSamples)
		zImb = DirectionalImbalanceZ(raw, side)
	}

	if p := e.position; p != nil {
		adverse := AdverseMove(mid, p.EntryPrice, p.Side)
		distance := DistanceFromEntry(mid, p.EntryPrice, p.Side)
		snap.AdverseMove = roundPtr(&adverse, 4)
		snap.DistanceEntry = roundPtr(&distance, 4)
		snap.ZAdverse = roundPtr(ZAdverse(adverse, volShort), 4)
	}

	regimeShift := RegimeShiftScore(volRatio, zVol, deltaVol)
	pressures := ComputePressures(PressureInput{
		VolRatio:            volRatio,
		ZVol:                zVol,
		DeltaVolEntry:       deltaVol,
		ZVelocity:           zVel,
		DirectionalVelocity: dirVel,
		ZImbalance:          zImb,
		BookConfirmed:       confirmed,
		LiquidityVacuum:     vacuum,
	})
	rpi := RPI(pressures, cfg.RPIWeights)
	e.rpis.Push(at, rpi)
	threshold := RPIThreshold(e.rpis, cfg.RPIWindowS, cfg.RPIK, cfg.RPIMinThreshold)

	snap.VolShort = market.Round(volShort, 6)
	snap.VolLong = market.Round(volLong, 6)
	snap.VolRatio = market.Round(volRatio, 4)
	snap.ZVol = market.Round(zVol, 4)
	snap.DeltaVolEntry = roundPtr(deltaVol, 4)
	snap.Velocity = market.Round(velocity, 8)
	snap.Acceleration = market.Round(accel, 8)
	snap.DirectionalVelocity = roundPtr(dirVel, 8)
	snap.ZVelocity = market.Round(zVel, 4)
	snap.BookConfirmed = confirmed
	snap.LiquidityVacuum = vacuum
	snap.ZImbalance = market.Round(zImb, 4)
	snap.RegimeShift = regimeShift
	snap.ReversalScore = ReversalScore(regimeShift, zVel, zImb, confirmed, spread, cfg.ReversalMaxSpread)
	snap.Pressures = Pressures{
		Vol:  market.Round(pressures.Vol, 4),
		Dir:  market.Round(pressures.Dir, 4),
		Book: market.Round(pressures.Book, 4),
	}
	snap.RPI = rpi
	snap.RPIThreshold = threshold
	snap.Severity = Severity(rpi, threshold)
	return snap
}

// Evaluate steps the defense machine with snap and sizes a hedge when the
// phase calls for one. oppositeAsk is the best ask of the outcome not held.
func (e *Engine) Evaluate(snap Snapshot, oppositeAsk *float64) Decision {
	current := e.machine.Phase()
	if e.position == nil {
		return Decision{Phase: current, PrevPhase: current, Reason: "no_position", TimeLeftS: snap.TimeLeftS}
	}
	tr := e.machine.Step(strategy.TransitionInput{
		At:            snap.At,
		Severity:      snap.Severity,
		AdverseMove:   snap.AdverseMove,
		AllowReversal: snap.AllowReversal,
		TimeLeftS:     snap.TimeLeftS,
	})
	d := Decision{
		Phase:        tr.To,
		PrevPhase:    tr.From,
		PhaseChanged: tr.Changed(),
		Reason:       tr.Reason,
		Severity:     snap.Severity,
		RPI:          snap.RPI,
		RPIThreshold: snap.RPIThreshold,
		AdverseMove:  snap.AdverseMove,
		TimeLeftS:    snap.TimeLeftS,
	}
	d.ReleasedShares = e.machine.ExpirePendingHedge(snap.At, e.hedgeCfg.PendingTimeoutS)
	if !tr.To.Hedging() || !snap.AllowReversal {
		return d
	}
	if e.machine.HedgeCooldownActive(snap.At, e.hedgeCfg.CooldownS) {
		return d
	}
	shares := e.sizer.Shares(tr.To, snap.Severity, e.position.Shares, e.machine.CommittedShares())
	if shares <= 0 {
		return d
	}
	if oppositeAsk == nil || *oppositeAsk <= 0 {
		return d
	}
	d.ShouldHedge = true
	d.HedgeShares = shares
	d.HedgePrice = e.sizer.Price(tr.To, *oppositeAsk)
	d.HedgeSide = e.position.Side.Opposite()
	e.machine.ReserveHedge(shares, snap.At, d.HedgeSide)
	return d
}

func roundPtr(v *float64, decimals int) *float64 {
	if v == nil {
		return nil
	}
	r := market.Round(*v, decimals)
	return &r
}
