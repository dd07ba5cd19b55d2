package app

import (
	"time"

	"bookpoly/internal/defense"
	"bookpoly/internal/engine"
	"bookpoly/internal/timescale"
)

func tickTime(at float64) time.Time {
	return time.UnixMilli(int64(at * 1000)).UTC()
}

func tickRow(inst *engine.Instrument, snap engine.TickSnapshot) timescale.TickRow {
	ind := snap.Indicators
	row := timescale.TickRow{
		Time:            tickTime(snap.At),
		Instrument:      snap.Instrument,
		Mid:             snap.Mid,
		SecondsToExpiry: snap.SecondsToExpiry,
		Score:           snap.Score.Score,
		Phase:           string(inst.Phase()),
		RPI:             ind.RPI,
		RPIThreshold:    ind.RPIThreshold,
		Severity:        ind.Severity,
		VolShort:        ind.VolShort,
		ZVol:            ind.ZVol,
		Velocity:        ind.Velocity,
		AdverseMove:     ind.AdverseMove,
	}
	switch {
	case snap.Entry != nil:
		row.Action = string(snap.Entry.Action)
	case snap.Defense != nil && snap.Defense.ShouldHedge:
		row.Action = "HEDGE"
	default:
		row.Action = "HOLD"
	}
	if snap.Micro != nil {
		v := snap.Micro.Imbalance
		row.Imbalance = &v
	}
	return row
}

func (a *App) recordTimescale(inst *engine.Instrument, snap engine.TickSnapshot) {
	if a.timescale == nil {
		return
	}
	a.timescale.EnqueueTick(tickRow(inst, snap))
}

func (a *App) recordTransition(instrument string, at float64, d defense.Decision) {
	if a.timescale == nil {
		return
	}
	a.timescale.EnqueueTransition(timescale.TransitionRow{
		Time:       tickTime(at),
		Instrument: instrument,
		From:       string(d.PrevPhase),
		To:         string(d.Phase),
		Reason:     d.Reason,
		Severity:   d.Severity,
	})
}
