package app

import (
	"context"
	"time"

	"bookpoly/internal/alerts"
	"bookpoly/internal/engine"
	"bookpoly/internal/exec"
	"bookpoly/internal/feed"
	"bookpoly/internal/logging"
	"bookpoly/internal/state"

	"go.uber.org/zap"
)

const storeTimeout = 2 * time.Second

// worker owns one instrument. Only its goroutine touches inst.
type worker struct {
	app    *App
	id     string
	inst   *engine.Instrument
	events chan feed.Event
	log    *zap.Logger

	// lastEntry is the key of the last entry intent, one per window.
	lastEntry string
}

func newWorker(a *App, id string) *worker {
	return &worker{
		app:    a,
		id:     id,
		inst:   engine.NewInstrument(id, a.cfg),
		events: make(chan feed.Event, a.cfg.Feed.QueueSize),
		log:    logging.ForInstrument(a.log, id),
	}
}

func (w *worker) run() {
	for ev := range w.events {
		w.handle(ev)
	}
}

func (w *worker) handle(ev feed.Event) {
	switch ev.Type {
	case feed.EventTick:
		w.onTick(ev)
	case feed.EventFill:
		meta := w.inst.OnFill(engine.Fill{Side: ev.Fill.Side, Price: ev.Fill.Price, Shares: ev.Fill.Shares, At: ev.Fill.At})
		w.log.Info("position opened",
			zap.String("side", string(meta.Side)),
			zap.Float64("entry_price", meta.EntryPrice),
			zap.Int("shares", meta.Shares),
			zap.Float64("z_vol", meta.Regime.ZVol),
		)
		w.checkpoint()
	case feed.EventHedgeFill:
		w.inst.OnHedgeFill(ev.Fill.Shares, ev.Fill.At)
		w.log.Info("hedge filled", zap.Int("shares", ev.Fill.Shares), zap.Int("total", w.inst.Tracker().TotalHedgeShares))
		w.checkpoint()
	case feed.EventClose:
		w.inst.Close()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := state.DeleteCheckpoint(ctx, w.app.store, w.id); err != nil {
			w.log.Warn("checkpoint delete failed", zap.Error(err))
		}
		w.log.Info("position closed")
	case feed.EventReversal:
		w.inst.SetReversal(ev.Reversal)
		if r := ev.Reversal; r != nil {
			w.log.Debug("reversal signal", zap.Float64("score", r.Score), zap.String("direction", string(r.Direction)))
		}
	}
}

func (w *worker) onTick(ev feed.Event) {
	a := w.app
	res := w.inst.Process(*ev.Tick)
	snap := res.Snapshot
	a.m.TicksProcessed.Inc()
	a.audit.Write(w.id, snap.At, snap)
	a.recordTimescale(w.inst, snap)

	if d := res.Entry; d != nil {
		if in, ok := exec.EnterIntent(w.id, ev.Tick.WindowStart, snap.At, *d); ok && in.Key != w.lastEntry {
			if !a.dispatcher.Submit(in) {
				w.log.Warn("entry intent not queued", zap.String("key", in.Key))
				return
			}
			w.lastEntry = in.Key
			a.m.EntrySignals.Inc()
			if msg, ok := alerts.EntryAlert(w.id, *d); ok {
				a.notifier.Notify(msg)
			}
		}
		return
	}
	d := res.Defense
	if d == nil {
		return
	}
	if d.PhaseChanged {
		a.m.PhaseTransitions.With(string(d.Phase)).Inc()
		a.recordTransition(w.id, snap.At, *d)
		w.log.Info("phase transition",
			zap.String("from", string(d.PrevPhase)),
			zap.String("to", string(d.Phase)),
			zap.String("reason", d.Reason),
			zap.Float64("severity", d.Severity),
		)
		if msg, ok := alerts.PhaseAlert(w.id, *d); ok {
			a.notifier.Notify(msg)
		}
	}
	if d.ReleasedShares > 0 {
		w.log.Warn("hedge reservation expired", zap.Int("shares", d.ReleasedShares))
	}
	if in, ok := exec.HedgeIntent(w.id, snap.At, *d); ok {
		a.m.HedgeIntents.Inc()
		if !a.dispatcher.Submit(in) {
			w.log.Warn("hedge intent not queued", zap.String("key", in.Key), zap.Int("released", w.inst.CancelHedge()))
		}
	}
}

func (w *worker) checkpoint() {
	meta, ok := w.inst.Position()
	if !ok {
		return
	}
	tr := w.inst.Tracker()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := state.SaveCheckpoint(ctx, w.app.store, state.PositionCheckpoint{
		Meta:         meta,
		HedgedShares: tr.TotalHedgeShares,
		LastHedgeAt:  tr.LastHedgeAt,
		HedgeSide:    tr.HedgeSide,
	})
	if err != nil {
		w.log.Warn("checkpoint save failed", zap.Error(err))
	}
}
