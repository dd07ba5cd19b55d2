package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"bookpoly/internal/config"
	"bookpoly/internal/defense"
	"bookpoly/internal/metrics"
	"bookpoly/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Sender interface {
	Send(ctx context.Context, message string) error
}

// Notifier turns engine output into throttled operator messages. Messages over
// the rate limit are dropped, never queued.
type Notifier struct {
	sender  Sender
	limiter *rate.Limiter
	log     *zap.Logger
	m       *metrics.Metrics
	queue   chan string
	dropped atomic.Uint64
}

func NewNotifier(cfg config.TelegramConfig, sender Sender, log *zap.Logger, m *metrics.Metrics) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	every := cfg.MinEvery
	if every <= 0 {
		every = 5 * time.Second
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 3
	}
	return &Notifier{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(every), burst),
		log:     log,
		m:       metrics.OrNoop(m),
		queue:   make(chan string, 64),
	}
}

// PhaseAlert formats a defense decision that should reach an operator:
// escalations into PANIC or EXIT. ok is false for everything else.
func PhaseAlert(instrument string, d defense.Decision) (string, bool) {
	if !d.PhaseChanged {
		return "", false
	}
	if d.Phase != strategy.PhasePanic && d.Phase != strategy.PhaseExit {
		return "", false
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s -> %s\n", instrument, d.PrevPhase, d.Phase)
	fmt.Fprintf(&b, "reason: %s\n", d.Reason)
	fmt.Fprintf(&b, "severity=%.2f rpi=%.3f thr=%.3f t_left=%.0fs", d.Severity, d.RPI, d.RPIThreshold, d.TimeLeftS)
	if d.AdverseMove != nil {
		fmt.Fprintf(&b, " adverse=%.3f", *d.AdverseMove)
	}
	if d.ShouldHedge {
		fmt.Fprintf(&b, "\nhedge: %d %s @ %.2f", d.HedgeShares, d.HedgeSide, d.HedgePrice)
	}
	return b.String(), true
}

func EntryAlert(instrument string, d strategy.Decision) (string, bool) {
	if d.Action != strategy.ActionEnter {
		return "", false
	}
	return fmt.Sprintf("[%s] ENTER %s @ %.2f (%s)\n%s", instrument, d.Side, d.EntryPrice, d.Confidence, d.Reason), true
}

// Notify enqueues message. It never blocks the caller.
func (n *Notifier) Notify(message string) {
	if n == nil || n.sender == nil {
		return
	}
	if !n.limiter.Allow() {
		n.log.Debug("alert rate limited")
		return
	}
	select {
	case n.queue <- message:
	default:
		if n.dropped.Add(1) == 1 {
			n.log.Warn("alert queue full")
		}
	}
}

func (n *Notifier) Run(ctx context.Context) {
	if n == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := n.sender.Send(sendCtx, msg)
			cancel()
			if err != nil {
				n.log.Warn("alert send failed", zap.Error(err))
				continue
			}
			n.m.AlertsSent.Inc()
		}
	}
}
