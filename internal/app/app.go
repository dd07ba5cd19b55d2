package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bookpoly/internal/alerts"
	"bookpoly/internal/audit"
	"bookpoly/internal/config"
	"bookpoly/internal/engine"
	"bookpoly/internal/exec"
	"bookpoly/internal/feed"
	"bookpoly/internal/metrics"
	"bookpoly/internal/state"
	"bookpoly/internal/state/sqlite"
	"bookpoly/internal/timescale"

	"go.uber.org/zap"
)

// Deps overrides the components New would build from config. Zero fields are
// built from config.
type Deps struct {
	Source    feed.Source
	Store     state.Store
	Publisher exec.Publisher
	Sender    alerts.Sender
	RunID     string
}

type App struct {
	cfg   *config.Config
	log   *zap.Logger
	m     *metrics.Metrics
	prom  *metrics.Prometheus
	store state.Store

	source     feed.Source
	audit      *audit.Writer
	timescale  *timescale.Writer
	dispatcher *exec.Dispatcher
	notifier   *alerts.Notifier

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	return NewWithDeps(cfg, log, Deps{})
}

func NewWithDeps(cfg *config.Config, log *zap.Logger, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	for _, w := range config.Warnings(cfg) {
		log.Warn("config", zap.String("warning", w))
	}

	a := &App{cfg: cfg, log: log, workers: make(map[string]*worker)}
	if cfg.Metrics.Enabled {
		a.prom = metrics.NewPrometheus()
		a.m = a.prom.Metrics
	} else {
		a.m = metrics.NewNoop()
	}

	var err error
	a.store = deps.Store
	if a.store == nil {
		if a.store, err = openStore(cfg.State); err != nil {
			return nil, err
		}
	}
	a.source = deps.Source
	if a.source == nil {
		if a.source, err = feed.NewSource(cfg.Feed, log); err != nil {
			return nil, err
		}
	}
	if a.audit, err = audit.New(cfg.Audit, deps.RunID, log, a.m); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if a.timescale, err = timescale.New(cfg.Timescale, log); err != nil {
		log.Warn("timescale disabled", zap.Error(err))
		a.timescale = nil
	}
	pub := deps.Publisher
	if pub == nil {
		if pub, err = exec.NewPublisher(cfg.Dispatch, log); err != nil {
			return nil, err
		}
	}
	a.dispatcher = exec.NewDispatcher(pub, a.store, cfg.Dispatch.QueueSize, log, a.m)

	sender := deps.Sender
	if sender == nil && cfg.Telegram.Enabled {
		sender = alerts.NewTelegram(cfg.Telegram, log)
	}
	if sender != nil {
		a.notifier = alerts.NewNotifier(cfg.Telegram, sender, log, a.m)
	}
	return a, nil
}

func openStore(cfg config.StateConfig) (state.Store, error) {
	if cfg.SQLitePath == "" || cfg.SQLitePath == ":memory:" {
		return state.NewMemory(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	return sqlite.New(cfg.SQLitePath)
}

func (a *App) RunID() string { return a.audit.RunID() }

func (a *App) Metrics() *metrics.Metrics { return a.m }

// Run restores checkpoints, consumes the feed until it ends or ctx is done,
// then drains every sink. A feed that ends cleanly returns nil.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	if err := a.restore(ctx); err != nil {
		return err
	}
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()
	a.audit.Start(sinkCtx)
	a.timescale.Start(sinkCtx)
	a.dispatcher.Start(sinkCtx)
	if a.notifier != nil {
		go a.notifier.Run(sinkCtx)
	}
	srv := a.startMetricsServer()

	a.log.Info("feed started", zap.String("kind", a.cfg.Feed.Kind), zap.String("run_id", a.RunID()))
	err := a.source.Run(ctx, func(ev feed.Event) { a.route(ctx, ev) })

	a.stopWorkers()
	if cerr := a.dispatcher.Close(); cerr != nil {
		a.log.Warn("dispatcher close failed", zap.Error(cerr))
	}
	if cerr := a.audit.Close(); cerr != nil {
		a.log.Warn("audit close failed", zap.Error(cerr))
	}
	if cerr := a.timescale.Close(); cerr != nil {
		a.log.Warn("timescale close failed", zap.Error(cerr))
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	a.log.Info("feed stopped", zap.Error(err))
	return err
}

func (a *App) restore(ctx context.Context) error {
	cps, err := state.LoadCheckpoints(ctx, a.store)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	for id, cp := range cps {
		w := a.worker(id)
		w.inst.Restore(cp.Meta, cp.HedgedShares, cp.LastHedgeAt, cp.HedgeSide)
		a.log.Info("position restored",
			zap.String("instrument", id),
			zap.String("side", string(cp.Meta.Side)),
			zap.Int("shares", cp.Meta.Shares),
			zap.Int("hedged", cp.HedgedShares),
		)
	}
	return nil
}

func (a *App) startMetricsServer() *http.Server {
	if a.prom == nil || a.cfg.Metrics.Address == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// route hands ev to the goroutine owning its instrument, creating it on first
// use. Per-instrument order is the feed order.
func (a *App) route(ctx context.Context, ev feed.Event) {
	w := a.worker(ev.Instrument)
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (a *App) worker(id string) *worker {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.workers[id]; ok {
		return w
	}
	w := newWorker(a, id)
	a.workers[id] = w
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		w.run()
	}()
	return w
}

func (a *App) stopWorkers() {
	a.mu.Lock()
	for _, w := range a.workers {
		close(w.events)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// Instrument exposes a worker's engine once Run has returned.
func (a *App) Instrument(id string) (*engine.Instrument, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.workers[id]
	if !ok {
		return nil, false
	}
	return w.inst, true
}
