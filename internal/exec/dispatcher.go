package exec

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bookpoly/internal/metrics"
	"bookpoly/internal/state"

	"go.uber.org/zap"
)

const (
	defaultAttempts = 5
	defaultBackoff  = 200 * time.Millisecond
	intentPrefix    = "intent:"
)

// Dispatcher publishes intents from its own goroutine. Submit never blocks;
// each key is published at most once, remembered in memory and in the store.
type Dispatcher struct {
	pub   Publisher
	store state.Store
	log   *zap.Logger
	m     *metrics.Metrics

	queue    chan Intent
	attempts int
	backoff  time.Duration

	mu      sync.Mutex
	seen    map[string]struct{}
	dropped atomic.Uint64
	started atomic.Bool
	done    chan struct{}
}

func NewDispatcher(pub Publisher, store state.Store, queueSize int, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		pub:      pub,
		store:    store,
		log:      log,
		m:        metrics.OrNoop(m),
		queue:    make(chan Intent, queueSize),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		seen:     make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

func (d *Dispatcher) Submit(in Intent) bool {
	if d == nil {
		return false
	}
	select {
	case d.queue <- in:
		return true
	default:
		if d.dropped.Add(1) == 1 {
			d.log.Warn("dispatch queue full", zap.String("key", in.Key))
		}
		d.m.DispatchFailed.Inc()
		return false
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	if d == nil || !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.run(ctx)
}

// Close stops accepting intents and waits for queued ones to be published.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	close(d.queue)
	if d.started.Load() {
		<-d.done
	}
	return d.pub.Close()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for in := range d.queue {
		if err := d.dispatch(ctx, in); err != nil {
			d.m.DispatchFailed.Inc()
			d.log.Warn("dispatch failed", zap.String("key", in.Key), zap.Error(err))
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, in Intent) error {
	if in.Key == "" {
		return fmt.Errorf("intent without key")
	}
	dup, err := d.published(ctx, in.Key)
	if err != nil {
		return err
	}
	if dup {
		d.log.Debug("intent already published", zap.String("key", in.Key))
		return nil
	}
	if err := d.retry(ctx, func() error { return d.pub.Publish(ctx, in) }); err != nil {
		return err
	}
	d.mu.Lock()
	d.seen[in.Key] = struct{}{}
	d.mu.Unlock()
	if d.store != nil {
		if err := d.store.Set(ctx, intentPrefix+in.Key, []byte(in.Kind)); err != nil {
			d.log.Warn("failed to persist intent key", zap.String("key", in.Key), zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) published(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	_, ok := d.seen[key]
	d.mu.Unlock()
	if ok || d.store == nil {
		return ok, nil
	}
	_, ok, err := d.store.Get(ctx, intentPrefix+key)
	if err != nil {
		return false, err
	}
	if ok {
		d.mu.Lock()
		d.seen[key] = struct{}{}
		d.mu.Unlock()
	}
	return ok, nil
}

func (d *Dispatcher) retry(ctx context.Context, fn func() error) error {
	backoff := d.backoff
	for attempt := 0; attempt < d.attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == d.attempts-1 {
			return fmt.Errorf("retry failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
