// Package audit appends one JSON line per record to daily files. Each run
// writes one stream per instrument, named
// <prefix>_<instrument>_<YYYY-MM-DD>_<run-id>.jsonl, so the lines of a file
// keep the order in which that instrument produced them.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bookpoly/internal/config"
	"bookpoly/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dayLayout = "2006-01-02"

type line struct {
	stream string
	day    string
	data   []byte
}

type stream struct {
	file *os.File
	day  string
}

type Writer struct {
	dir    string
	prefix string
	runID  string
	log    *zap.Logger
	m      *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	queue   chan line
	started atomic.Bool
	dropped atomic.Uint64
	done    chan struct{}

	streams map[string]*stream
}

// New returns nil when auditing is disabled. An empty runID gets a random one.
func New(cfg config.AuditConfig, runID string, log *zap.Logger, m *metrics.Metrics) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("audit dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	if log == nil {
		log = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Writer{
		dir:    dir,
		prefix: cfg.Prefix,
		runID:  runID,
		log:    log,
		m:      metrics.OrNoop(m),
		queue:   make(chan line, queueSize),
		done:    make(chan struct{}),
		streams: make(map[string]*stream),
	}, nil
}

func (w *Writer) RunID() string {
	if w == nil {
		return ""
	}
	return w.runID
}

// Start drains the queue in the background until Close.
func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

// Write serialises record and queues it for the instrument's file of the UTC
// day of at (unix seconds). It never blocks; a full queue drops the record.
func (w *Writer) Write(instrument string, at float64, record any) {
	if w == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		w.m.AuditWriteFailed.Inc()
		w.log.Warn("audit marshal failed", zap.Error(err))
		return
	}
	day := time.UnixMilli(int64(at * 1000)).UTC().Format(dayLayout)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- line{stream: instrument, day: day, data: data}:
	default:
		w.m.AuditDropped.Inc()
		if w.dropped.Add(1) == 1 {
			w.log.Warn("audit queue full")
		}
	}
}

// Close stops accepting records, writes what is queued and closes the file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	if w.started.Load() {
		<-w.done
	} else {
		for l := range w.queue {
			w.append(l)
		}
	}
	var firstErr error
	for name, st := range w.streams {
		if err := st.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.streams, name)
	}
	return firstErr
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			// Close still drains: keep reading until the queue is closed.
			for l := range w.queue {
				w.append(l)
			}
			return
		case l, ok := <-w.queue:
			if !ok {
				return
			}
			w.append(l)
		}
	}
}

func (w *Writer) append(l line) {
	st, err := w.rotate(l.stream, l.day)
	if err != nil {
		w.m.AuditWriteFailed.Inc()
		w.log.Warn("audit file open failed", zap.String("instrument", l.stream), zap.String("day", l.day), zap.Error(err))
		return
	}
	if _, err := st.file.Write(append(l.data, '\n')); err != nil {
		w.m.AuditWriteFailed.Inc()
		w.log.Warn("audit write failed", zap.Error(err))
	}
}

func (w *Writer) rotate(instrument, day string) (*stream, error) {
	st := w.streams[instrument]
	if st != nil && st.day == day {
		return st, nil
	}
	if st != nil {
		if err := st.file.Close(); err != nil {
			w.log.Warn("audit file close failed", zap.String("instrument", instrument), zap.Error(err))
		}
		delete(w.streams, instrument)
	}
	f, err := os.OpenFile(w.Path(instrument, day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st = &stream{file: f, day: day}
	w.streams[instrument] = st
	return st, nil
}

// Path is the file that records of instrument on day are written to. An
// empty instrument writes the run-wide file.
func (w *Writer) Path(instrument, day string) string {
	name := fmt.Sprintf("%s_%s.jsonl", day, w.runID)
	if instrument != "" {
		name = fileSafe(instrument) + "_" + name
	}
	if w.prefix != "" {
		name = w.prefix + "_" + name
	}
	return filepath.Join(w.dir, name)
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, s)
}
