package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"bookpoly/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// TickRow is the queryable subset of one audit record.
type TickRow struct {
	Time            time.Time
	Instrument      string
	Mid             float64
	SecondsToExpiry int
	Score           float64
	Action          string
	Phase           string
	RPI             float64
	RPIThreshold    float64
	Severity        float64
	VolShort        float64
	ZVol            float64
	Velocity        float64
	AdverseMove     *float64
	Imbalance       *float64
}

type TransitionRow struct {
	Time       time.Time
	Instrument string
	From       string
	To         string
	Reason     string
	Severity   float64
}

type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	ticks       chan TickRow
	transitions chan TransitionRow
	started     atomic.Bool
	dropTick    atomic.Uint64
	dropTrans   atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("timescale ping: %w", err)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := newWriter(db, log, schema, queueSize)
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func newWriter(db *sql.DB, log *zap.Logger, schema string, queueSize int) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:          db,
		log:         log,
		schema:      schema,
		ticks:       make(chan TickRow, queueSize),
		transitions: make(chan TransitionRow, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTick(row TickRow) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- row:
	default:
		if w.dropTick.Add(1) == 1 {
			w.log.Warn("timescale tick queue full")
		}
	}
}

func (w *Writer) EnqueueTransition(row TransitionRow) {
	if w == nil {
		return
	}
	select {
	case w.transitions <- row:
	default:
		if w.dropTrans.Add(1) == 1 {
			w.log.Warn("timescale transition queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.ticks:
			w.writeTick(ctx, row)
		case row := <-w.transitions:
			w.writeTransition(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		mid DOUBLE PRECISION NOT NULL,
		seconds_to_expiry INTEGER NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		action TEXT NOT NULL,
		phase TEXT NOT NULL,
		rpi DOUBLE PRECISION NOT NULL,
		rpi_threshold DOUBLE PRECISION NOT NULL,
		severity DOUBLE PRECISION NOT NULL,
		vol_short DOUBLE PRECISION NOT NULL,
		z_vol DOUBLE PRECISION NOT NULL,
		velocity DOUBLE PRECISION NOT NULL,
		adverse_move DOUBLE PRECISION,
		imbalance DOUBLE PRECISION
	)`, w.table("tick_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		from_phase TEXT NOT NULL,
		to_phase TEXT NOT NULL,
		reason TEXT NOT NULL,
		severity DOUBLE PRECISION NOT NULL
	)`, w.table("phase_transitions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"tick_snapshots", "phase_transitions"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeTick(ctx context.Context, row TickRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, mid, seconds_to_expiry, score, action, phase, rpi, rpi_threshold,
		severity, vol_short, z_vol, velocity, adverse_move, imbalance
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	)`, w.table("tick_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.Instrument,
		row.Mid,
		row.SecondsToExpiry,
		row.Score,
		row.Action,
		row.Phase,
		row.RPI,
		row.RPIThreshold,
		row.Severity,
		row.VolShort,
		row.ZVol,
		row.Velocity,
		nullFloat(row.AdverseMove),
		nullFloat(row.Imbalance),
	); err != nil {
		w.log.Warn("timescale tick insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTransition(ctx context.Context, row TransitionRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, from_phase, to_phase, reason, severity
	) VALUES ($1,$2,$3,$4,$5,$6)`, w.table("phase_transitions"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.Instrument,
		row.From,
		row.To,
		row.Reason,
		row.Severity,
	); err != nil {
		w.log.Warn("timescale transition insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
