package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Gates     GatesConfig     `yaml:"gates"`
	Zones     ZoneConfig      `yaml:"zones"`
	Score     ScoreConfig     `yaml:"score"`
	Entry     EntryConfig     `yaml:"entry"`
	Rolling   RollingConfig   `yaml:"rolling"`
	Defense   DefenseConfig   `yaml:"defense"`
	Hedge     HedgeConfig     `yaml:"hedge"`
	Audit     AuditConfig     `yaml:"audit"`
	State     StateConfig     `yaml:"state"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Feed      FeedConfig      `yaml:"feed"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// GatesConfig holds the five admission thresholds. Window bounds are seconds
// elapsed since the market window opened.
type GatesConfig struct {
	WindowDurationS float64 `yaml:"window_duration_s"`
	WindowStartS    float64 `yaml:"window_start_s"`
	WindowEndS      float64 `yaml:"window_end_s"`
	MinDepth        float64 `yaml:"min_depth"`
	MaxSpreadPct    float64 `yaml:"max_spread_pct"`
	MaxVolatility   float64 `yaml:"max_volatility"`
	BlockedRegime   string  `yaml:"blocked_regime"`
	MaxLatencyMS    float64 `yaml:"max_latency_ms"`
}

type ZoneConfig struct {
	Danger  float64 `yaml:"danger"`
	Caution float64 `yaml:"caution"`
	Safe    float64 `yaml:"safe"`
}

type ScoreConfig struct {
	Imbalance      float64 `yaml:"imbalance"`
	MicropriceEdge float64 `yaml:"microprice_edge"`
	ImbalanceDelta float64 `yaml:"imbalance_delta"`
	Momentum       float64 `yaml:"momentum"`
	Persistence    float64 `yaml:"persistence"`
	Volatility     float64 `yaml:"volatility"`
	Spread         float64 `yaml:"spread"`
	Impact         float64 `yaml:"impact"`
}

type EntryConfig struct {
	ForcedDisabled     bool     `yaml:"forced_disabled"`
	ForcedMinProb      float64  `yaml:"forced_min_prob"`
	ForcedMaxRemaining float64  `yaml:"forced_max_remaining_s"`
	ForcedMinRemaining float64  `yaml:"forced_min_remaining_s"`
	ForcedMinScore     float64  `yaml:"forced_min_score"`
	BlockedZones       []string `yaml:"blocked_zones"`
	BlockedRegimes     []string `yaml:"blocked_regimes"`
	ReversalBlock      float64  `yaml:"reversal_block"`
}

type RollingConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	MaxSamples    int           `yaml:"max_samples"`
	ImbalanceMA   int           `yaml:"imbalance_ma_periods"`
	MomentumTicks int           `yaml:"momentum_periods"`
}

// DefenseConfig drives the post-entry reversal engine. Windows are in
// seconds of tick time.
type DefenseConfig struct {
	VolShortWindowS    float64    `yaml:"vol_short_window_s"`
	VolLongWindowS     float64    `yaml:"vol_long_window_s"`
	ZVolWindowS        float64    `yaml:"z_vol_window_s"`
	VelocityWindowS    float64    `yaml:"velocity_window_s"`
	VelocitySmoothN    int        `yaml:"velocity_smooth_n"`
	ZVelocityWindowS   float64    `yaml:"z_velocity_window_s"`
	BookConfirmS       float64    `yaml:"book_confirm_s"`
	VacuumThresholdPct float64    `yaml:"vacuum_threshold_pct"`
	VacuumWindowS      float64    `yaml:"vacuum_window_s"`
	ZImbalanceWindowS  float64    `yaml:"z_imbalance_window_s"`
	TMinReversalS      float64    `yaml:"t_min_reversal_s"`
	PhaseEarlyS        float64    `yaml:"phase_early_s"`
	PhaseLateS         float64    `yaml:"phase_late_s"`
	RPIWindowS         float64    `yaml:"rpi_window_s"`
	RPIK               float64    `yaml:"rpi_k"`
	RPIMinThreshold    float64    `yaml:"rpi_min_threshold"`
	RPIWeights         RPIWeights `yaml:"rpi_weights"`
	AlertConfirmTicks  int        `yaml:"alert_confirm_ticks"`
	AlertCooldownS     float64    `yaml:"alert_cooldown_s"`
	AlertWindowSize    int        `yaml:"alert_window_size"`
	AlertMinHits       int        `yaml:"alert_min_hits"`
	PanicThreshold     float64    `yaml:"panic_threshold"`
	PanicAdverseMin    float64    `yaml:"panic_adverse_min"`
	DefenseExitS       float64    `yaml:"defense_exit_s"`
	ExitTimeFloorS     float64    `yaml:"exit_time_floor_s"`
	MaxPriceHistory    int        `yaml:"max_price_history"`
	MaxBookHistory     int        `yaml:"max_book_history"`
	HistoryMaxAgeS     float64    `yaml:"history_max_age_s"`
	ReversalMaxSpread  float64    `yaml:"reversal_max_spread"`
	WindowDurationS    float64    `yaml:"window_duration_s"`
}

type RPIWeights struct {
	Vol  float64 `yaml:"vol"`
	Dir  float64 `yaml:"dir"`
	Book float64 `yaml:"book"`
}

type HedgeConfig struct {
	MinHedge    float64 `yaml:"min_hedge"`
	MaxHedge    float64 `yaml:"max_hedge"`
	MinShares   int     `yaml:"min_shares"`
	CooldownS   float64 `yaml:"cooldown_s"`
	PanicMarkup float64 `yaml:"panic_markup"`
	MinPrice    float64 `yaml:"min_price"`
	MaxPrice    float64 `yaml:"max_price"`

	// PendingTimeoutS frees requested hedge shares that never fill. Negative
	// keeps them reserved until a fill or the end of the position.
	PendingTimeoutS float64 `yaml:"pending_timeout_s"`
}

type AuditConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	Prefix    string `yaml:"prefix"`
	QueueSize int    `yaml:"queue_size"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type TelegramConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Token    string        `yaml:"token"`
	ChatID   string        `yaml:"chat_id"`
	MinEvery time.Duration `yaml:"min_every"`
	Burst    int           `yaml:"burst"`
}

type FeedConfig struct {
	Kind           string        `yaml:"kind"`
	Path           string        `yaml:"path"`
	URL            string        `yaml:"url"`
	Subscribe      []string      `yaml:"subscribe"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	QueueSize      int           `yaml:"queue_size"`
}

type DispatchConfig struct {
	Kind      string   `yaml:"kind"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	QueueSize int      `yaml:"queue_size"`
}

const (
	FeedFile      = "file"
	FeedWebsocket = "ws"

	DispatchLog   = "log"
	DispatchKafka = "kafka"
)

var ErrConfigPath = errors.New("config path is required")

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// Default returns a fully defaulted configuration with every optional
// surface disabled.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	applyGateDefaults(&cfg.Gates)
	if cfg.Zones.Danger == 0 {
		cfg.Zones.Danger = 0.02
	}
	if cfg.Zones.Caution == 0 {
		cfg.Zones.Caution = 0.05
	}
	if cfg.Zones.Safe == 0 {
		cfg.Zones.Safe = 0.15
	}
	if cfg.Score == (ScoreConfig{}) {
		cfg.Score = DefaultScoreWeights()
	}
	applyEntryDefaults(&cfg.Entry)
	if cfg.Rolling.MaxAge == 0 {
		cfg.Rolling.MaxAge = 300 * time.Second
	}
	if cfg.Rolling.MaxSamples == 0 {
		cfg.Rolling.MaxSamples = 300
	}
	if cfg.Rolling.ImbalanceMA == 0 {
		cfg.Rolling.ImbalanceMA = 30
	}
	if cfg.Rolling.MomentumTicks == 0 {
		cfg.Rolling.MomentumTicks = 60
	}
	applyDefenseDefaults(&cfg.Defense)
	applyHedgeDefaults(&cfg.Hedge)
	if cfg.Audit.Dir == "" {
		cfg.Audit.Dir = "logs"
	}
	if cfg.Audit.Prefix == "" {
		cfg.Audit.Prefix = "post_defense"
	}
	if cfg.Audit.QueueSize == 0 {
		cfg.Audit.QueueSize = 1024
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/bookpoly.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9102"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.MinEvery == 0 {
		cfg.Telegram.MinEvery = 3 * time.Second
	}
	if cfg.Telegram.Burst == 0 {
		cfg.Telegram.Burst = 3
	}
	if cfg.Feed.Kind == "" {
		cfg.Feed.Kind = FeedFile
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.Feed.QueueSize == 0 {
		cfg.Feed.QueueSize = 256
	}
	if cfg.Dispatch.Kind == "" {
		cfg.Dispatch.Kind = DispatchLog
	}
	if cfg.Dispatch.Topic == "" {
		cfg.Dispatch.Topic = "bookpoly.intents"
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = 64
	}
}

func applyGateDefaults(g *GatesConfig) {
	if g.WindowDurationS == 0 {
		g.WindowDurationS = 900
	}
	if g.WindowStartS == 0 {
		g.WindowStartS = 660
	}
	if g.WindowEndS == 0 {
		g.WindowEndS = 870
	}
	if g.MinDepth == 0 {
		g.MinDepth = 300
	}
	if g.MaxSpreadPct == 0 {
		g.MaxSpreadPct = 0.10
	}
	if g.MaxVolatility == 0 {
		g.MaxVolatility = 1.50
	}
	if g.BlockedRegime == "" {
		g.BlockedRegime = "muito_alta"
	}
	if g.MaxLatencyMS == 0 {
		g.MaxLatencyMS = 500
	}
}

func DefaultScoreWeights() ScoreConfig {
	return ScoreConfig{
		Imbalance:      0.25,
		MicropriceEdge: 0.15,
		ImbalanceDelta: 0.10,
		Momentum:       0.10,
		Persistence:    0.05,
		Volatility:     -0.20,
		Spread:         -0.10,
		Impact:         -0.05,
	}
}

func applyEntryDefaults(e *EntryConfig) {
	if e.ForcedMinProb == 0 {
		e.ForcedMinProb = 0.95
	}
	if e.ForcedMaxRemaining == 0 {
		e.ForcedMaxRemaining = 240
	}
	if e.ForcedMinRemaining == 0 {
		e.ForcedMinRemaining = 30
	}
	if e.ForcedMinScore == 0 {
		e.ForcedMinScore = 0.35
	}
	if e.BlockedZones == nil {
		e.BlockedZones = []string{"danger"}
	}
	if e.BlockedRegimes == nil {
		e.BlockedRegimes = []string{"muito_alta"}
	}
	if e.ReversalBlock == 0 {
		e.ReversalBlock = 0.70
	}
}

func applyDefenseDefaults(d *DefenseConfig) {
	setFloat(&d.VolShortWindowS, 10)
	setFloat(&d.VolLongWindowS, 60)
	setFloat(&d.ZVolWindowS, 120)
	setFloat(&d.VelocityWindowS, 5)
	setInt(&d.VelocitySmoothN, 3)
	setFloat(&d.ZVelocityWindowS, 60)
	setFloat(&d.BookConfirmS, 5)
	setFloat(&d.VacuumThresholdPct, 0.50)
	setFloat(&d.VacuumWindowS, 10)
	setFloat(&d.ZImbalanceWindowS, 60)
	setFloat(&d.TMinReversalS, 240)
	setFloat(&d.PhaseEarlyS, 360)
	setFloat(&d.PhaseLateS, 180)
	setFloat(&d.RPIWindowS, 60)
	setFloat(&d.RPIK, 1.5)
	setFloat(&d.RPIMinThreshold, 0.5)
	if d.RPIWeights == (RPIWeights{}) {
		d.RPIWeights = RPIWeights{Vol: 0.40, Dir: 0.35, Book: 0.25}
	}
	setInt(&d.AlertConfirmTicks, 3)
	setFloat(&d.AlertCooldownS, 5)
	setFloat(&d.PanicThreshold, 0.70)
	setFloat(&d.PanicAdverseMin, 0.02)
	setFloat(&d.DefenseExitS, 10)
	setFloat(&d.ExitTimeFloorS, 60)
	setInt(&d.MaxPriceHistory, 300)
	setInt(&d.MaxBookHistory, 120)
	setFloat(&d.HistoryMaxAgeS, 300)
	setFloat(&d.ReversalMaxSpread, 0.05)
	setFloat(&d.WindowDurationS, 900)
}

func applyHedgeDefaults(h *HedgeConfig) {
	setFloat(&h.MinHedge, 0.20)
	setFloat(&h.MaxHedge, 0.80)
	setInt(&h.MinShares, 5)
	setFloat(&h.CooldownS, 10)
	setFloat(&h.PanicMarkup, 0.01)
	setFloat(&h.MinPrice, 0.01)
	setFloat(&h.MaxPrice, 0.99)
	setFloat(&h.PendingTimeoutS, 60)
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramChatID)); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTimescaleDSN)); v != "" {
		cfg.Timescale.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvKafkaBrokers)); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Dispatch.Brokers = brokers
	}
}

func validate(cfg *Config) error {
	g := cfg.Gates
	if g.WindowStartS < 0 || g.WindowEndS < g.WindowStartS {
		return errors.New("gates.window_start_s must be >= 0 and <= gates.window_end_s")
	}
	if g.WindowEndS > g.WindowDurationS {
		return errors.New("gates.window_end_s exceeds gates.window_duration_s")
	}
	if cfg.Zones.Danger >= cfg.Zones.Caution || cfg.Zones.Caution >= cfg.Zones.Safe {
		return errors.New("zones must satisfy danger < caution < safe")
	}
	e := cfg.Entry
	if e.ForcedMinProb <= 0.5 || e.ForcedMinProb >= 1 {
		return errors.New("entry.forced_min_prob must be in (0.5, 1)")
	}
	if e.ForcedMinRemaining > e.ForcedMaxRemaining {
		return errors.New("entry.forced_min_remaining_s exceeds entry.forced_max_remaining_s")
	}
	d := cfg.Defense
	for name, v := range map[string]float64{
		"vol_short_window_s":  d.VolShortWindowS,
		"vol_long_window_s":   d.VolLongWindowS,
		"z_vol_window_s":      d.ZVolWindowS,
		"velocity_window_s":   d.VelocityWindowS,
		"z_velocity_window_s": d.ZVelocityWindowS,
		"rpi_window_s":        d.RPIWindowS,
	} {
		if v < 0 {
			return fmt.Errorf("defense.%s must be >= 0", name)
		}
	}
	w := d.RPIWeights
	if w.Vol < 0 || w.Dir < 0 || w.Book < 0 {
		return errors.New("defense.rpi_weights must be non-negative")
	}
	if sum := w.Vol + w.Dir + w.Book; math.Abs(sum-1) > 0.01 {
		return fmt.Errorf("defense.rpi_weights must sum to 1, got %.4f", sum)
	}
	if d.RPIMinThreshold <= 0 {
		return errors.New("defense.rpi_min_threshold must be > 0")
	}
	if d.PanicThreshold <= 0 || d.PanicThreshold > 1 {
		return errors.New("defense.panic_threshold must be in (0, 1]")
	}
	if d.AlertConfirmTicks < 1 {
		return errors.New("defense.alert_confirm_ticks must be >= 1")
	}
	h := cfg.Hedge
	if h.MinHedge < 0 || h.MaxHedge > 1 || h.MinHedge > h.MaxHedge {
		return errors.New("hedge fractions must satisfy 0 <= min_hedge <= max_hedge <= 1")
	}
	if h.MinPrice <= 0 || h.MaxPrice >= 1 || h.MinPrice > h.MaxPrice {
		return errors.New("hedge price bounds must satisfy 0 < min_price <= max_price < 1")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	switch cfg.Feed.Kind {
	case FeedFile, FeedWebsocket:
	default:
		return fmt.Errorf("feed.kind %q is not supported", cfg.Feed.Kind)
	}
	switch cfg.Dispatch.Kind {
	case DispatchLog:
	case DispatchKafka:
		if len(cfg.Dispatch.Brokers) == 0 {
			return errors.New("dispatch.brokers is required for kafka dispatch")
		}
	default:
		return fmt.Errorf("dispatch.kind %q is not supported", cfg.Dispatch.Kind)
	}
	return nil
}

// Warnings reports options that are accepted but have no effect.
func Warnings(cfg *Config) []string {
	var out []string
	if cfg.Defense.AlertWindowSize != 0 {
		out = append(out, "defense.alert_window_size is ignored; ALERT confirmation uses alert_confirm_ticks consecutive ticks")
	}
	if cfg.Defense.AlertMinHits != 0 {
		out = append(out, "defense.alert_min_hits is ignored; ALERT confirmation uses alert_confirm_ticks consecutive ticks")
	}
	return out
}
