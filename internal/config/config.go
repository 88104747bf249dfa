// Package config loads and validates the trading configuration. Trading
// parameters, risk limits and instrument metadata come from a YAML file;
// broker and notification secrets come from the environment (.env), so the
// YAML file can be committed without leaking credentials.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Modes the engine can run in.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Brokers the gateway layer knows how to build.
const (
	BrokerBreeze = "breeze"
	BrokerKite   = "kite"
	BrokerPaper  = "paper"
)

type Config struct {
	Mode         string        `yaml:"mode"`
	Broker       string        `yaml:"broker"`
	Symbols      []string      `yaml:"symbols"`
	Strategy     string        `yaml:"strategy"`
	PollInterval time.Duration `yaml:"poll_interval"`

	Trading     TradingConfig     `yaml:"trading"`
	Risk        RiskConfig        `yaml:"risk"`
	MarketHours HoursConfig       `yaml:"market_hours"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Brokers     BrokersConfig     `yaml:"brokers"`
	Journal     JournalConfig     `yaml:"journal"`
	DB          DBConfig          `yaml:"db"`
	Log         LogConfig         `yaml:"log"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Notify      NotifyConfig      `yaml:"notifications"`
	Rules       RulesConfig       `yaml:"rules"`
}

// TradingConfig holds sizing and engine guard parameters. Fractions are in
// [0, 1] of capital.
type TradingConfig struct {
	InitialCapital    float64 `yaml:"initial_capital"`
	RiskPerTrade      float64 `yaml:"risk_per_trade"`
	MaxPositionPct    float64 `yaml:"max_position_size"`
	MinUnits          int     `yaml:"min_units"`
	MaxTradesPerDay   int     `yaml:"max_trades_per_day"`
	MaxOpenPositions  int     `yaml:"max_open_positions"`
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	TargetPct         float64 `yaml:"target_pct"`
	SlippagePct       float64 `yaml:"slippage_pct"`
	CommissionPct     float64 `yaml:"commission_pct"`
	AllowCapitalFloor bool    `yaml:"allow_capital_floor"`
	MinConfidence     float64 `yaml:"min_confidence"`
}

// RiskConfig mirrors the risk manager's limits.
type RiskConfig struct {
	DailyLossPct      float64 `yaml:"daily_loss_pct"`
	PositionRiskPct   float64 `yaml:"position_risk_pct"`
	MaxNotionalPct    float64 `yaml:"max_notional_pct"`
	MaxSectorPct      float64 `yaml:"max_sector_exposure"`
	MaxCorrelationPct float64 `yaml:"max_correlation_exposure"`
	MaxVolatility     float64 `yaml:"max_volatility"`
	DefaultVolatility float64 `yaml:"default_volatility"`
	MaxDrawdown       float64 `yaml:"max_drawdown"`
	MaxPositions      int     `yaml:"max_positions"`
	CloseOnEmergency  bool    `yaml:"close_on_emergency"`
}

type HoursConfig struct {
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`
	Close    string `yaml:"close"`
	Ignore   bool   `yaml:"ignore"`
}

// Substitute names the tradable proxy for an index symbol.
type Substitute struct {
	Symbol   string `yaml:"symbol"`
	Exchange string `yaml:"exchange"`
}

// InstrumentsConfig is per-symbol metadata: which symbols are indices, the
// explicit index substitution table, lot sizes, sector membership and
// volatility overrides.
type InstrumentsConfig struct {
	Indices       []string              `yaml:"indices"`
	Substitutions map[string]Substitute `yaml:"substitutions"`
	LotSizes      map[string]int        `yaml:"lot_sizes"`
	Sectors       map[string]string     `yaml:"sectors"`
	Volatility    map[string]float64    `yaml:"volatility"`
	StrikeStep    map[string]float64    `yaml:"strike_step"`
}

type BrokersConfig struct {
	BreezeBaseURL    string        `yaml:"breeze_base_url"`
	KiteBaseURL      string        `yaml:"kite_base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	FailureThreshold int           `yaml:"failure_threshold"`
	QuoteFallbackURL string        `yaml:"quote_fallback_url"`
	MinCapital       float64       `yaml:"min_capital"`
}

type JournalConfig struct {
	TradeLogPath    string `yaml:"trade_log"`
	SignalLogPath   string `yaml:"signal_log"`
	StatePath       string `yaml:"state_file"`
	MarginCachePath string `yaml:"margin_cache"`
	LeaderboardPath string `yaml:"leaderboard"`
}

type DBConfig struct {
	ConnStr string `yaml:"conn_str"`
	MaxOpen int    `yaml:"max_open"`
	MaxIdle int    `yaml:"max_idle"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type TelemetryConfig struct {
	Addr string `yaml:"addr"`
}

type NotifyConfig struct {
	TelegramEnabled bool          `yaml:"telegram_enabled"`
	EmailEnabled    bool          `yaml:"email_enabled"`
	Retries         int           `yaml:"retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// RulesConfig points at YAML rule files for the rule strategy.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML file at path, applies defaults, and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a runnable paper-mode configuration, used when no config
// file is given.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModePaper
	}
	if c.Broker == "" {
		if c.Mode == ModePaper {
			c.Broker = BrokerPaper
		} else {
			c.Broker = BrokerBreeze
		}
	}
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"SENSEX"}
	}
	if c.Strategy == "" {
		c.Strategy = "price-change"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}

	t := &c.Trading
	if t.InitialCapital <= 0 {
		t.InitialCapital = 100000
	}
	if t.RiskPerTrade <= 0 {
		t.RiskPerTrade = 0.02
	}
	if t.MaxPositionPct <= 0 {
		t.MaxPositionPct = 0.10
	}
	if t.MinUnits <= 0 {
		t.MinUnits = 1
	}
	if t.MaxTradesPerDay <= 0 {
		t.MaxTradesPerDay = 5
	}
	if t.MaxOpenPositions <= 0 {
		t.MaxOpenPositions = 3
	}
	if t.StopLossPct <= 0 {
		t.StopLossPct = 0.03
	}
	if t.TargetPct <= 0 {
		t.TargetPct = 0.08
	}
	if t.MinConfidence <= 0 {
		t.MinConfidence = 0.7
	}

	r := &c.Risk
	if r.DailyLossPct <= 0 {
		r.DailyLossPct = 0.05
	}
	if r.PositionRiskPct <= 0 {
		r.PositionRiskPct = 0.02
	}
	if r.MaxNotionalPct <= 0 {
		r.MaxNotionalPct = 0.30
	}
	if r.MaxSectorPct <= 0 {
		r.MaxSectorPct = 0.40
	}
	if r.MaxCorrelationPct <= 0 {
		r.MaxCorrelationPct = 0.60
	}
	if r.MaxVolatility <= 0 {
		r.MaxVolatility = 0.05
	}
	if r.DefaultVolatility <= 0 {
		r.DefaultVolatility = 0.02
	}
	if r.MaxDrawdown <= 0 {
		r.MaxDrawdown = 0.20
	}
	if r.MaxPositions <= 0 {
		r.MaxPositions = 5
	}

	h := &c.MarketHours
	if h.Timezone == "" {
		h.Timezone = "Asia/Kolkata"
	}
	if h.Open == "" {
		h.Open = "09:15"
	}
	if h.Close == "" {
		h.Close = "15:30"
	}

	b := &c.Brokers
	if b.BreezeBaseURL == "" {
		b.BreezeBaseURL = "https://api.icicidirect.com/breezeapi/api/v1"
	}
	if b.KiteBaseURL == "" {
		b.KiteBaseURL = "https://api.kite.trade"
	}
	if b.Timeout <= 0 {
		b.Timeout = 10 * time.Second
	}
	if b.RetryAttempts <= 0 {
		b.RetryAttempts = 3
	}
	if b.RetryDelay <= 0 {
		b.RetryDelay = 2 * time.Second
	}
	if b.FailureThreshold <= 0 {
		b.FailureThreshold = 3
	}
	if b.MinCapital <= 0 {
		b.MinCapital = c.Trading.InitialCapital
	}

	j := &c.Journal
	if j.TradeLogPath == "" {
		j.TradeLogPath = "trade_log.csv"
	}
	if j.SignalLogPath == "" {
		j.SignalLogPath = "signal_log.csv"
	}
	if j.StatePath == "" {
		j.StatePath = "engine_state.json"
	}
	if j.MarginCachePath == "" {
		j.MarginCachePath = "margin_cache.json"
	}

	if c.DB.MaxOpen <= 0 {
		c.DB.MaxOpen = 10
	}
	if c.DB.MaxIdle <= 0 {
		c.DB.MaxIdle = 5
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = "logs/trader.log"
	}

	n := &c.Notify
	if n.Retries <= 0 {
		n.Retries = 3
	}
	if n.RetryDelay <= 0 {
		n.RetryDelay = 5 * time.Second
	}
}

// Validate rejects configurations the engine cannot run safely with. Error
// messages name the offending field so misconfigured deployments fail fast.
func (c *Config) Validate() error {
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return fmt.Errorf("Critical config missing: mode must be %q or %q, got %q", ModePaper, ModeLive, c.Mode)
	}
	switch c.Broker {
	case BrokerBreeze, BrokerKite, BrokerPaper:
	default:
		return fmt.Errorf("Critical config missing: unknown broker %q", c.Broker)
	}
	if c.Mode == ModeLive && c.Broker == BrokerPaper {
		return fmt.Errorf("Critical config missing: live mode requires broker %q or %q", BrokerBreeze, BrokerKite)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("Critical config missing: symbols")
	}
	for _, frac := range []struct {
		name  string
		value float64
	}{
		{"trading.risk_per_trade", c.Trading.RiskPerTrade},
		{"trading.max_position_size", c.Trading.MaxPositionPct},
		{"risk.daily_loss_pct", c.Risk.DailyLossPct},
		{"risk.position_risk_pct", c.Risk.PositionRiskPct},
		{"risk.max_sector_exposure", c.Risk.MaxSectorPct},
		{"risk.max_correlation_exposure", c.Risk.MaxCorrelationPct},
	} {
		if frac.value <= 0 || frac.value > 1 {
			return fmt.Errorf("invalid config: %s must be in (0, 1], got %v", frac.name, frac.value)
		}
	}
	if c.Trading.StopLossPct >= c.Trading.TargetPct {
		return fmt.Errorf("invalid config: trading.stop_loss_pct (%v) must be below trading.target_pct (%v)",
			c.Trading.StopLossPct, c.Trading.TargetPct)
	}
	for _, idx := range c.Instruments.Indices {
		if sub, ok := c.Instruments.Substitutions[idx]; ok && sub.Symbol == "" {
			return fmt.Errorf("invalid config: substitution for %s has empty symbol", idx)
		}
	}
	return nil
}

// LotSize returns the lot multiple for symbol, defaulting to 1 for cash
// instruments with no configured lot.
func (c *Config) LotSize(symbol string) int {
	if n, ok := c.Instruments.LotSizes[strings.ToUpper(symbol)]; ok && n > 0 {
		return n
	}
	return 1
}

// Sector returns the configured sector for symbol, or "Unknown".
func (c *Config) Sector(symbol string) string {
	if s, ok := c.Instruments.Sectors[strings.ToUpper(symbol)]; ok {
		return s
	}
	return "Unknown"
}

// IsIndex reports whether symbol is configured as a non-tradable index.
func (c *Config) IsIndex(symbol string) bool {
	up := strings.ToUpper(symbol)
	for _, idx := range c.Instruments.Indices {
		if strings.ToUpper(idx) == up {
			return true
		}
	}
	return false
}
