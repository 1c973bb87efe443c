package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/riskengine/engine"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/risk"
	"github.com/rustyeddy/riskengine/stops"
	"github.com/rustyeddy/riskengine/strategies"
)

// ErrInconsistent wraps every validation failure.
var ErrInconsistent = errors.New("inconsistent configuration")

// Environment variables that override the config path and journal DSN.
const (
	EnvConfig     = "RISKENGINE_CONFIG"
	EnvJournalDSN = "RISKENGINE_JOURNAL_DSN"
)

// Config represents the complete engine configuration
type Config struct {
	Account     AccountConfig      `json:"account" yaml:"account"`
	Policy      PolicyConfig       `json:"policy" yaml:"policy"`
	Engine      EngineConfig       `json:"engine" yaml:"engine"`
	Strategies  []StrategyConfig   `json:"strategies" yaml:"strategies"`
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments"`
	Journal     JournalConfig      `json:"journal" yaml:"journal"`
	Metrics     MetricsConfig      `json:"metrics" yaml:"metrics"`
}

// AccountConfig seeds the simulated account
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// PolicyConfig contains the risk limits shared by all strategies
type PolicyConfig struct {
	RiskPerTrade              float64 `json:"risk_per_trade" yaml:"risk_per_trade"`
	MinLot                    float64 `json:"min_lot" yaml:"min_lot"`
	MaxLot                    float64 `json:"max_lot" yaml:"max_lot"`
	MarginCapPerTrade         float64 `json:"margin_cap_per_trade" yaml:"margin_cap_per_trade"`
	DailyLossLimit            float64 `json:"daily_loss_limit" yaml:"daily_loss_limit"`
	MaxConsecutiveLosses      int     `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	MinEntryInterval          string  `json:"min_entry_interval" yaml:"min_entry_interval"` // e.g. "5m"
	MaxPositionsPerInstrument int     `json:"max_positions_per_instrument" yaml:"max_positions_per_instrument"`
	MinFreeMarginRatio        float64 `json:"min_free_margin_ratio" yaml:"min_free_margin_ratio"`
}

// EngineConfig contains loop and filter settings
type EngineConfig struct {
	Interval       string      `json:"interval" yaml:"interval"`
	GatewayTimeout string      `json:"gateway_timeout" yaml:"gateway_timeout"`
	Timezone       string      `json:"timezone" yaml:"timezone"` // trading day boundary
	ATRPeriod      int         `json:"atr_period" yaml:"atr_period"`
	MaxSpread      float64     `json:"max_spread" yaml:"max_spread"` // price units, per-instrument default
	Trend          TrendConfig `json:"trend" yaml:"trend"`
}

// TrendConfig is the higher-timeframe filter
type TrendConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Timeframe  string `json:"timeframe" yaml:"timeframe"`
	FastPeriod int    `json:"fast_period" yaml:"fast_period"`
	SlowPeriod int    `json:"slow_period" yaml:"slow_period"`
}

// StrategyConfig binds a registered strategy to its budget and instruments
type StrategyConfig struct {
	Name            string             `json:"name" yaml:"name"`
	Allocation      float64            `json:"allocation" yaml:"allocation"`
	Timeframe       string             `json:"timeframe" yaml:"timeframe"`
	ATRPeriod       int                `json:"atr_period,omitempty" yaml:"atr_period,omitempty"`
	StopLossATR     float64            `json:"sl_atr" yaml:"sl_atr"`
	TakeProfitATR   float64            `json:"tp_atr" yaml:"tp_atr"`
	BreakEvenATR    float64            `json:"break_even_atr" yaml:"break_even_atr"`
	TrailingATR     float64            `json:"trailing_atr" yaml:"trailing_atr"`
	TrailingStepATR float64            `json:"trailing_step_atr" yaml:"trailing_step_atr"`
	Params          map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
	Instruments     []string           `json:"instruments" yaml:"instruments"`
}

// InstrumentConfig describes a symbol for the simulated venue and the spread gate
type InstrumentConfig struct {
	Symbol         string         `json:"symbol" yaml:"symbol"`
	Point          float64        `json:"point" yaml:"point"`
	Digits         int            `json:"digits" yaml:"digits"`
	ContractSize   float64        `json:"contract_size" yaml:"contract_size"`
	StopsLevel     int            `json:"stops_level" yaml:"stops_level"` // points
	VolumeStep     float64        `json:"volume_step" yaml:"volume_step"`
	VolumeMin      float64        `json:"volume_min" yaml:"volume_min"`
	VolumeMax      float64        `json:"volume_max" yaml:"volume_max"`
	MarginRate     float64        `json:"margin_rate" yaml:"margin_rate"`
	QuoteToAccount float64        `json:"quote_to_account,omitempty" yaml:"quote_to_account,omitempty"`
	TradeMode      string         `json:"trade_mode,omitempty" yaml:"trade_mode,omitempty"` // full, close_only, disabled
	MaxSpread      float64        `json:"max_spread,omitempty" yaml:"max_spread,omitempty"`
	SpreadPoints   float64        `json:"spread_points,omitempty" yaml:"spread_points,omitempty"` // simulated spread
	Session        *SessionConfig `json:"session,omitempty" yaml:"session,omitempty"`
}

// SessionConfig is a daily trading window, "HH:MM" in Timezone
type SessionConfig struct {
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

// JournalConfig selects the trade log, see journal.Open for the DSN forms
type JournalConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Load reads the file at path, or at $RISKENGINE_CONFIG when path is empty,
// and applies $RISKENGINE_JOURNAL_DSN. With neither set it returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if dsn := os.Getenv(EnvJournalDSN); dsn != "" {
		cfg.Journal.DSN = dsn
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconsistent, fmt.Sprintf(format, args...))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return inconsistent("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return inconsistent("account.balance must be positive")
	}

	pol, err := c.RiskPolicy()
	if err != nil {
		return err
	}
	if err := pol.Validate(); err != nil {
		return inconsistent("policy: %v", err)
	}
	if _, err := c.Location(); err != nil {
		return inconsistent("engine.timezone: %v", err)
	}
	for _, d := range []struct{ key, val string }{
		{"engine.interval", c.Engine.Interval},
		{"engine.gateway_timeout", c.Engine.GatewayTimeout},
	} {
		if _, err := parseDuration(d.val); err != nil {
			return inconsistent("%s: %v", d.key, err)
		}
	}
	if _, err := c.TrendFilter(); err != nil {
		return err
	}

	known := make(map[string]bool, len(c.Instruments))
	for _, ic := range c.Instruments {
		if ic.Symbol == "" {
			return inconsistent("instrument symbol is required")
		}
		if known[ic.Symbol] {
			return inconsistent("instrument %s listed twice", ic.Symbol)
		}
		known[ic.Symbol] = true
		if _, err := ic.Spec(); err != nil {
			return err
		}
		if ic.VolumeMax > 0 && ic.VolumeMax < pol.MinLot {
			return inconsistent("instrument %s: volume_max %v below policy.min_lot %v", ic.Symbol, ic.VolumeMax, pol.MinLot)
		}
	}

	if len(c.Strategies) == 0 {
		return inconsistent("at least one strategy is required")
	}
	total := 0.0
	names := make(map[string]bool, len(c.Strategies))
	for _, sc := range c.Strategies {
		if names[sc.Name] {
			return inconsistent("strategy %s listed twice", sc.Name)
		}
		names[sc.Name] = true
		if sc.Allocation <= 0 || sc.Allocation > 1 {
			return inconsistent("strategy %s: allocation must be in (0, 1]", sc.Name)
		}
		total += sc.Allocation
		if _, err := strategies.New(sc.Name, sc.Params); err != nil {
			return inconsistent("strategy %s: %v", sc.Name, err)
		}
		if _, err := market.Timeframe(sc.Timeframe).Seconds(); err != nil {
			return inconsistent("strategy %s: %v", sc.Name, err)
		}
		if sc.StopLossATR <= 0 || sc.TakeProfitATR <= 0 {
			return inconsistent("strategy %s: sl_atr and tp_atr must be positive", sc.Name)
		}
		if err := sc.StopParams().Validate(); err != nil {
			return inconsistent("strategy %s: %v", sc.Name, err)
		}
		if len(sc.Instruments) == 0 {
			return inconsistent("strategy %s: no instruments", sc.Name)
		}
		for _, sym := range sc.Instruments {
			if !known[sym] {
				return inconsistent("strategy %s: unknown instrument %s", sc.Name, sym)
			}
		}
	}
	if total > 1+1e-9 {
		return inconsistent("strategy allocations sum to %.4f, above 1", total)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// RiskPolicy converts the policy section.
func (c *Config) RiskPolicy() (risk.Policy, error) {
	p := c.Policy
	interval, err := parseDuration(p.MinEntryInterval)
	if err != nil {
		return risk.Policy{}, inconsistent("policy.min_entry_interval: %v", err)
	}
	return risk.Policy{
		RiskPerTrade:              p.RiskPerTrade,
		MinLot:                    p.MinLot,
		MaxLot:                    p.MaxLot,
		MarginCapPerTrade:         p.MarginCapPerTrade,
		DailyLossLimit:            p.DailyLossLimit,
		MaxConsecutiveLosses:      p.MaxConsecutiveLosses,
		MinEntryInterval:          interval,
		MaxPositionsPerInstrument: p.MaxPositionsPerInstrument,
		MinFreeMarginRatio:        p.MinFreeMarginRatio,
	}, nil
}

func (c *Config) Location() (*time.Location, error) {
	return market.ParseLocation(c.Engine.Timezone)
}

func (c *Config) TrendFilter() (risk.TrendFilter, error) {
	t := c.Engine.Trend
	f := risk.TrendFilter{
		Enabled:    t.Enabled,
		Timeframe:  market.Timeframe(t.Timeframe),
		FastPeriod: t.FastPeriod,
		SlowPeriod: t.SlowPeriod,
	}
	if !f.Enabled {
		return f, nil
	}
	if _, err := f.Timeframe.Seconds(); err != nil {
		return f, inconsistent("engine.trend: %v", err)
	}
	if f.FastPeriod <= 0 || f.SlowPeriod <= f.FastPeriod {
		return f, inconsistent("engine.trend: need 0 < fast_period < slow_period")
	}
	return f, nil
}

// Instrument looks up an instrument by symbol.
func (c *Config) Instrument(symbol string) (InstrumentConfig, bool) {
	for _, ic := range c.Instruments {
		if ic.Symbol == symbol {
			return ic, true
		}
	}
	return InstrumentConfig{}, false
}

func parseTradeMode(s string) (market.TradeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return market.TradeModeFull, nil
	case "close_only":
		return market.TradeModeCloseOnly, nil
	case "disabled":
		return market.TradeModeDisabled, nil
	}
	return 0, fmt.Errorf("unknown trade mode %q", s)
}

// Spec converts the instrument section to the venue contract description.
func (ic InstrumentConfig) Spec() (market.InstrumentSpec, error) {
	if ic.Point <= 0 || ic.ContractSize <= 0 || ic.VolumeStep <= 0 {
		return market.InstrumentSpec{}, inconsistent("instrument %s: point, contract_size and volume_step must be positive", ic.Symbol)
	}
	if ic.VolumeMin <= 0 || (ic.VolumeMax > 0 && ic.VolumeMax < ic.VolumeMin) {
		return market.InstrumentSpec{}, inconsistent("instrument %s: bad volume bounds [%v, %v]", ic.Symbol, ic.VolumeMin, ic.VolumeMax)
	}
	mode, err := parseTradeMode(ic.TradeMode)
	if err != nil {
		return market.InstrumentSpec{}, inconsistent("instrument %s: %v", ic.Symbol, err)
	}

	spec := market.InstrumentSpec{
		Name:           ic.Symbol,
		Point:          ic.Point,
		Digits:         ic.Digits,
		ContractSize:   ic.ContractSize,
		StopsLevel:     ic.StopsLevel,
		VolumeStep:     ic.VolumeStep,
		VolumeMin:      ic.VolumeMin,
		VolumeMax:      ic.VolumeMax,
		MarginRate:     ic.MarginRate,
		TradeMode:      mode,
		QuoteToAccount: ic.QuoteToAccount,
	}
	if spec.Digits == 0 {
		spec.Digits = int(math.Round(-math.Log10(ic.Point)))
	}
	if ic.Session != nil {
		if spec.Session, err = market.ParseSession(ic.Session.Start, ic.Session.End, ic.Session.Timezone); err != nil {
			return market.InstrumentSpec{}, inconsistent("instrument %s session: %v", ic.Symbol, err)
		}
	}
	return spec, nil
}

func (sc StrategyConfig) StopParams() stops.Params {
	return stops.Params{
		BreakEvenATR:    sc.BreakEvenATR,
		TrailingATR:     sc.TrailingATR,
		TrailingStepATR: sc.TrailingStepATR,
	}
}

// EngineConfig builds the engine configuration, one pair per strategy and
// instrument.
func (c *Config) EngineConfig() (engine.Config, error) {
	if err := c.Validate(); err != nil {
		return engine.Config{}, err
	}
	pol, _ := c.RiskPolicy()
	loc, _ := c.Location()
	trend, _ := c.TrendFilter()
	interval, _ := parseDuration(c.Engine.Interval)
	timeout, _ := parseDuration(c.Engine.GatewayTimeout)

	ec := engine.Config{
		Interval:       interval,
		GatewayTimeout: timeout,
		Location:       loc,
		ATRPeriod:      c.Engine.ATRPeriod,
		Policy:         pol,
		Trend:          trend,
	}
	for _, sc := range c.Strategies {
		for _, sym := range sc.Instruments {
			strat, err := strategies.New(sc.Name, sc.Params)
			if err != nil {
				return engine.Config{}, err
			}
			ic, _ := c.Instrument(sym)
			maxSpread := ic.MaxSpread
			if maxSpread == 0 {
				maxSpread = c.Engine.MaxSpread
			}
			ec.Pairs = append(ec.Pairs, engine.Pair{
				Strategy:      strat,
				Instrument:    sym,
				Timeframe:     market.Timeframe(sc.Timeframe),
				Allocation:    sc.Allocation,
				ATRPeriod:     sc.ATRPeriod,
				StopLossATR:   sc.StopLossATR,
				TakeProfitATR: sc.TakeProfitATR,
				Stops:         sc.StopParams(),
				MaxSpread:     maxSpread,
			})
		}
	}
	return ec, nil
}

func fxMajor(symbol string) InstrumentConfig {
	return InstrumentConfig{
		Symbol:       symbol,
		Point:        0.00001,
		Digits:       5,
		ContractSize: 100000,
		StopsLevel:   15,
		VolumeStep:   0.01,
		VolumeMin:    0.01,
		VolumeMax:    100,
		MarginRate:   0.01,
		SpreadPoints: 10,
	}
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USD",
			Balance:  10000,
		},
		Policy: PolicyConfig{
			RiskPerTrade:              0.02,
			MinLot:                    0.01,
			MaxLot:                    1.0,
			MarginCapPerTrade:         0.10,
			DailyLossLimit:            0.03,
			MaxConsecutiveLosses:      3,
			MinEntryInterval:          "5m",
			MaxPositionsPerInstrument: 1,
			MinFreeMarginRatio:        0.05,
		},
		Engine: EngineConfig{
			Interval:       "10s",
			GatewayTimeout: "5s",
			Timezone:       "UTC",
			ATRPeriod:      14,
			MaxSpread:      0.0005,
			Trend: TrendConfig{
				Enabled:    true,
				Timeframe:  "H4",
				FastPeriod: 10,
				SlowPeriod: 50,
			},
		},
		Strategies: []StrategyConfig{
			{
				Name: "ema-cross", Allocation: 0.4, Timeframe: "M5",
				StopLossATR: 2.0, TakeProfitATR: 3.0,
				BreakEvenATR: 1.0, TrailingATR: 2.0, TrailingStepATR: 0.5,
				Instruments: []string{"EURUSD", "GBPUSD"},
			},
			{
				Name: "vwap", Allocation: 0.2, Timeframe: "M5",
				StopLossATR: 1.5, TakeProfitATR: 2.5,
				BreakEvenATR: 1.0, TrailingATR: 1.5, TrailingStepATR: 0.5,
				Instruments: []string{"EURUSD"},
			},
			{
				Name: "cci-divergence", Allocation: 0.2, Timeframe: "M5",
				StopLossATR: 1.0, TakeProfitATR: 1.5,
				BreakEvenATR: 1.0, TrailingATR: 1.5, TrailingStepATR: 0.5,
				Instruments: []string{"USDRUB"},
			},
		},
		Instruments: []InstrumentConfig{
			fxMajor("EURUSD"),
			fxMajor("GBPUSD"),
			{
				Symbol:         "USDRUB",
				Point:          0.001,
				Digits:         3,
				ContractSize:   1000,
				StopsLevel:     50,
				VolumeStep:     0.01,
				VolumeMin:      0.01,
				VolumeMax:      100,
				MarginRate:     0.05,
				QuoteToAccount: 0.011,
				MaxSpread:      0.5,
				SpreadPoints:   50,
				Session:        &SessionConfig{Start: "07:00", End: "20:00", Timezone: "+03:00"},
			},
		},
		Journal: JournalConfig{
			DSN: "csv:./journal",
		},
	}
}
