package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskengine/market"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, "USD", cfg.Account.Currency)
	assert.Equal(t, 10000.0, cfg.Account.Balance)
	assert.Equal(t, 0.02, cfg.Policy.RiskPerTrade)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing currency",
			mutate:  func(c *Config) { c.Account.Currency = "" },
			wantErr: true,
			errMsg:  "account.currency is required",
		},
		{
			name:    "negative balance",
			mutate:  func(c *Config) { c.Account.Balance = -1000 },
			wantErr: true,
			errMsg:  "account.balance must be positive",
		},
		{
			name:    "risk per trade above one",
			mutate:  func(c *Config) { c.Policy.RiskPerTrade = 1.5 },
			wantErr: true,
			errMsg:  "policy",
		},
		{
			name:    "bad entry interval",
			mutate:  func(c *Config) { c.Policy.MinEntryInterval = "soon" },
			wantErr: true,
			errMsg:  "policy.min_entry_interval",
		},
		{
			name:    "over allocated",
			mutate:  func(c *Config) { c.Strategies[0].Allocation = 0.9 },
			wantErr: true,
			errMsg:  "allocations sum",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Strategies[0].Name = "martingale" },
			wantErr: true,
			errMsg:  "unknown strategy",
		},
		{
			name:    "unknown instrument",
			mutate:  func(c *Config) { c.Strategies[0].Instruments = []string{"XAUUSD"} },
			wantErr: true,
			errMsg:  "unknown instrument XAUUSD",
		},
		{
			name:    "bad timeframe",
			mutate:  func(c *Config) { c.Strategies[1].Timeframe = "M7" },
			wantErr: true,
			errMsg:  "unsupported timeframe",
		},
		{
			name:    "trailing step too large",
			mutate:  func(c *Config) { c.Strategies[0].TrailingStepATR = 3 },
			wantErr: true,
			errMsg:  "trailing_atr",
		},
		{
			name:    "zero stop multiplier",
			mutate:  func(c *Config) { c.Strategies[2].StopLossATR = 0 },
			wantErr: true,
			errMsg:  "sl_atr and tp_atr must be positive",
		},
		{
			name:    "trend periods inverted",
			mutate:  func(c *Config) { c.Engine.Trend.FastPeriod = 60 },
			wantErr: true,
			errMsg:  "engine.trend",
		},
		{
			name:   "trend disabled ignores periods",
			mutate: func(c *Config) { c.Engine.Trend = TrendConfig{} },
		},
		{
			name:    "bad session",
			mutate:  func(c *Config) { c.Instruments[2].Session.Start = "7am" },
			wantErr: true,
			errMsg:  "session",
		},
		{
			name:    "bad trade mode",
			mutate:  func(c *Config) { c.Instruments[0].TradeMode = "sometimes" },
			wantErr: true,
			errMsg:  "unknown trade mode",
		},
		{
			name:    "duplicate instrument",
			mutate:  func(c *Config) { c.Instruments = append(c.Instruments, fxMajor("EURUSD")) },
			wantErr: true,
			errMsg:  "listed twice",
		},
		{
			name:    "volume max below min lot",
			mutate:  func(c *Config) { c.Instruments[1].VolumeMin, c.Instruments[1].VolumeMax = 0.001, 0.005 },
			wantErr: true,
			errMsg:  "volume_max 0.005 below policy.min_lot",
		},
		{
			name:    "no strategies",
			mutate:  func(c *Config) { c.Strategies = nil },
			wantErr: true,
			errMsg:  "at least one strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInconsistent))
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Strategies[0].Params = map[string]float64{"fast": 12, "slow": 26}
			path := filepath.Join(tmpDir, "test"+tt.ext)

			require.NoError(t, cfg.SaveToFile(path))
			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("account: [unclosed"), 0644))
	_, err = LoadFromFile(garbage)
	assert.ErrorContains(t, err, "parse config")

	invalid := filepath.Join(dir, "invalid.yaml")
	cfg := Default()
	cfg.Account.Balance = 0
	require.NoError(t, cfg.SaveToFile(invalid))
	_, err = LoadFromFile(invalid)
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, Default().SaveToFile(path))

	t.Setenv(EnvConfig, path)
	t.Setenv(EnvJournalDSN, "sqlite:/tmp/journal.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite:/tmp/journal.db", cfg.Journal.DSN)

	t.Setenv(EnvConfig, "")
	t.Setenv(EnvJournalDSN, "")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	ec, err := cfg.EngineConfig()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, ec.Interval)
	assert.Equal(t, 5*time.Second, ec.GatewayTimeout)
	assert.Equal(t, 5*time.Minute, ec.Policy.MinEntryInterval)
	assert.Equal(t, market.H4, ec.Trend.Timeframe)
	require.Len(t, ec.Pairs, 4)

	keys := make([]string, len(ec.Pairs))
	for i, p := range ec.Pairs {
		keys[i] = p.Key()
	}
	assert.Equal(t, []string{"ema-cross/EURUSD", "ema-cross/GBPUSD", "vwap/EURUSD", "cci-divergence/USDRUB"}, keys)

	// instrument threshold wins over the engine default
	assert.Equal(t, 0.0005, ec.Pairs[0].MaxSpread)
	assert.Equal(t, 0.5, ec.Pairs[3].MaxSpread)
	assert.Equal(t, 2.0, ec.Pairs[0].Stops.TrailingATR)
}

func TestInstrumentSpec(t *testing.T) {
	cfg := Default()
	ic, ok := cfg.Instrument("USDRUB")
	require.True(t, ok)

	spec, err := ic.Spec()
	require.NoError(t, err)
	assert.Equal(t, 3, spec.Digits)
	assert.Equal(t, market.TradeModeFull, spec.TradeMode)
	require.NotNil(t, spec.Session)

	msk := time.FixedZone("MSK", 3*3600)
	assert.True(t, spec.Tradable(time.Date(2024, 3, 4, 12, 0, 0, 0, msk)))
	assert.False(t, spec.Tradable(time.Date(2024, 3, 4, 21, 0, 0, 0, msk)))

	_, ok = cfg.Instrument("XAUUSD")
	assert.False(t, ok)

	// digits derive from the point when omitted
	ic = fxMajor("AUDUSD")
	ic.Digits = 0
	spec, err = ic.Spec()
	require.NoError(t, err)
	assert.Equal(t, 5, spec.Digits)
}
