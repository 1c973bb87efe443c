package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/risk"
	"github.com/rustyeddy/riskengine/stops"
	"github.com/rustyeddy/riskengine/strategies"
)

// Pair runs one strategy on one instrument.
type Pair struct {
	Strategy   strategies.Strategy
	Instrument string
	Timeframe  market.Timeframe
	Allocation float64
	ATRPeriod  int // zero uses Config.ATRPeriod

	StopLossATR   float64 // stop distance in ATRs
	TakeProfitATR float64
	Stops         stops.Params

	// MaxSpread blocks the pair while the quoted spread is wider, in price
	// units. Zero disables the gate.
	MaxSpread float64
}

// Tag is the order comment that attributes venue positions to this pair's
// strategy.
func (p Pair) Tag() string {
	return p.Strategy.Name()
}

func (p Pair) Key() string {
	return p.Strategy.Name() + "/" + p.Instrument
}

func (p Pair) Validate() error {
	if p.Strategy == nil {
		return errors.New("pair has no strategy")
	}
	if p.Instrument == "" {
		return fmt.Errorf("%s: no instrument", p.Strategy.Name())
	}
	if p.Timeframe.Duration() == 0 {
		return fmt.Errorf("%s: unsupported timeframe %q", p.Key(), p.Timeframe)
	}
	if p.Allocation <= 0 || p.Allocation > 1 {
		return fmt.Errorf("%s: allocation must be in (0, 1], got %v", p.Key(), p.Allocation)
	}
	if p.StopLossATR <= 0 || p.TakeProfitATR <= 0 {
		return fmt.Errorf("%s: stop/target ATR multipliers must be positive", p.Key())
	}
	if err := p.Stops.Validate(); err != nil {
		return fmt.Errorf("%s: %w", p.Key(), err)
	}
	return nil
}

type Config struct {
	Interval       time.Duration  // 10s
	GatewayTimeout time.Duration  // 5s
	Location       *time.Location // where the trading day starts
	ATRPeriod      int            // 14

	Policy risk.Policy
	Trend  risk.TrendFilter
	Pairs  []Pair
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 5 * time.Second
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
}

func (c Config) validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.Trend.Enabled && (c.Trend.FastPeriod <= 0 || c.Trend.SlowPeriod <= c.Trend.FastPeriod) {
		return fmt.Errorf("trend filter needs 0 < fast < slow, got %d/%d", c.Trend.FastPeriod, c.Trend.SlowPeriod)
	}
	if len(c.Pairs) == 0 {
		return errors.New("no pairs configured")
	}
	seen := make(map[string]bool)
	total := make(map[string]float64)
	for _, p := range c.Pairs {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Key()] {
			return fmt.Errorf("duplicate pair %s", p.Key())
		}
		seen[p.Key()] = true
		total[p.Strategy.Name()] = p.Allocation
	}
	sum := 0.0
	for _, a := range total {
		sum += a
	}
	if sum > 1+1e-9 {
		return fmt.Errorf("strategy allocations sum to %v, above 1", sum)
	}
	return nil
}
