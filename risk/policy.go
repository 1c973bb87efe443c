package risk

import (
	"fmt"
	"time"
)

// Policy holds the account-wide risk limits applied to every strategy.
type Policy struct {
	// Sizing
	RiskPerTrade      float64 // 0.02 of allocated equity at risk per trade
	MinLot            float64 // 0.01
	MaxLot            float64 // 1.0
	MarginCapPerTrade float64 // 0.10 of allocated equity usable as margin per trade

	// Circuit breakers
	DailyLossLimit       float64 // 0.03 of balance
	MaxConsecutiveLosses int     // 3

	// Exposure and pacing
	MinEntryInterval          time.Duration // 5m
	MaxPositionsPerInstrument int           // 1
	MinFreeMarginRatio        float64       // 0.05 of allocated equity
}

// DefaultPolicy mirrors the limits the engine has historically run with.
func DefaultPolicy() Policy {
	return Policy{
		RiskPerTrade:              0.02,
		MinLot:                    0.01,
		MaxLot:                    1.0,
		MarginCapPerTrade:         0.10,
		DailyLossLimit:            0.03,
		MaxConsecutiveLosses:      3,
		MinEntryInterval:          5 * time.Minute,
		MaxPositionsPerInstrument: 1,
		MinFreeMarginRatio:        0.05,
	}
}

// Validate reports the first inconsistent limit.
func (p Policy) Validate() error {
	if p.RiskPerTrade <= 0 || p.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade must be in (0, 1], got %v", p.RiskPerTrade)
	}
	if p.MinLot <= 0 {
		return fmt.Errorf("min_lot must be positive, got %v", p.MinLot)
	}
	if p.MaxLot < p.MinLot {
		return fmt.Errorf("max_lot %v is below min_lot %v", p.MaxLot, p.MinLot)
	}
	if p.MarginCapPerTrade <= 0 || p.MarginCapPerTrade > 1 {
		return fmt.Errorf("margin_cap_per_trade must be in (0, 1], got %v", p.MarginCapPerTrade)
	}
	if p.DailyLossLimit <= 0 || p.DailyLossLimit > 1 {
		return fmt.Errorf("daily_loss_limit must be in (0, 1], got %v", p.DailyLossLimit)
	}
	if p.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("max_consecutive_losses must be positive, got %d", p.MaxConsecutiveLosses)
	}
	if p.MinEntryInterval < 0 {
		return fmt.Errorf("min_entry_interval must not be negative, got %v", p.MinEntryInterval)
	}
	if p.MaxPositionsPerInstrument <= 0 {
		return fmt.Errorf("max_positions_per_instrument must be positive, got %d", p.MaxPositionsPerInstrument)
	}
	if p.MinFreeMarginRatio < 0 {
		return fmt.Errorf("min_free_margin_ratio must not be negative, got %v", p.MinFreeMarginRatio)
	}
	return nil
}
