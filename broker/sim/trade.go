package sim

import (
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
)

// Close reasons.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonClosed     = "closed"
	ReasonStopOut    = "stop_out"
)

type Trade struct {
	broker.Position

	// Realized
	ClosePrice  float64
	CloseTime   time.Time
	RealizedPnL float64 // account currency
	Reason      string
	Open        bool
}

func (t *Trade) triggerStopLoss(mark float64) bool {
	if t.StopLoss == 0 {
		return false
	}
	if t.Direction == market.Long {
		return mark <= t.StopLoss
	}
	return mark >= t.StopLoss
}

func (t *Trade) triggerTakeProfit(mark float64) bool {
	if t.TakeProfit == 0 {
		return false
	}
	if t.Direction == market.Long {
		return mark >= t.TakeProfit
	}
	return mark <= t.TakeProfit
}

// PnL is the account-currency result of closing t at price.
func PnL(t broker.Position, price float64, spec market.InstrumentSpec) float64 {
	return t.Direction.Sign() * (price - t.EntryPrice) * t.Volume * spec.ContractSize * spec.Rate()
}

// Margin is the account-currency margin volume lots need at price.
func Margin(volume, price float64, spec market.InstrumentSpec) float64 {
	return volume * spec.ContractSize * price * spec.MarginRate * spec.Rate()
}
