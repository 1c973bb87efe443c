package risk

import (
	"math"

	"github.com/rustyeddy/riskengine/market"
)

// PlannedRisk is the account-currency loss if a position of volume lots entered
// at entry is stopped out at stop.
func PlannedRisk(volume, entry, stop float64, spec market.InstrumentSpec) float64 {
	return volume * StopValuePerLot(entry, stop, spec)
}

// StopValuePerLot is the account-currency value of the entry-to-stop distance for
// one lot: stop points × point × contract size, converted from quote currency.
func StopValuePerLot(entry, stop float64, spec market.InstrumentSpec) float64 {
	return math.Abs(entry-stop) * spec.ContractSize * spec.Rate()
}

// RR is the reward-to-risk ratio of a stop/target pair.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	reward := math.Abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// RiskPct is planned risk as a fraction of equity.
func RiskPct(plannedRisk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / equity
}
