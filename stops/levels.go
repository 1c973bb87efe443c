package stops

import (
	"fmt"
	"math"

	"github.com/rustyeddy/riskengine/market"
)

// SafeDistance is the smallest SL/TP distance from the entry price that the
// venue reliably accepts: the larger of the stops level, twice the spread and
// ten points, plus a two-point cushion.
func SafeDistance(spec market.InstrumentSpec, spread float64) float64 {
	d := math.Max(spec.MinStopDistance(), math.Max(2*spread, 10*spec.Point))
	return d + 2*spec.Point
}

// Levels derives stop loss and take profit from ATR multipliers, widening
// either one that would sit closer than SafeDistance.
func Levels(dir market.Direction, entry, atr, slATR, tpATR float64,
	spec market.InstrumentSpec, spread float64) (stopLoss, takeProfit float64, err error) {

	if atr <= 0 {
		return 0, 0, fmt.Errorf("atr must be positive, got %v", atr)
	}
	if slATR <= 0 || tpATR <= 0 {
		return 0, 0, fmt.Errorf("atr multipliers must be positive, got sl=%v tp=%v", slATR, tpATR)
	}

	safe := SafeDistance(spec, spread)
	slDist := math.Max(slATR*atr, safe)
	tpDist := math.Max(tpATR*atr, safe)

	s := dir.Sign()
	stopLoss = spec.RoundPrice(entry - s*slDist)
	takeProfit = spec.RoundPrice(entry + s*tpDist)
	return stopLoss, takeProfit, nil
}
