package indicators

import (
	"math"

	"github.com/rustyeddy/riskengine/market"
)

// ATR returns the simple average of the true range over the most recent period bars.
// It needs period+1 bars because each true range looks at the previous close.
func ATR(bars []market.Bar, period int) (float64, error) {
	if err := checkWindow(len(bars), period+1, period); err != nil {
		return 0, err
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += TrueRange(bars[i], bars[i-1])
	}
	return sum / float64(period), nil
}

// TrueRange of current given the previous bar.
func TrueRange(current, previous market.Bar) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)

	return math.Max(highLow, math.Max(highClose, lowClose))
}
