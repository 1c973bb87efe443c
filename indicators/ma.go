package indicators

import (
	"github.com/rustyeddy/riskengine/market"
)

// SMA is the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if err := checkWindow(len(values), period, period); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// MA is SMA over bar closes.
func MA(bars []market.Bar, period int) (float64, error) {
	return SMA(market.Closes(bars), period)
}

// EMASeries returns the exponential moving average at every index, seeded with
// the first value (span-style smoothing, alpha = 2/(period+1)).
func EMASeries(values []float64, period int) ([]float64, error) {
	if err := checkWindow(len(values), 1, period); err != nil {
		return nil, err
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out, nil
}

// EMA is the latest EMASeries value over bar closes.
func EMA(bars []market.Bar, period int) (float64, error) {
	s, err := EMASeries(market.Closes(bars), period)
	if err != nil {
		return 0, err
	}
	return s[len(s)-1], nil
}
