package indicators

import (
	"math"

	"github.com/rustyeddy/riskengine/market"
)

func typical(b market.Bar) float64 {
	return (b.High + b.Low + b.Close) / 3
}

// VWAPSeries is the cumulative volume-weighted typical price at every index.
// Indices with no cumulative volume fall back to the typical price.
func VWAPSeries(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	var cumVol, cumVP float64
	for i, b := range bars {
		tp := typical(b)
		cumVol += b.Volume
		cumVP += tp * b.Volume
		if cumVol > 0 {
			out[i] = cumVP / cumVol
		} else {
			out[i] = tp
		}
	}
	return out
}

// CCISeries is the commodity channel index at every index. Entries before the
// first full window, or with zero mean deviation, are NaN.
func CCISeries(bars []market.Bar, period int) ([]float64, error) {
	if err := checkWindow(len(bars), period, period); err != nil {
		return nil, err
	}
	tps := make([]float64, len(bars))
	for i, b := range bars {
		tps[i] = typical(b)
	}

	out := make([]float64, len(bars))
	for i := range out {
		if i+1 < period {
			out[i] = math.NaN()
			continue
		}
		win := tps[i+1-period : i+1]
		mean := 0.0
		for _, v := range win {
			mean += v
		}
		mean /= float64(period)
		dev := 0.0
		for _, v := range win {
			dev += math.Abs(v - mean)
		}
		dev /= float64(period)
		if dev == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (tps[i] - mean) / (0.015 * dev)
	}
	return out, nil
}
