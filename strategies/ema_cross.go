package strategies

import (
	"fmt"
	"math"

	"github.com/rustyeddy/riskengine/indicators"
	"github.com/rustyeddy/riskengine/market"
)

// EMACross enters on a fast/slow EMA crossover on the last closed bar,
// optionally requiring a volume spike, and exits when the averages converge.
type EMACross struct {
	FastPeriod   int     // 10
	SlowPeriod   int     // 50
	VolumeFactor float64 // last volume must exceed the 20-bar average by this factor; 0 disables
	ExitBand     float64 // exit when |fast-slow| < close*ExitBand; 0 disables
}

func NewEMACross(p Params) (*EMACross, error) {
	s := &EMACross{
		FastPeriod:   p.getInt("fast", 10),
		SlowPeriod:   p.getInt("slow", 50),
		VolumeFactor: p.get("volume_factor", 0),
		ExitBand:     p.get("exit_band", 0.001),
	}
	if s.FastPeriod <= 0 || s.SlowPeriod <= s.FastPeriod {
		return nil, fmt.Errorf("ema-cross: need 0 < fast < slow, got fast=%d slow=%d", s.FastPeriod, s.SlowPeriod)
	}
	return s, nil
}

func (s *EMACross) Name() string { return "ema-cross" }

func (s *EMACross) RequiredBars() int {
	return max(s.SlowPeriod, 20) + 1
}

func (s *EMACross) CheckEntry(bars []market.Bar) market.Signal {
	if len(bars) < s.RequiredBars() {
		return market.None
	}
	fast, slow, err := s.series(bars)
	if err != nil {
		return market.None
	}
	n := len(bars) - 1
	if !s.volumeOK(bars) {
		return market.None
	}

	switch {
	case fast[n] > slow[n] && fast[n-1] <= slow[n-1]:
		return market.Buy
	case fast[n] < slow[n] && fast[n-1] >= slow[n-1]:
		return market.Sell
	}
	return market.None
}

func (s *EMACross) CheckExit(bars []market.Bar) bool {
	if s.ExitBand <= 0 || len(bars) < s.RequiredBars() {
		return false
	}
	fast, slow, err := s.series(bars)
	if err != nil {
		return false
	}
	n := len(bars) - 1
	return math.Abs(fast[n]-slow[n]) < bars[n].Close*s.ExitBand
}

func (s *EMACross) series(bars []market.Bar) (fast, slow []float64, err error) {
	closes := market.Closes(bars)
	if fast, err = indicators.EMASeries(closes, s.FastPeriod); err != nil {
		return nil, nil, err
	}
	if slow, err = indicators.EMASeries(closes, s.SlowPeriod); err != nil {
		return nil, nil, err
	}
	return fast, slow, nil
}

func (s *EMACross) volumeOK(bars []market.Bar) bool {
	if s.VolumeFactor <= 0 {
		return true
	}
	const window = 20
	recent := market.Last(bars, window)
	avg := 0.0
	for _, b := range recent {
		avg += b.Volume
	}
	avg /= float64(len(recent))
	last := bars[len(bars)-1].Volume
	return avg > 0 && last > avg*s.VolumeFactor
}
