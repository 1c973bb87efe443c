package strategies

import (
	"fmt"

	"github.com/rustyeddy/riskengine/indicators"
	"github.com/rustyeddy/riskengine/market"
)

// VWAPReversion fades a stretch away from VWAP once price returns inside the
// band. It has no exit signal of its own and relies on stops.
type VWAPReversion struct {
	Threshold float64 // band half-width in price units
	Window    int     // bars VWAP accumulates over
}

func NewVWAPReversion(p Params) (*VWAPReversion, error) {
	s := &VWAPReversion{
		Threshold: p.get("threshold", 0.0001),
		Window:    p.getInt("window", 100),
	}
	if s.Threshold < 0 || s.Window < 2 {
		return nil, fmt.Errorf("vwap: threshold must be >= 0 and window >= 2, got %v, %d", s.Threshold, s.Window)
	}
	return s, nil
}

func (s *VWAPReversion) Name() string { return "vwap" }

func (s *VWAPReversion) RequiredBars() int { return s.Window }

func (s *VWAPReversion) CheckEntry(bars []market.Bar) market.Signal {
	if len(bars) < 2 {
		return market.None
	}
	bars = market.Last(bars, s.Window)
	vwap := indicators.VWAPSeries(bars)
	n := len(bars) - 1
	prev, curr := bars[n-1].Close, bars[n].Close

	switch {
	case prev > vwap[n-1]+s.Threshold && curr < vwap[n]+s.Threshold:
		return market.Sell
	case prev < vwap[n-1]-s.Threshold && curr > vwap[n]-s.Threshold:
		return market.Buy
	}
	return market.None
}

func (s *VWAPReversion) CheckExit([]market.Bar) bool { return false }
