package strategies

import (
	"fmt"
	"math"

	"github.com/rustyeddy/riskengine/indicators"
	"github.com/rustyeddy/riskengine/market"
)

// CCIDivergence trades price/CCI divergence over a short lookback and exits
// when CCI crosses zero.
type CCIDivergence struct {
	Period   int // 14
	Lookback int // 2
}

func NewCCIDivergence(p Params) (*CCIDivergence, error) {
	s := &CCIDivergence{
		Period:   p.getInt("period", 14),
		Lookback: p.getInt("lookback", 2),
	}
	if s.Period < 2 || s.Lookback < 1 {
		return nil, fmt.Errorf("cci-divergence: need period >= 2 and lookback >= 1, got %d, %d", s.Period, s.Lookback)
	}
	return s, nil
}

func (s *CCIDivergence) Name() string { return "cci-divergence" }

func (s *CCIDivergence) RequiredBars() int { return s.Period + s.Lookback + 1 }

func (s *CCIDivergence) CheckEntry(bars []market.Bar) market.Signal {
	if len(bars) < s.RequiredBars() {
		return market.None
	}
	cci, err := indicators.CCISeries(bars, s.Period)
	if err != nil {
		return market.None
	}
	n := len(bars) - 1
	k := n - s.Lookback
	if math.IsNaN(cci[n]) || math.IsNaN(cci[k]) {
		return market.None
	}

	switch {
	case bars[n].Low < bars[k].Low && cci[n] > cci[k]:
		return market.Buy
	case bars[n].High > bars[k].High && cci[n] < cci[k]:
		return market.Sell
	}
	return market.None
}

func (s *CCIDivergence) CheckExit(bars []market.Bar) bool {
	if len(bars) < s.Period+1 {
		return false
	}
	cci, err := indicators.CCISeries(bars, s.Period)
	if err != nil {
		return false
	}
	n := len(bars) - 1
	return cci[n-1]*cci[n] < 0
}
