package strategies

import "github.com/rustyeddy/riskengine/market"

// Noop never signals. Useful for running only the stop management on
// existing positions.
type Noop struct{}

func (Noop) Name() string { return "noop" }
func (Noop) RequiredBars() int { return 1 }
func (Noop) CheckEntry([]market.Bar) market.Signal { return market.None }
func (Noop) CheckExit([]market.Bar) bool { return false }
