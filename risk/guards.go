package risk

import (
	"fmt"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/indicators"
	"github.com/rustyeddy/riskengine/market"
)

// Reason identifies which guard rejected an entry.
type Reason string

const (
	ReasonMinEntryInterval       Reason = "MIN_ENTRY_INTERVAL"
	ReasonInsufficientFreeMargin Reason = "INSUFFICIENT_FREE_MARGIN"
	ReasonMaxPositionsReached    Reason = "MAX_POSITIONS_REACHED"
	ReasonDailyLossCapExceeded   Reason = "DAILY_LOSS_CAP_EXCEEDED"
	ReasonConsecutiveLossCap     Reason = "CONSECUTIVE_LOSS_CAP_REACHED"
	ReasonTrendMismatch          Reason = "HIGHER_TIMEFRAME_TREND_MISMATCH"
)

type Violation struct {
	Code Reason
	Msg  string
}

// Decision is the outcome of an entry check. A rejected decision carries
// exactly one Violation.
type Decision struct {
	Allowed   bool
	Violation *Violation
}

func Accept() Decision {
	return Decision{Allowed: true}
}

func Reject(code Reason, format string, args ...any) Decision {
	return Decision{Violation: &Violation{Code: code, Msg: fmt.Sprintf(format, args...)}}
}

// Reason returns the rejecting guard's code, or "" when allowed.
func (d Decision) Reason() Reason {
	if d.Violation == nil {
		return ""
	}
	return d.Violation.Code
}

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return fmt.Sprintf("%s: %s", d.Violation.Code, d.Violation.Msg)
}

// TrendFilter configures the higher-timeframe moving-average filter.
type TrendFilter struct {
	Enabled    bool
	Timeframe  market.Timeframe // H4
	FastPeriod int              // 10
	SlowPeriod int              // 50
}

func DefaultTrendFilter() TrendFilter {
	return TrendFilter{Enabled: true, Timeframe: market.H4, FastPeriod: 10, SlowPeriod: 50}
}

// GuardInput is everything a guard may look at. Guards receive it by value
// and must not reach outside it.
type GuardInput struct {
	Now        time.Time
	Signal     market.Signal
	Account    broker.Account
	Positions  []broker.Position // open positions for the pair
	Counters   SessionCounters
	Policy     Policy
	Allocation float64

	Trend    TrendFilter
	HigherTF []market.Bar // oldest to newest
}

// Guard is a pure predicate over a GuardInput. It returns nil when the entry
// passes.
type Guard interface {
	Code() Reason
	Check(in GuardInput) *Violation
}

// GuardFunc adapts a function to a Guard.
type GuardFunc struct {
	Reason Reason
	Fn     func(in GuardInput) (ok bool, msg string)
}

func (g GuardFunc) Code() Reason { return g.Reason }

func (g GuardFunc) Check(in GuardInput) *Violation {
	if ok, msg := g.Fn(in); !ok {
		return &Violation{Code: g.Reason, Msg: msg}
	}
	return nil
}

// Chain runs guards in order and stops at the first violation.
type Chain struct {
	guards []Guard
}

func NewChain(guards ...Guard) *Chain {
	return &Chain{guards: guards}
}

// DefaultChain is the full entry check in its canonical order.
func DefaultChain() *Chain {
	return NewChain(
		MinEntryIntervalGuard(),
		FreeMarginGuard(),
		MaxPositionsGuard(),
		DailyLossGuard(),
		ConsecutiveLossGuard(),
		TrendGuard(),
	)
}

func (c *Chain) Guards() []Guard {
	return c.guards
}

func (c *Chain) Evaluate(in GuardInput) Decision {
	for _, g := range c.guards {
		if v := g.Check(in); v != nil {
			return Decision{Violation: v}
		}
	}
	return Accept()
}

func MinEntryIntervalGuard() Guard {
	return GuardFunc{Reason: ReasonMinEntryInterval, Fn: func(in GuardInput) (bool, string) {
		if in.Counters.LastEntry.IsZero() || in.Policy.MinEntryInterval <= 0 {
			return true, ""
		}
		since := in.Now.Sub(in.Counters.LastEntry)
		if since < in.Policy.MinEntryInterval {
			return false, fmt.Sprintf("last entry %s ago, minimum %s",
				since.Round(time.Second), in.Policy.MinEntryInterval)
		}
		return true, ""
	}}
}

func FreeMarginGuard() Guard {
	return GuardFunc{Reason: ReasonInsufficientFreeMargin, Fn: func(in GuardInput) (bool, string) {
		need := Allocate(in.Account.Equity, in.Allocation) * in.Policy.MinFreeMarginRatio
		if in.Account.FreeMargin < need {
			return false, fmt.Sprintf("free margin %.2f below required %.2f", in.Account.FreeMargin, need)
		}
		return true, ""
	}}
}

func MaxPositionsGuard() Guard {
	return GuardFunc{Reason: ReasonMaxPositionsReached, Fn: func(in GuardInput) (bool, string) {
		if n := len(in.Positions); n >= in.Policy.MaxPositionsPerInstrument {
			return false, fmt.Sprintf("open positions %d >= max %d", n, in.Policy.MaxPositionsPerInstrument)
		}
		return true, ""
	}}
}

func DailyLossGuard() Guard {
	return GuardFunc{Reason: ReasonDailyLossCapExceeded, Fn: func(in GuardInput) (bool, string) {
		limit := -in.Policy.DailyLossLimit * in.Account.Balance
		if in.Counters.DailyPnL < limit {
			return false, fmt.Sprintf("daily pnl %.2f below limit %.2f", in.Counters.DailyPnL, limit)
		}
		return true, ""
	}}
}

func ConsecutiveLossGuard() Guard {
	return GuardFunc{Reason: ReasonConsecutiveLossCap, Fn: func(in GuardInput) (bool, string) {
		if n := in.Counters.ConsecutiveLosses; n >= in.Policy.MaxConsecutiveLosses {
			return false, fmt.Sprintf("consecutive losses %d >= max %d", n, in.Policy.MaxConsecutiveLosses)
		}
		return true, ""
	}}
}

// TrendGuard rejects entries against the higher-timeframe trend. It passes when
// the filter is disabled or there are not enough bars to compute both averages.
func TrendGuard() Guard {
	return GuardFunc{Reason: ReasonTrendMismatch, Fn: func(in GuardInput) (bool, string) {
		if !in.Trend.Enabled || in.Signal == market.None {
			return true, ""
		}
		fast, err := indicators.MA(in.HigherTF, in.Trend.FastPeriod)
		if err != nil {
			return true, ""
		}
		slow, err := indicators.MA(in.HigherTF, in.Trend.SlowPeriod)
		if err != nil {
			return true, ""
		}
		up := fast > slow
		down := fast < slow
		switch {
		case in.Signal == market.Buy && !up:
			return false, fmt.Sprintf("buy against %s trend: sma%d %.5f <= sma%d %.5f",
				in.Trend.Timeframe, in.Trend.FastPeriod, fast, in.Trend.SlowPeriod, slow)
		case in.Signal == market.Sell && !down:
			return false, fmt.Sprintf("sell against %s trend: sma%d %.5f >= sma%d %.5f",
				in.Trend.Timeframe, in.Trend.FastPeriod, fast, in.Trend.SlowPeriod, slow)
		}
		return true, ""
	}}
}
