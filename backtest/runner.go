package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rustyeddy/riskengine/broker/sim"
	"github.com/rustyeddy/riskengine/engine"
)

// RunnerOptions controls how the runner behaves.
type RunnerOptions struct {
	// Bars fed before the engine starts ticking, so indicators have history.
	Warmup int

	// If true, close all open positions at the end of the dataset.
	CloseEnd bool
}

// Runner drives an engine forward over a feed.
type Runner struct {
	Venue   *sim.Engine
	Engine  *engine.Engine
	Feed    *BarFeed
	Options RunnerOptions
}

// Run executes the loop:
//  1. feed every bar of the next timestamp to the venue
//  2. run one engine cycle
//  3. record equity for the drawdown
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Venue == nil || r.Engine == nil || r.Feed == nil {
		return Result{}, errors.New("backtest: venue, engine and feed are required")
	}

	acct, err := r.Venue.GetAccount(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{StartBalance: acct.Balance}
	dd := drawdown{}
	dd.add(acct.Equity)

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		at, bars, ok := r.Feed.Next()
		if !ok {
			break
		}
		if res.Start.IsZero() {
			res.Start = at
		}
		res.End = at
		res.Bars += len(bars)

		symbols := make([]string, 0, len(bars))
		for s := range bars {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			if err := r.Venue.AddBar(s, bars[s]); err != nil {
				return res, fmt.Errorf("feed %s: %w", s, err)
			}
		}

		if n < r.Options.Warmup {
			continue
		}
		if err := r.Engine.Tick(ctx); err != nil {
			return res, err
		}
		res.Cycles++

		acct, err := r.Venue.GetAccount(ctx)
		if err != nil {
			return res, err
		}
		dd.add(acct.Equity)
	}

	if r.Options.CloseEnd {
		open, err := r.Venue.GetOpenPositions(ctx, "")
		if err != nil {
			return res, err
		}
		for _, p := range open {
			if _, err := r.Venue.ClosePosition(ctx, p.Ticket); err != nil {
				return res, fmt.Errorf("close %s: %w", p.Ticket, err)
			}
		}
	}

	acct, err = r.Venue.GetAccount(ctx)
	if err != nil {
		return res, err
	}
	dd.add(acct.Equity)
	res.Balance = acct.Balance
	res.Equity = acct.Equity
	res.MaxDrawdownPct = dd.maxPct
	res.addTrades(r.Venue.History())
	return res, nil
}
