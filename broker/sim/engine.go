// Package sim is an in-memory venue that implements broker.Gateway over
// replayed bars, with MetaTrader-style return codes.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/id"
	"github.com/rustyeddy/riskengine/market"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrNoPrice           = errors.New("no price")
)

const stepTolerance = 1e-9

type Engine struct {
	mu     sync.Mutex
	acct   broker.Account
	now    time.Time
	base   market.Timeframe
	specs  map[string]market.InstrumentSpec
	spread map[string]float64 // price units
	ticks  map[string]market.Tick
	bars   map[string][]market.Bar
	trades map[string]*Trade
}

var (
	_ broker.Gateway = (*Engine)(nil)
	_ broker.History = (*Engine)(nil)
)

// NewEngine starts an account with balance in currency. Bars fed with AddBar
// are in the base timeframe.
func NewEngine(currency string, balance float64, base market.Timeframe) *Engine {
	e := &Engine{
		acct: broker.Account{
			ID:       "sim",
			Currency: currency,
			Balance:  balance,
		},
		base:   base,
		specs:  make(map[string]market.InstrumentSpec),
		spread: make(map[string]float64),
		ticks:  make(map[string]market.Tick),
		bars:   make(map[string][]market.Bar),
		trades: make(map[string]*Trade),
	}
	e.recomputeLocked()
	return e
}

// AddInstrument registers spec with a fixed spread in points.
func (e *Engine) AddInstrument(spec market.InstrumentSpec, spreadPoints float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs[spec.Name] = spec
	e.spread[spec.Name] = spreadPoints * spec.Point
}

// Now is the time of the latest price seen.
func (e *Engine) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// AddBar appends a closed bar, fires stops and targets the bar's range
// reached, then quotes its close with the instrument spread centred on it.
func (e *Engine) AddBar(symbol string, bar market.Bar) error {
	e.mu.Lock()
	half := e.spread[symbol] / 2
	spec, ok := e.specs[symbol]
	if ok {
		e.bars[symbol] = append(e.bars[symbol], bar)
		e.wickLocked(symbol, bar, half, spec)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return e.UpdatePrice(market.Tick{
		Instrument: symbol,
		Time:       bar.Time.Add(e.base.Duration()),
		Bid:        bar.Close - half,
		Ask:        bar.Close + half,
	})
}

// wickLocked closes trades whose stop or target lies inside the bar's range.
// Longs exit on the bid and shorts on the ask. When both levels were touched
// the stop is assumed to have come first.
func (e *Engine) wickLocked(symbol string, bar market.Bar, half float64, spec market.InstrumentSpec) {
	at := bar.Time.Add(e.base.Duration())
	for _, tr := range e.sortedTrades() {
		if !tr.Open || tr.Instrument != symbol {
			continue
		}
		worst, best := bar.Low-half, bar.High-half
		if tr.Direction == market.Short {
			worst, best = bar.High+half, bar.Low+half
		}
		switch {
		case tr.triggerStopLoss(worst):
			e.closeLocked(tr, tr.StopLoss, at, ReasonStopLoss, spec)
		case tr.triggerTakeProfit(best):
			e.closeLocked(tr, tr.TakeProfit, at, ReasonTakeProfit, spec)
		}
	}
}

// UpdatePrice sets the quote, fires stops and targets on the instrument and
// revalues the account, liquidating the worst trade while equity is below
// used margin.
func (e *Engine) UpdatePrice(t market.Tick) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	spec, ok := e.specs[t.Instrument]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, t.Instrument)
	}
	e.ticks[t.Instrument] = t
	if t.Time.After(e.now) {
		e.now = t.Time
	}

	for _, tr := range e.sortedTrades() {
		if !tr.Open || tr.Instrument != t.Instrument {
			continue
		}
		mark := t.ExitPrice(tr.Direction)
		switch {
		case tr.triggerStopLoss(mark):
			e.closeLocked(tr, tr.StopLoss, t.Time, ReasonStopLoss, spec)
		case tr.triggerTakeProfit(mark):
			e.closeLocked(tr, tr.TakeProfit, t.Time, ReasonTakeProfit, spec)
		}
	}

	e.recomputeLocked()
	e.enforceMarginLocked()
	return nil
}

func (e *Engine) GetAccount(ctx context.Context) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct, nil
}

func (e *Engine) GetInstrument(ctx context.Context, symbol string) (market.InstrumentSpec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	spec, ok := e.specs[symbol]
	if !ok {
		return spec, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return spec, nil
}

func (e *Engine) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.ticks[symbol]
	if !ok {
		return t, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return t, nil
}

func (e *Engine) GetOpenPositions(ctx context.Context, symbol string) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []broker.Position
	for _, tr := range e.sortedTrades() {
		if tr.Open && (symbol == "" || tr.Instrument == symbol) {
			out = append(out, tr.Position)
		}
	}
	return out, nil
}

// GetBars returns up to count bars, resampling from the base timeframe when tf
// is coarser. The newest resampled bar may still be forming.
func (e *Engine) GetBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error) {
	e.mu.Lock()
	src := append([]market.Bar(nil), e.bars[symbol]...)
	_, ok := e.specs[symbol]
	e.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	if tf != e.base {
		if tf.Duration() < e.base.Duration() {
			return nil, fmt.Errorf("cannot serve %s bars from %s data", tf, e.base)
		}
		var err error
		if src, err = market.Resample(src, tf); err != nil {
			return nil, err
		}
	}
	return market.Last(src, count), nil
}

func (e *Engine) EstimateMargin(ctx context.Context, symbol string, dir market.Direction, volume, price float64) (float64, error) {
	spec, err := e.GetInstrument(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return Margin(volume, price, spec), nil
}

func (e *Engine) SendOrder(ctx context.Context, req broker.OrderRequest) (broker.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	spec, ok := e.specs[req.Instrument]
	if !ok {
		return broker.Result{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, req.Instrument)
	}
	tick, ok := e.ticks[req.Instrument]
	if !ok {
		return broker.Result{}, fmt.Errorf("%w: %s", ErrNoPrice, req.Instrument)
	}

	if !spec.Tradable(tick.Time) {
		return broker.ResultFromCode(broker.RetcodeMarketClosed, "market closed"), nil
	}
	if !validVolume(req.Volume, spec) {
		return broker.ResultFromCode(broker.RetcodeInvalidVolume,
			fmt.Sprintf("volume %v outside [%v, %v] step %v", req.Volume, spec.VolumeMin, spec.VolumeMax, spec.VolumeStep)), nil
	}

	fill := tick.EntryPrice(req.Direction)
	ref := tick.ExitPrice(req.Direction)
	if msg := checkStops(req.Direction, ref, req.StopLoss, req.TakeProfit, spec); msg != "" {
		return broker.ResultFromCode(broker.RetcodeInvalidStops, msg), nil
	}

	need := Margin(req.Volume, tick.Mid(), spec)
	if need > e.acct.FreeMargin {
		return broker.ResultFromCode(broker.RetcodeNoMoney,
			fmt.Sprintf("margin %.2f exceeds free margin %.2f", need, e.acct.FreeMargin)), nil
	}

	ticket := id.NewAt(tick.Time)
	e.trades[ticket] = &Trade{
		Position: broker.Position{
			Ticket:     ticket,
			Instrument: req.Instrument,
			Direction:  req.Direction,
			Volume:     req.Volume,
			EntryPrice: fill,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
			OpenTime:   tick.Time,
			Comment:    req.Comment,
		},
		Open: true,
	}
	e.recomputeLocked()

	res := broker.ResultFromCode(broker.RetcodeDone, "")
	res.Ticket = ticket
	res.Price = fill
	res.Volume = req.Volume
	return res, nil
}

func (e *Engine) ModifyStop(ctx context.Context, ticket string, stopLoss, takeProfit float64) (broker.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.trades[ticket]
	if !ok || !tr.Open {
		return broker.ResultFromCode(broker.RetcodeUnknownTicket, "position not found"), nil
	}
	spec := e.specs[tr.Instrument]

	if samePrice(tr.StopLoss, stopLoss, spec) && samePrice(tr.TakeProfit, takeProfit, spec) {
		return broker.ResultFromCode(broker.RetcodeNoChanges, "no changes"), nil
	}
	ref := e.ticks[tr.Instrument].ExitPrice(tr.Direction)
	if msg := checkStops(tr.Direction, ref, stopLoss, takeProfit, spec); msg != "" {
		return broker.ResultFromCode(broker.RetcodeInvalidStops, msg), nil
	}

	tr.StopLoss = stopLoss
	tr.TakeProfit = takeProfit
	res := broker.ResultFromCode(broker.RetcodeDone, "")
	res.Ticket = ticket
	return res, nil
}

func (e *Engine) ClosePosition(ctx context.Context, ticket string) (broker.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.trades[ticket]
	if !ok || !tr.Open {
		return broker.ResultFromCode(broker.RetcodeUnknownTicket, "position not found"), nil
	}
	spec := e.specs[tr.Instrument]
	tick := e.ticks[tr.Instrument]
	if spec.TradeMode == market.TradeModeDisabled {
		return broker.ResultFromCode(broker.RetcodeMarketClosed, "trading disabled"), nil
	}

	price := tick.ExitPrice(tr.Direction)
	e.closeLocked(tr, price, tick.Time, ReasonClosed, spec)
	e.recomputeLocked()

	res := broker.ResultFromCode(broker.RetcodeDone, "")
	res.Ticket = ticket
	res.Price = price
	res.Volume = tr.Volume
	res.RealizedPnL = tr.RealizedPnL
	return res, nil
}

func (e *Engine) GetClosedPosition(ctx context.Context, ticket string) (broker.ClosedPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.trades[ticket]
	if !ok || tr.Open {
		return broker.ClosedPosition{}, fmt.Errorf("%w: %s", broker.ErrUnknownTicket, ticket)
	}
	return broker.ClosedPosition{
		Position:    tr.Position,
		ClosePrice:  tr.ClosePrice,
		CloseTime:   tr.CloseTime,
		RealizedPnL: tr.RealizedPnL,
		Reason:      tr.Reason,
	}, nil
}

// History returns closed trades ordered by close time.
func (e *Engine) History() []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Trade
	for _, tr := range e.sortedTrades() {
		if !tr.Open {
			out = append(out, *tr)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CloseTime.Before(out[j].CloseTime) })
	return out
}

// sortedTrades orders by ticket, which sorts by open time.
func (e *Engine) sortedTrades() []*Trade {
	out := make([]*Trade, 0, len(e.trades))
	for _, tr := range e.trades {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

func (e *Engine) closeLocked(tr *Trade, price float64, at time.Time, reason string, spec market.InstrumentSpec) {
	tr.ClosePrice = price
	tr.CloseTime = at
	tr.RealizedPnL = PnL(tr.Position, price, spec)
	tr.Reason = reason
	tr.Open = false
	e.acct.Balance += tr.RealizedPnL
}

func (e *Engine) recomputeLocked() {
	equity := e.acct.Balance
	used := 0.0
	for _, tr := range e.trades {
		if !tr.Open {
			continue
		}
		spec := e.specs[tr.Instrument]
		tick := e.ticks[tr.Instrument]
		equity += PnL(tr.Position, tick.ExitPrice(tr.Direction), spec)
		used += Margin(tr.Volume, tick.Mid(), spec)
	}

	e.acct.Equity = equity
	e.acct.MarginUsed = used
	e.acct.FreeMargin = equity - used
	if used > 0 {
		e.acct.MarginLevel = equity / used
	} else {
		e.acct.MarginLevel = 0
	}
}

func (e *Engine) enforceMarginLocked() {
	for e.acct.MarginUsed > 0 && e.acct.Equity < e.acct.MarginUsed {
		var worst *Trade
		var worstPL float64
		for _, tr := range e.sortedTrades() {
			if !tr.Open {
				continue
			}
			pl := PnL(tr.Position, e.ticks[tr.Instrument].ExitPrice(tr.Direction), e.specs[tr.Instrument])
			if worst == nil || pl < worstPL {
				worst, worstPL = tr, pl
			}
		}
		if worst == nil {
			return
		}
		tick := e.ticks[worst.Instrument]
		e.closeLocked(worst, tick.ExitPrice(worst.Direction), tick.Time, ReasonStopOut, e.specs[worst.Instrument])
		e.recomputeLocked()
	}
}

func validVolume(v float64, spec market.InstrumentSpec) bool {
	if v < spec.VolumeMin-stepTolerance || (spec.VolumeMax > 0 && v > spec.VolumeMax+stepTolerance) {
		return false
	}
	if spec.VolumeStep <= 0 {
		return true
	}
	n := v / spec.VolumeStep
	return math.Abs(n-math.Round(n)) < 1e-6
}

// checkStops validates SL/TP against the reference price a modification would
// be judged at. Zero means unset.
func checkStops(dir market.Direction, ref, sl, tp float64, spec market.InstrumentSpec) string {
	minDist := spec.MinStopDistance()
	s := dir.Sign()
	if sl != 0 && (ref-sl)*s < minDist-stepTolerance {
		return fmt.Sprintf("stop loss %v within %v of %v", sl, minDist, ref)
	}
	if tp != 0 && (tp-ref)*s < minDist-stepTolerance {
		return fmt.Sprintf("take profit %v within %v of %v", tp, minDist, ref)
	}
	return ""
}

func samePrice(a, b float64, spec market.InstrumentSpec) bool {
	tol := spec.Point / 2
	if tol == 0 {
		tol = stepTolerance
	}
	return math.Abs(a-b) < tol
}
