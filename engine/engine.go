// Package engine runs the trading loop: for every configured
// (strategy, instrument) pair it manages the stops of open positions, acts on
// exit signals and, when flat, takes an entry signal through the guard chain,
// the stop calculator and the sizer before sending the order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/indicators"
	"github.com/rustyeddy/riskengine/journal"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/metrics"
	"github.com/rustyeddy/riskengine/risk"
	"github.com/rustyeddy/riskengine/stops"
)

// ErrDataUnavailable means a pair could not be evaluated this cycle because
// prices, bars or the instrument spec were missing.
var ErrDataUnavailable = errors.New("data unavailable")

// owned is what the engine remembers about a ticket it opened or adopted.
type owned struct {
	key        string
	instrument string
	direction  market.Direction
	volume     float64
}

type Engine struct {
	cfg     Config
	gw      detached
	chain   *risk.Chain
	stops   *stops.Manager
	journal journal.Journal
	metrics *metrics.Recorder
	log     *slog.Logger
	now     func() time.Time

	acct     broker.Account
	counters map[string]*risk.SessionCounters
	tickets  map[string]owned
}

type Option func(*Engine)

func WithJournal(j journal.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now, for replaying history.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithChain(c *risk.Chain) Option {
	return func(e *Engine) { e.chain = c }
}

func New(cfg Config, gw broker.Gateway, opts ...Option) (*Engine, error) {
	if gw == nil {
		return nil, errors.New("engine: nil gateway")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		gw:       detached{gw: gw, timeout: cfg.GatewayTimeout},
		chain:    risk.DefaultChain(),
		journal:  journal.Discard{},
		log:      slog.Default(),
		now:      time.Now,
		counters: make(map[string]*risk.SessionCounters),
		tickets:  make(map[string]owned),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(false)
	}
	e.stops = stops.NewManager(e.gw, e.log)
	for _, p := range cfg.Pairs {
		e.counters[p.Key()] = &risk.SessionCounters{}
	}
	return e, nil
}

// Recover rebuilds every pair's session counters from the journal, so that a
// restart mid-day keeps the daily loss and loss streak it had.
func (e *Engine) Recover(ctx context.Context, r journal.Reader) error {
	now := e.now()
	for _, p := range e.cfg.Pairs {
		recs, err := r.ListRecords(ctx, journal.Filter{
			Strategy:   p.Strategy.Name(),
			Instrument: p.Instrument,
		})
		if err != nil {
			return fmt.Errorf("recover %s: %w", p.Key(), err)
		}
		c := risk.RebuildCounters(recs, now, e.cfg.Location)
		e.counters[p.Key()] = &c
		e.log.InfoContext(ctx, "counters recovered",
			"strategy", p.Strategy.Name(), "instrument", p.Instrument,
			"daily_pnl", c.DailyPnL, "consecutive_losses", c.ConsecutiveLosses,
			"last_entry", c.LastEntry)
	}
	return nil
}

// Counters returns a copy of the session counters of a pair.
func (e *Engine) Counters(strategy, instrument string) risk.SessionCounters {
	if c, ok := e.counters[strategy+"/"+instrument]; ok {
		return *c
	}
	return risk.SessionCounters{}
}

// StopState exposes the stop manager's state for ticket.
func (e *Engine) StopState(ticket string) (stops.State, bool) {
	return e.stops.State(ticket)
}

// Run ticks until ctx is cancelled. A cycle that has started finishes its
// current pair before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.log.InfoContext(ctx, "engine started", "pairs", len(e.cfg.Pairs), "interval", e.cfg.Interval)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := e.Tick(ctx); err != nil {
			e.log.ErrorContext(ctx, "cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			e.log.InfoContext(ctx, "engine stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one cycle over all pairs. It only fails when the account cannot
// be read; pair errors are logged and the cycle moves on.
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { e.metrics.ObserveCycle(time.Since(start)) }()

	acct, err := e.gw.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	e.acct = acct
	e.metrics.SetEquity(acct.Equity)
	if err := e.journal.RecordEquity(ctx, journal.EquitySnapshot{
		Time:        e.now(),
		Balance:     acct.Balance,
		Equity:      acct.Equity,
		MarginUsed:  acct.MarginUsed,
		FreeMargin:  acct.FreeMargin,
		MarginLevel: acct.MarginLevel,
	}); err != nil {
		e.log.WarnContext(ctx, "equity journal failed", "error", err)
	}

	for _, p := range e.cfg.Pairs {
		if ctx.Err() != nil {
			return nil
		}
		err := e.processPair(ctx, p)
		switch {
		case err == nil:
		case errors.Is(err, ErrDataUnavailable):
			e.log.InfoContext(ctx, "pair skipped",
				"strategy", p.Strategy.Name(), "instrument", p.Instrument, "error", err)
		default:
			e.log.ErrorContext(ctx, "pair failed",
				"strategy", p.Strategy.Name(), "instrument", p.Instrument, "error", err)
		}
	}
	return nil
}

func (e *Engine) atrPeriod(p Pair) int {
	if p.ATRPeriod > 0 {
		return p.ATRPeriod
	}
	return e.cfg.ATRPeriod
}

func (e *Engine) processPair(ctx context.Context, p Pair) error {
	now := e.now()
	counters := e.counters[p.Key()]
	if counters.Roll(now, e.cfg.Location) {
		e.log.InfoContext(ctx, "trading day reset", "strategy", p.Strategy.Name(), "instrument", p.Instrument)
	}

	spec, err := e.gw.GetInstrument(ctx, p.Instrument)
	if err != nil {
		return fmt.Errorf("%w: instrument: %v", ErrDataUnavailable, err)
	}
	need := max(p.Strategy.RequiredBars(), e.atrPeriod(p)+1)
	bars, err := e.gw.GetBars(ctx, p.Instrument, p.Timeframe, need)
	if err != nil {
		return fmt.Errorf("%w: bars: %v", ErrDataUnavailable, err)
	}
	if len(bars) < need {
		return fmt.Errorf("%w: have %d bars, need %d", ErrDataUnavailable, len(bars), need)
	}
	tick, err := e.gw.GetTick(ctx, p.Instrument)
	if err != nil {
		return fmt.Errorf("%w: tick: %v", ErrDataUnavailable, err)
	}

	if spec.TradeMode == market.TradeModeDisabled {
		e.log.DebugContext(ctx, "trading disabled", "instrument", p.Instrument)
		return nil
	}
	if spec.Session != nil && !spec.Session.Open(now) {
		e.log.DebugContext(ctx, "outside session", "instrument", p.Instrument)
		return nil
	}
	if p.MaxSpread > 0 && tick.Spread() > p.MaxSpread {
		e.log.InfoContext(ctx, "spread too wide",
			"instrument", p.Instrument, "spread", tick.Spread(), "max", p.MaxSpread)
		return nil
	}

	all, err := e.gw.GetOpenPositions(ctx, p.Instrument)
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}
	e.stops.Sync(p.Instrument, all)
	mine := e.adopt(p, all)
	e.settleVanished(ctx, p, mine)

	atr, err := indicators.ATR(bars, e.atrPeriod(p))
	if err != nil {
		return fmt.Errorf("%w: atr: %v", ErrDataUnavailable, err)
	}

	if len(mine) > 0 {
		e.manage(ctx, p, mine, tick, spec, atr)
		if p.Strategy.CheckExit(bars) {
			e.exit(ctx, p, mine)
		}
		return nil
	}

	if !spec.Tradable(now) {
		return nil
	}
	sig := p.Strategy.CheckEntry(bars)
	if sig == market.None {
		return nil
	}
	return e.enter(ctx, p, sig, mine, tick, spec, atr)
}

// adopt returns the positions carrying the pair's tag and starts tracking any
// it did not know, such as positions opened before a restart.
func (e *Engine) adopt(p Pair, all []broker.Position) []broker.Position {
	var mine []broker.Position
	for _, pos := range all {
		if pos.Comment != p.Tag() {
			continue
		}
		mine = append(mine, pos)
		if _, ok := e.tickets[pos.Ticket]; !ok {
			e.tickets[pos.Ticket] = owned{
				key:        p.Key(),
				instrument: pos.Instrument,
				direction:  pos.Direction,
				volume:     pos.Volume,
			}
		}
	}
	return mine
}

// settleVanished accounts for tickets of the pair the venue closed on its own,
// by stop loss, take profit or stop out.
func (e *Engine) settleVanished(ctx context.Context, p Pair, open []broker.Position) {
	live := make(map[string]bool, len(open))
	for _, pos := range open {
		live[pos.Ticket] = true
	}
	for ticket, o := range e.tickets {
		if o.key != p.Key() || live[ticket] {
			continue
		}
		delete(e.tickets, ticket)
		e.stops.Forget(ticket)

		cp, ok, err := e.gw.closedPosition(ctx, ticket)
		switch {
		case !ok:
			e.log.WarnContext(ctx, "position closed outside the engine, result unknown",
				"strategy", p.Strategy.Name(), "instrument", p.Instrument, "ticket", ticket)
			continue
		case err != nil:
			e.log.WarnContext(ctx, "closed position lookup failed",
				"strategy", p.Strategy.Name(), "instrument", p.Instrument, "ticket", ticket, "error", err)
			continue
		}

		closedAt := cp.CloseTime
		if closedAt.IsZero() {
			closedAt = e.now()
		}
		e.counters[p.Key()].RecordClose(closedAt, cp.RealizedPnL, e.cfg.Location)
		e.record(ctx, journal.Record{
			Time:        closedAt,
			Strategy:    p.Strategy.Name(),
			Instrument:  p.Instrument,
			Action:      journal.ActionExit,
			Direction:   o.direction,
			Price:       cp.ClosePrice,
			Volume:      o.volume,
			Outcome:     journal.OutcomeSuccess,
			Ticket:      ticket,
			RealizedPnL: cp.RealizedPnL,
			Reason:      cp.Reason,
		})
		e.log.InfoContext(ctx, "position closed by venue",
			"strategy", p.Strategy.Name(), "instrument", p.Instrument,
			"ticket", ticket, "reason", cp.Reason, "pnl", cp.RealizedPnL)
	}
}

func (e *Engine) manage(ctx context.Context, p Pair, open []broker.Position,
	tick market.Tick, spec market.InstrumentSpec, atr float64) {

	for _, pos := range open {
		mod, sent := e.stops.Manage(ctx, pos, tick, spec, atr, p.Stops)
		if !sent {
			continue
		}
		outcome := mod.Result.Outcome.String()
		if mod.Err != nil {
			outcome = "error"
		}
		e.metrics.StopModified(p.Instrument, string(mod.Kind), outcome)
	}
}

func (e *Engine) exit(ctx context.Context, p Pair, open []broker.Position) {
	for _, pos := range open {
		res, err := e.gw.ClosePosition(ctx, pos.Ticket)
		if err == nil {
			err = res.Err()
		}
		rec := journal.Record{
			Time:       e.now(),
			Strategy:   p.Strategy.Name(),
			Instrument: p.Instrument,
			Action:     journal.ActionExit,
			Direction:  pos.Direction,
			Price:      res.Price,
			Volume:     pos.Volume,
			Ticket:     pos.Ticket,
			Reason:     "exit_signal",
		}
		if err != nil {
			rec.Outcome = journal.OutcomeFail
			rec.Reason = err.Error()
			e.record(ctx, rec)
			e.metrics.Order(p.Strategy.Name(), p.Instrument, "close_failed")
			e.log.ErrorContext(ctx, "close failed",
				"strategy", p.Strategy.Name(), "instrument", p.Instrument, "ticket", pos.Ticket, "error", err)
			continue
		}

		rec.Outcome = journal.OutcomeSuccess
		rec.RealizedPnL = res.RealizedPnL
		e.record(ctx, rec)
		e.counters[p.Key()].RecordClose(rec.Time, res.RealizedPnL, e.cfg.Location)
		delete(e.tickets, pos.Ticket)
		e.stops.Forget(pos.Ticket)
		e.metrics.Order(p.Strategy.Name(), p.Instrument, "closed")
		e.log.InfoContext(ctx, "position closed on exit signal",
			"strategy", p.Strategy.Name(), "instrument", p.Instrument,
			"ticket", pos.Ticket, "price", res.Price, "pnl", res.RealizedPnL)
	}
}

func (e *Engine) enter(ctx context.Context, p Pair, sig market.Signal, open []broker.Position,
	tick market.Tick, spec market.InstrumentSpec, atr float64) error {

	name := p.Strategy.Name()
	in := risk.GuardInput{
		Now:        e.now(),
		Signal:     sig,
		Account:    e.acct,
		Positions:  open,
		Counters:   *e.counters[p.Key()],
		Policy:     e.cfg.Policy,
		Allocation: p.Allocation,
		Trend:      e.cfg.Trend,
	}
	if e.cfg.Trend.Enabled {
		htf, err := e.gw.GetBars(ctx, p.Instrument, e.cfg.Trend.Timeframe, e.cfg.Trend.SlowPeriod+10)
		if err != nil {
			e.log.DebugContext(ctx, "higher timeframe unavailable", "instrument", p.Instrument, "error", err)
		}
		in.HigherTF = htf
	}

	d := e.chain.Evaluate(in)
	if !d.Allowed {
		e.metrics.GuardRejected(name, p.Instrument, string(d.Reason()))
		e.log.InfoContext(ctx, "entry rejected",
			"strategy", name, "instrument", p.Instrument, "signal", sig, "reason", d.Reason(), "detail", d.Violation.Msg)
		return nil
	}

	dir := sig.Direction()
	price := tick.EntryPrice(dir)
	sl, tp, err := stops.Levels(dir, price, atr, p.StopLossATR, p.TakeProfitATR, spec, tick.Spread())
	if err != nil {
		return fmt.Errorf("stop levels: %w", err)
	}
	marginPerLot, err := e.gw.EstimateMargin(ctx, p.Instrument, dir, 1, price)
	if err != nil {
		return fmt.Errorf("estimate margin: %w", err)
	}

	sz, err := risk.Size(risk.SizingInput{
		Entry:        price,
		Stop:         sl,
		Equity:       e.acct.Equity,
		Allocation:   p.Allocation,
		MarginPerLot: marginPerLot,
		Spec:         spec,
		Policy:       e.cfg.Policy,
	})
	if err != nil {
		e.metrics.SizingFailed(name, p.Instrument)
		if errors.Is(err, risk.ErrVolumeBelowMinimum) {
			e.log.WarnContext(ctx, "entry skipped", "strategy", name, "instrument", p.Instrument, "error", err)
			return nil
		}
		return fmt.Errorf("size: %w", err)
	}

	req := broker.OrderRequest{
		Instrument: p.Instrument,
		Direction:  dir,
		Volume:     sz.Volume,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    p.Tag(),
	}
	res, err := e.gw.SendOrder(ctx, req)
	if err == nil {
		err = res.Err()
	}
	rec := journal.Record{
		Time:       e.now(),
		Strategy:   name,
		Instrument: p.Instrument,
		Action:     journal.ActionEntry,
		Direction:  dir,
		Price:      price,
		Volume:     sz.Volume,
	}
	if err != nil {
		rec.Outcome = journal.OutcomeFail
		rec.Reason = err.Error()
		e.record(ctx, rec)
		e.metrics.Order(name, p.Instrument, "rejected")
		e.log.ErrorContext(ctx, "order failed",
			"strategy", name, "instrument", p.Instrument, "direction", dir, "volume", sz.Volume, "error", err)
		return nil
	}

	if res.Price > 0 {
		rec.Price = res.Price
	}
	rec.Outcome = journal.OutcomeSuccess
	rec.Ticket = res.Ticket
	e.record(ctx, rec)
	e.counters[p.Key()].RecordEntry(rec.Time)
	if res.Ticket != "" {
		e.tickets[res.Ticket] = owned{key: p.Key(), instrument: p.Instrument, direction: dir, volume: sz.Volume}
	}
	e.metrics.Order(name, p.Instrument, "filled")

	plannedRisk := risk.PlannedRisk(sz.Volume, price, sl, spec)
	e.log.InfoContext(ctx, "position opened",
		"strategy", name, "instrument", p.Instrument, "ticket", res.Ticket,
		"direction", dir, "volume", sz.Volume, "price", rec.Price, "sl", sl, "tp", tp,
		"risk", plannedRisk, "risk_pct", risk.RiskPct(plannedRisk, e.acct.Equity),
		"rr", risk.RR(price, sl, tp), "margin_cap", sz.MarginCap, "atr", round(atr, spec.Digits+1))
	return nil
}

func (e *Engine) record(ctx context.Context, r journal.Record) {
	if err := e.journal.Record(ctx, r); err != nil {
		e.log.WarnContext(ctx, "journal write failed", "action", r.Action, "ticket", r.Ticket, "error", err)
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
