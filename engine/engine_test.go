package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/broker/sim"
	"github.com/rustyeddy/riskengine/journal"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/metrics"
	"github.com/rustyeddy/riskengine/risk"
	"github.com/rustyeddy/riskengine/stops"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// scripted emits whatever the test sets.
type scripted struct {
	entry market.Signal
	exit  bool
}

func (s *scripted) Name() string { return "scripted" }
func (s *scripted) RequiredBars() int { return 20 }
func (s *scripted) CheckEntry(bars []market.Bar) market.Signal { return s.entry }
func (s *scripted) CheckExit(bars []market.Bar) bool { return s.exit }

type memJournal struct {
	mu      sync.Mutex
	records []journal.Record
	equity  []journal.EquitySnapshot
}

func (m *memJournal) Record(_ context.Context, r journal.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memJournal) RecordEquity(_ context.Context, e journal.EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, e)
	return nil
}

func (m *memJournal) ListRecords(_ context.Context, f journal.Filter) ([]journal.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []journal.Record
	for _, r := range m.records {
		if r.Strategy == f.Strategy && r.Instrument == f.Instrument {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memJournal) Close() error { return nil }

func (m *memJournal) byAction(a journal.Action) []journal.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []journal.Record
	for _, r := range m.records {
		if r.Action == a {
			out = append(out, r)
		}
	}
	return out
}

func eurusd() market.InstrumentSpec {
	return market.InstrumentSpec{
		Name:         "EURUSD",
		Point:        0.00001,
		Digits:       5,
		ContractSize: 100000,
		StopsLevel:   10,
		VolumeStep:   0.01,
		VolumeMin:    0.01,
		VolumeMax:    50,
		MarginRate:   0.01,
	}
}

type harness struct {
	t       *testing.T
	sim     *sim.Engine
	eng     *Engine
	strat   *scripted
	journal *memJournal
	metrics *metrics.Recorder
	n       int
}

func newHarness(t *testing.T, balance float64, spec market.InstrumentSpec, mutate func(*Config)) *harness {
	t.Helper()

	s := sim.NewEngine("USD", balance, market.M5)
	s.AddInstrument(spec, 2)

	h := &harness{t: t, sim: s, strat: &scripted{}, journal: &memJournal{}, metrics: metrics.New(false)}
	cfg := Config{
		Location: time.UTC,
		Policy:   risk.DefaultPolicy(),
		Trend:    risk.TrendFilter{Enabled: false},
		Pairs: []Pair{{
			Strategy:      h.strat,
			Instrument:    "EURUSD",
			Timeframe:     market.M5,
			Allocation:    1,
			StopLossATR:   1.5,
			TakeProfitATR: 10,
			Stops:         stops.DefaultParams(),
		}},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	eng, err := New(cfg, s,
		WithJournal(h.journal),
		WithMetrics(h.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(s.Now),
	)
	require.NoError(t, err)
	h.eng = eng
	return h
}

func (h *harness) bar(c float64) {
	h.t.Helper()
	b := market.Bar{Time: t0.Add(time.Duration(h.n) * 5 * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 10}
	require.NoError(h.t, h.sim.AddBar("EURUSD", b))
	h.n++
}

// warmup feeds 30 bars alternating between 1.1000 and 1.1010, an ATR of 0.001.
func (h *harness) warmup() {
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			h.bar(1.1000)
		} else {
			h.bar(1.1010)
		}
	}
}

func (h *harness) tick() {
	h.t.Helper()
	require.NoError(h.t, h.eng.Tick(context.Background()))
}

func (h *harness) open() []broker.Position {
	h.t.Helper()
	pos, err := h.sim.GetOpenPositions(context.Background(), "EURUSD")
	require.NoError(h.t, err)
	return pos
}

func (h *harness) count(name string) int {
	h.t.Helper()
	n, err := testutil.GatherAndCount(h.metrics.Registry(), name)
	require.NoError(h.t, err)
	return n
}

func TestEntryOpensSizedPosition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10000, eurusd(), nil)
	h.warmup()
	h.strat.entry = market.Buy
	h.tick()

	open := h.open()
	require.Len(t, open, 1)
	pos := open[0]

	// risk 200 over a 150/lot stop allows 1.33, the 1000 margin cap at 1101.01/lot only 0.90
	assert.InDelta(t, 0.90, pos.Volume, 1e-9)
	assert.InDelta(t, 1.10101, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 1.09951, pos.StopLoss, 1e-9)
	assert.InDelta(t, 1.11101, pos.TakeProfit, 1e-9)
	assert.Equal(t, "scripted", pos.Comment)

	assert.Equal(t, h.sim.Now(), h.eng.Counters("scripted", "EURUSD").LastEntry)

	entries := h.journal.byAction(journal.ActionEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, pos.Ticket, entries[0].Ticket)
	assert.Equal(t, market.Long, entries[0].Direction)
	assert.Len(t, h.journal.equity, 1)
}

func TestNoEntryWhileInPosition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10000, eurusd(), nil)
	h.warmup()
	h.strat.entry = market.Buy
	h.tick()
	h.bar(1.1000)
	h.tick()

	assert.Len(t, h.open(), 1)
	assert.Len(t, h.journal.byAction(journal.ActionEntry), 1)
}

func TestExitSignalClosesAndCounts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10000, eurusd(), nil)
	h.warmup()
	h.strat.entry = market.Buy
	h.tick()
	require.Len(t, h.open(), 1)

	h.strat.entry = market.None
	h.strat.exit = true
	h.tick()
	assert.Empty(t, h.open())

	exits := h.journal.byAction(journal.ActionExit)
	require.Len(t, exits, 1)
	assert.Equal(t, journal.OutcomeSuccess, exits[0].Outcome)
	// closed straight away at the bid: the spread is the loss
	assert.InDelta(t, -1.8, exits[0].RealizedPnL, 1e-6)

	c := h.eng.Counters("scripted", "EURUSD")
	assert.Equal(t, 1, c.ConsecutiveLosses)
	assert.InDelta(t, -1.8, c.DailyPnL, 1e-6)
}

func TestGuardRejectsReentryWithinInterval(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10000, eurusd(), nil)
	h.warmup()
	h.strat.entry = market.Buy
	h.tick()
	h.strat.exit = true
	h.tick()
	require.Empty(t, h.open())

	h.strat.exit = false
	h.tick()

	assert.Empty(t, h.open())
	assert.Len(t, h.journal.byAction(journal.ActionEntry), 1)
	assert.Equal(t, 1, h.count("riskengine_guard_rejections_total"))
}

func TestSizingBelowMinimumSkipsEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1000, eurusd(), func(c *Config) {
		c.Policy.MinLot = 0.5
	})
	h.warmup()
	h.strat.entry = market.Buy
	h.tick()

	assert.Empty(t, h.open())
	assert.Empty(t, h.journal.byAction(journal.ActionEntry))
	assert.Equal(t, 1, h.count("riskengine_sizing_failures_total"))
}

func TestBreakEvenThenTrailing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10000, eurusd(), nil)
	h.warmup()
	h.strat.entry = market.Buy
	h.tick()
	ticket := h.open()[0].Ticket
	h.strat.entry = market.None

	h.bar(1.1030)
	h.tick()
	st, ok := h.eng.StopState(ticket)
	require.True(t, ok)
	assert.True(t, st.BreakEvenApplied)
	assert.Nil(t, st.LastTrailed)
	assert.InDelta(t, 1.10111, h.open()[0].StopLoss, 1e-9)

	h.bar(1.1060)
	h.tick()
	st, _ = h.eng.StopState(ticket)
	require.NotNil(t, st.LastTrailed)
	trailed := h.open()[0].StopLoss
	assert.InDelta(t, 1.10478, trailed, 1e-9)
	assert.InDelta(t, trailed, *st.LastTrailed, 1e-12)

	// a pullback never loosens the stop
	h.bar(1.1055)
	h.tick()
	assert.InDelta(t, trailed, h.open()[0].StopLoss, 1e-12)

	assert.Equal(t, 2, h.count("riskengine_stop_modifications_total"))
}

func TestVenueStopLossUpdatesCounters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10000, eurusd(), nil)
	h.warmup()
	h.strat.entry = market.Buy
	h.tick()
	ticket := h.open()[0].Ticket
	h.strat.entry = market.None

	h.bar(1.0990)
	require.Empty(t, h.open())
	h.tick()

	_, ok := h.eng.StopState(ticket)
	assert.False(t, ok)

	exits := h.journal.byAction(journal.ActionExit)
	require.Len(t, exits, 1)
	assert.Equal(t, sim.ReasonStopLoss, exits[0].Reason)
	assert.Equal(t, ticket, exits[0].Ticket)
	assert.InDelta(t, -135, exits[0].RealizedPnL, 1e-6)

	c := h.eng.Counters("scripted", "EURUSD")
	assert.Equal(t, 1, c.ConsecutiveLosses)
	assert.InDelta(t, -135, c.DailyPnL, 1e-6)
}

func TestRecoverRebuildsCounters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10000, eurusd(), nil)
	h.warmup()

	rec := func(min int, a journal.Action, o journal.Outcome, pnl float64) journal.Record {
		return journal.Record{
			Time: t0.Add(time.Duration(min) * time.Minute), Strategy: "scripted", Instrument: "EURUSD",
			Action: a, Outcome: o, RealizedPnL: pnl,
		}
	}
	h.journal.records = []journal.Record{
		rec(10, journal.ActionEntry, journal.OutcomeSuccess, 0),
		rec(20, journal.ActionExit, journal.OutcomeSuccess, -100),
		rec(30, journal.ActionEntry, journal.OutcomeSuccess, 0),
		rec(40, journal.ActionExit, journal.OutcomeSuccess, -50),
		rec(50, journal.ActionEntry, journal.OutcomeSuccess, 0),
		rec(60, journal.ActionExit, journal.OutcomeSuccess, -20),
		rec(70, journal.ActionEntry, journal.OutcomeFail, 0),
	}
	require.NoError(t, h.eng.Recover(context.Background(), h.journal))

	c := h.eng.Counters("scripted", "EURUSD")
	assert.Equal(t, 3, c.ConsecutiveLosses)
	assert.InDelta(t, -170, c.DailyPnL, 1e-9)
	assert.Equal(t, t0.Add(50*time.Minute), c.LastEntry)

	// three losses in a row block the next entry
	h.strat.entry = market.Buy
	h.tick()
	assert.Empty(t, h.open())
	assert.Equal(t, 1, h.count("riskengine_guard_rejections_total"))
}

func TestTrendFilterOnResampledBars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tf       market.Timeframe
		signal   market.Signal
		wantOpen int
		rejected int
	}{
		{"buy against falling H1 trend", market.H1, market.Buy, 0, 1},
		{"sell with falling H1 trend", market.H1, market.Sell, 1, 0},
		{"unavailable higher timeframe passes", market.M1, market.Buy, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, 10000, eurusd(), func(c *Config) {
				c.Trend = risk.TrendFilter{Enabled: true, Timeframe: tt.tf, FastPeriod: 3, SlowPeriod: 5}
			})
			// eight hours of M5 bars falling two pips each
			for i := 0; i < 96; i++ {
				h.bar(1.1200 - 0.0002*float64(i))
			}
			h.strat.entry = tt.signal
			h.tick()

			assert.Len(t, h.open(), tt.wantOpen)
			assert.Len(t, h.journal.byAction(journal.ActionEntry), tt.wantOpen)
			assert.Equal(t, tt.rejected, h.count("riskengine_guard_rejections_total"))
			if tt.rejected > 0 {
				want := `
# HELP riskengine_guard_rejections_total Entries vetoed by the guard chain
# TYPE riskengine_guard_rejections_total counter
riskengine_guard_rejections_total{instrument="EURUSD",reason="HIGHER_TIMEFRAME_TREND_MISMATCH",strategy="scripted"} 1
`
				assert.NoError(t, testutil.GatherAndCompare(h.metrics.Registry(),
					strings.NewReader(want), "riskengine_guard_rejections_total"))
			}
		})
	}
}

func TestGatesBlockEntries(t *testing.T) {
	t.Parallel()

	disabled := eurusd()
	disabled.TradeMode = market.TradeModeDisabled
	closeOnly := eurusd()
	closeOnly.TradeMode = market.TradeModeCloseOnly

	tests := []struct {
		name   string
		spec   market.InstrumentSpec
		mutate func(*Config)
	}{
		{name: "trading disabled", spec: disabled},
		{name: "close only", spec: closeOnly},
		{name: "spread too wide", spec: eurusd(), mutate: func(c *Config) { c.Pairs[0].MaxSpread = 0.00001 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, 10000, tt.spec, tt.mutate)
			h.warmup()
			h.strat.entry = market.Buy
			h.tick()
			assert.Empty(t, h.open())
			assert.Empty(t, h.journal.byAction(journal.ActionEntry))
		})
	}
}

func TestShortHistorySkipsPair(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10000, eurusd(), nil)
	for i := 0; i < 5; i++ {
		h.bar(1.1)
	}
	h.strat.entry = market.Buy
	h.tick()
	assert.Empty(t, h.open())
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10000, eurusd(), func(c *Config) { c.Interval = time.Millisecond })
	h.warmup()
	h.strat.entry = market.Buy

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, h.eng.Run(ctx))
	assert.Empty(t, h.open())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	s := sim.NewEngine("USD", 1000, market.M5)
	pair := func(name string, alloc float64) Pair {
		return Pair{
			Strategy: &named{name}, Instrument: "EURUSD", Timeframe: market.M5,
			Allocation: alloc, StopLossATR: 1.5, TakeProfitATR: 3, Stops: stops.DefaultParams(),
		}
	}

	tests := []struct {
		name  string
		pairs []Pair
		ok    bool
	}{
		{"valid", []Pair{pair("a", 0.5), pair("b", 0.5)}, true},
		{"over allocated", []Pair{pair("a", 0.7), pair("b", 0.5)}, false},
		{"duplicate", []Pair{pair("a", 0.2), pair("a", 0.2)}, false},
		{"no pairs", nil, false},
		{"zero allocation", []Pair{pair("a", 0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(Config{Policy: risk.DefaultPolicy(), Pairs: tt.pairs}, s)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

type named struct{ name string }

func (n *named) Name() string { return n.name }
func (n *named) RequiredBars() int { return 1 }
func (n *named) CheckEntry([]market.Bar) market.Signal { return market.None }
func (n *named) CheckExit([]market.Bar) bool { return false }
