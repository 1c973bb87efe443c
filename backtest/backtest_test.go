package backtest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskengine/broker/sim"
	"github.com/rustyeddy/riskengine/engine"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/risk"
	"github.com/rustyeddy/riskengine/stops"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func bars(n int, start, step float64) []market.Bar {
	out := make([]market.Bar, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = market.Bar{Time: t0.Add(time.Duration(i) * 5 * time.Minute), Open: c, High: c + 0.0005, Low: c - 0.0005, Close: c, Volume: 1}
	}
	return out
}

func TestBarFeedMergesByTime(t *testing.T) {
	t.Parallel()

	f := NewBarFeed(map[string][]market.Bar{
		"EURUSD": bars(3, 1.1, 0),
		"GBPUSD": bars(2, 1.3, 0),
	}, time.Time{}, time.Time{})
	assert.Equal(t, 5, f.Len())

	var sizes []int
	var last time.Time
	for {
		at, got, ok := f.Next()
		if !ok {
			break
		}
		assert.True(t, at.After(last))
		last = at
		sizes = append(sizes, len(got))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestBarFeedRange(t *testing.T) {
	t.Parallel()

	f := NewBarFeed(map[string][]market.Bar{"EURUSD": bars(10, 1.1, 0)},
		t0.Add(10*time.Minute), t0.Add(30*time.Minute))
	assert.Equal(t, 4, f.Len())

	at, _, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Minute), at)
}

func TestLoadBarFeed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "eurusd.csv")
	data := "time,open,high,low,close,volume\n" +
		"2024-03-04T00:00:00Z,1.1,1.2,1.0,1.15,10\n" +
		"2024-03-04T00:05:00Z,1.15,1.2,1.1,1.12,12\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	f, err := LoadBarFeed(map[string]string{"EURUSD": path}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())

	_, err = LoadBarFeed(map[string]string{"EURUSD": filepath.Join(dir, "missing.csv")}, time.Time{}, time.Time{})
	assert.Error(t, err)
}

func TestDrawdown(t *testing.T) {
	t.Parallel()

	var d drawdown
	for _, e := range []float64{100, 120, 90, 110, 130, 117} {
		d.add(e)
	}
	assert.InDelta(t, 25, d.maxPct, 1e-9)
}

func TestResultStats(t *testing.T) {
	t.Parallel()

	var r Result
	r.StartBalance = 1000
	r.Balance = 1100
	r.addTrades([]sim.Trade{
		{RealizedPnL: 150, Reason: sim.ReasonTakeProfit},
		{RealizedPnL: -50, Reason: sim.ReasonStopLoss},
		{RealizedPnL: 0, Reason: sim.ReasonClosed},
	})

	assert.Equal(t, 3, r.Trades)
	assert.Equal(t, 1, r.Wins)
	assert.Equal(t, 1, r.Losses)
	assert.InDelta(t, 3, r.ProfitFactor(), 1e-9)
	assert.InDelta(t, 10, r.ReturnPct(), 1e-9)
	assert.InDelta(t, 100.0/3, r.WinRate(), 1e-9)
	assert.Equal(t, 1, r.ByReason[sim.ReasonStopLoss])

	assert.True(t, math.IsInf(Result{GrossProfit: 1}.ProfitFactor(), 1))
	assert.Zero(t, Result{}.ProfitFactor())

	var buf bytes.Buffer
	r.Print(&buf)
	assert.Contains(t, buf.String(), "BACKTEST RESULT")
	assert.Contains(t, buf.String(), "take_profit")
}

// alwaysBuy enters long whenever flat.
type alwaysBuy struct{}

func (alwaysBuy) Name() string { return "always-buy" }
func (alwaysBuy) RequiredBars() int { return 15 }
func (alwaysBuy) CheckEntry([]market.Bar) market.Signal { return market.Buy }
func (alwaysBuy) CheckExit([]market.Bar) bool { return false }

func TestRunnerReplaysThroughEngine(t *testing.T) {
	t.Parallel()

	venue := sim.NewEngine("USD", 10000, market.M5)
	venue.AddInstrument(market.InstrumentSpec{
		Name: "EURUSD", Point: 0.00001, Digits: 5, ContractSize: 100000, StopsLevel: 10,
		VolumeStep: 0.01, VolumeMin: 0.01, VolumeMax: 50, MarginRate: 0.01,
	}, 2)

	eng, err := engine.New(engine.Config{
		Location: time.UTC,
		Policy:   risk.DefaultPolicy(),
		Pairs: []engine.Pair{{
			Strategy: alwaysBuy{}, Instrument: "EURUSD", Timeframe: market.M5, Allocation: 1,
			StopLossATR: 1.5, TakeProfitATR: 2, Stops: stops.DefaultParams(),
		}},
	}, venue,
		engine.WithClock(venue.Now),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	r := Runner{
		Venue:   venue,
		Engine:  eng,
		Feed:    NewBarFeed(map[string][]market.Bar{"EURUSD": bars(100, 1.1, 0.0002)}, time.Time{}, time.Time{}),
		Options: RunnerOptions{Warmup: 20, CloseEnd: true},
	}
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100, res.Bars)
	assert.Equal(t, 80, res.Cycles)
	assert.Equal(t, t0, res.Start)
	assert.Positive(t, res.Trades)

	open, err := venue.GetOpenPositions(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.InDelta(t, res.Balance, res.Equity, 1e-9)
	assert.InDelta(t, res.Balance-10000, res.NetPL(), 1e-9)
}
