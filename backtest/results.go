package backtest

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rustyeddy/riskengine/broker/sim"
)

// Result is a lightweight summary of a backtest run.
type Result struct {
	StartBalance float64
	Balance      float64
	Equity       float64

	Trades      int
	Wins        int
	Losses      int
	GrossProfit float64
	GrossLoss   float64 // positive
	ByReason    map[string]int

	MaxDrawdownPct float64

	Bars   int
	Cycles int
	Start  time.Time
	End    time.Time
}

func (r *Result) addTrades(trades []sim.Trade) {
	r.ByReason = make(map[string]int)
	for _, tr := range trades {
		r.Trades++
		r.ByReason[tr.Reason]++
		switch {
		case tr.RealizedPnL > 0:
			r.Wins++
			r.GrossProfit += tr.RealizedPnL
		case tr.RealizedPnL < 0:
			r.Losses++
			r.GrossLoss -= tr.RealizedPnL
		}
	}
}

func (r Result) NetPL() float64 {
	return r.Balance - r.StartBalance
}

func (r Result) ReturnPct() float64 {
	if r.StartBalance == 0 {
		return 0
	}
	return r.NetPL() / r.StartBalance * 100
}

func (r Result) WinRate() float64 {
	if r.Trades == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Trades) * 100
}

// ProfitFactor is gross profit over gross loss, +Inf with no losses.
func (r Result) ProfitFactor() float64 {
	if r.GrossLoss == 0 {
		if r.GrossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return r.GrossProfit / r.GrossLoss
}

// Print renders the result as a table.
func (r Result) Print(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("BACKTEST RESULT")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Start", r.Start.Format(time.RFC3339)},
		{"End", r.End.Format(time.RFC3339)},
		{"Bars", r.Bars},
		{"Cycles", r.Cycles},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Trades", r.Trades},
		{"Wins", r.Wins},
		{"Losses", r.Losses},
		{"Win Rate", fmt.Sprintf("%.2f%%", r.WinRate())},
		{"Profit Factor", fmt.Sprintf("%.2f", r.ProfitFactor())},
	})
	reasons := make([]string, 0, len(r.ByReason))
	for k := range r.ByReason {
		reasons = append(reasons, k)
	}
	sort.Strings(reasons)
	for _, k := range reasons {
		t.AppendRow(table.Row{"  " + k, r.ByReason[k]})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Start Balance", fmt.Sprintf("%.2f", r.StartBalance)},
		{"End Balance", fmt.Sprintf("%.2f", r.Balance)},
		{"Net P/L", fmt.Sprintf("%.2f", r.NetPL())},
		{"Return", fmt.Sprintf("%.2f%%", r.ReturnPct())},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", r.MaxDrawdownPct)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, Align: text.AlignRight},
	})
	t.Render()
}

// drawdown tracks the largest peak-to-trough equity drop.
type drawdown struct {
	peak   float64
	maxPct float64
}

func (d *drawdown) add(equity float64) {
	if equity > d.peak {
		d.peak = equity
	}
	if d.peak > 0 {
		if pct := (d.peak - equity) / d.peak * 100; pct > d.maxPct {
			d.maxPct = pct
		}
	}
}
