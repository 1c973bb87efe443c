package journal

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskengine/market"
)

func TestCSVPairFileHeader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, j.Record(ctx, Record{
		Time:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Strategy:   "EMACross",
		Instrument: "EURUSD",
		Action:     ActionEntry,
		Direction:  market.Long,
		Price:      1.1,
		Volume:     0.2,
		Outcome:    OutcomeSuccess,
		Ticket:     "T1",
	}))
	require.NoError(t, j.Close())

	fh, err := os.Open(filepath.Join(dir, "EMACross_EURUSD.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fh.Close() })

	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"timestamp", "action", "symbol", "price", "lot", "result"}, rows[0][:6])
	assert.Equal(t, []string{"2024-01-02T03:04:05Z", "entry", "EURUSD", "1.1", "0.2", "success"}, rows[1][:6])
}

func TestCSVAppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		j, err := NewCSV(dir)
		require.NoError(t, err)
		require.NoError(t, j.Record(ctx, Record{
			Time:        base.Add(time.Duration(i) * time.Hour),
			Strategy:    "VWAP",
			Instrument:  "GBPUSD",
			Action:      ActionExit,
			Direction:   market.Short,
			Price:       1.25,
			Volume:      0.1,
			Outcome:     OutcomeSuccess,
			RealizedPnL: -5.5,
			Reason:      "stop",
		}))
		require.NoError(t, j.Close())
	}

	j, err := NewCSV(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	recs, err := j.ListRecords(ctx, Filter{Strategy: "VWAP", Instrument: "GBPUSD"})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	for i, r := range recs {
		assert.True(t, r.Time.Equal(base.Add(time.Duration(i)*time.Hour)))
		assert.Equal(t, ActionExit, r.Action)
		assert.Equal(t, market.Short, r.Direction)
		assert.InDelta(t, -5.5, r.RealizedPnL, 1e-9)
		assert.Equal(t, "stop", r.Reason)
		assert.NotEmpty(t, r.ID)
	}
}

func TestCSVListRecordsSince(t *testing.T) {
	t.Parallel()

	j, err := NewCSV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{day.Add(-time.Hour), day.Add(time.Hour), day.Add(2 * time.Hour)} {
		require.NoError(t, j.Record(ctx, Record{
			Time: ts, Strategy: "S", Instrument: "X", Action: ActionEntry, Outcome: OutcomeSuccess,
		}))
	}

	recs, err := j.ListRecords(ctx, Filter{Strategy: "S", Instrument: "X", Since: day})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCSVListRecordsMissingFile(t *testing.T) {
	t.Parallel()

	j, err := NewCSV(t.TempDir())
	require.NoError(t, err)

	recs, err := j.ListRecords(context.Background(), Filter{Strategy: "S", Instrument: "X"})
	assert.NoError(t, err)
	assert.Empty(t, recs)

	_, err = j.ListRecords(context.Background(), Filter{Strategy: "S"})
	assert.Error(t, err)
}

func TestCSVReadsOperatorOnlyRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)

	legacy := "timestamp,action,symbol,price,lot,result\n" +
		"2024-01-02T10:00:00Z,exit,USDRUB,90.5,0.1,success\n"
	require.NoError(t, os.WriteFile(j.PairPath("CCI", "USDRUB"), []byte(legacy), 0o644))

	recs, err := j.ListRecords(context.Background(), Filter{Strategy: "CCI", Instrument: "USDRUB"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "CCI", recs[0].Strategy)
	assert.Equal(t, ActionExit, recs[0].Action)
	assert.InDelta(t, 90.5, recs[0].Price, 1e-9)
}

func TestCSVRecordEquity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)

	require.NoError(t, j.RecordEquity(context.Background(), EquitySnapshot{
		Time:    time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		Balance: 1000, Equity: 999.5, MarginUsed: 10, FreeMargin: 989.5, MarginLevel: 99.95,
	}))
	require.NoError(t, j.Close())

	data, err := os.ReadFile(filepath.Join(dir, "equity.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"time,balance,equity,margin_used,free_margin,margin_level\n"+
			"2024-02-03T04:05:06Z,1000,999.5,10,989.5,99.95\n",
		string(data))
}
