package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Bar is a single OHLCV price bar. Bar slices are always ordered oldest to newest.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Closes returns the close prices of bars in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Last returns the newest n bars, or all of them if fewer exist.
func Last(bars []Bar, n int) []Bar {
	if n <= 0 || n >= len(bars) {
		return bars
	}
	return bars[len(bars)-n:]
}

// Resample aggregates bars into the coarser timeframe tf. Buckets are aligned to
// unix time multiples of the timeframe. The last bucket may be partial.
func Resample(bars []Bar, tf Timeframe) ([]Bar, error) {
	sec, err := tf.Seconds()
	if err != nil {
		return nil, err
	}
	step := int64(sec)

	var out []Bar
	var bucket int64 = -1
	for _, b := range bars {
		k := b.Time.Unix() / step
		if k != bucket || len(out) == 0 {
			bucket = k
			out = append(out, Bar{
				Time:   time.Unix(k*step, 0).UTC(),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			})
			continue
		}
		cur := &out[len(out)-1]
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	return out, nil
}

// ReadBarsCSV parses bars from CSV with the columns time,open,high,low,close[,volume].
// Time may be RFC3339 or unix seconds. A header row is skipped when present.
func ReadBarsCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []Bar
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bars: %w", err)
		}
		line++
		if len(rec) < 5 {
			return nil, fmt.Errorf("read bars: line %d: want at least 5 fields, got %d", line, len(rec))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue
		}

		ts, err := parseBarTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("read bars: line %d: %w", line, err)
		}
		vals := make([]float64, 5)
		for i := 1; i < len(rec) && i <= 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("read bars: line %d field %d: %w", line, i, err)
			}
			vals[i-1] = v
		}
		bars = append(bars, Bar{
			Time:   ts,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return bars, nil
}

func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if u, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(u, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return t.UTC(), nil
}
