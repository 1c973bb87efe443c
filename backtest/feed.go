// Package backtest replays historical bars through the simulated venue and
// the real engine, one engine cycle per bar close.
package backtest

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rustyeddy/riskengine/market"
)

// BarFeed merges per-instrument bar series into one time-ordered stream.
// Bars that close at the same time are yielded together.
type BarFeed struct {
	events []event
	pos    int
}

type event struct {
	symbol string
	bar    market.Bar
}

// NewBarFeed keeps bars inside [from, to). Zero bounds are open.
func NewBarFeed(series map[string][]market.Bar, from, to time.Time) *BarFeed {
	var evs []event
	for sym, bars := range series {
		for _, b := range bars {
			if inRange(b.Time, from, to) {
				evs = append(evs, event{symbol: sym, bar: b})
			}
		}
	}
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].bar.Time.Equal(evs[j].bar.Time) {
			return evs[i].bar.Time.Before(evs[j].bar.Time)
		}
		return evs[i].symbol < evs[j].symbol
	})
	return &BarFeed{events: evs}
}

// LoadBarFeed reads one bar CSV per symbol, see market.ReadBarsCSV.
func LoadBarFeed(paths map[string]string, from, to time.Time) (*BarFeed, error) {
	series := make(map[string][]market.Bar, len(paths))
	for sym, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		bars, err := market.ReadBarsCSV(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		series[sym] = bars
	}
	return NewBarFeed(series, from, to), nil
}

func (f *BarFeed) Len() int {
	return len(f.events)
}

// Next returns the bars of the next timestamp, keyed by symbol. ok is false
// once the feed is drained.
func (f *BarFeed) Next() (at time.Time, bars map[string]market.Bar, ok bool) {
	if f.pos >= len(f.events) {
		return time.Time{}, nil, false
	}
	at = f.events[f.pos].bar.Time
	bars = make(map[string]market.Bar)
	for f.pos < len(f.events) && f.events[f.pos].bar.Time.Equal(at) {
		e := f.events[f.pos]
		bars[e.symbol] = e.bar
		f.pos++
	}
	return at, bars, true
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
