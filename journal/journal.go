// Package journal is the append-only trade log. Every entry and exit attempt
// is recorded with its outcome; the engine reads the log back on restart to
// rebuild per-pair session counters.
package journal

import (
	"context"
	"time"

	"github.com/rustyeddy/riskengine/id"
	"github.com/rustyeddy/riskengine/market"
)

type Action string

const (
	ActionEntry Action = "entry"
	ActionExit  Action = "exit"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// Record is one entry or exit attempt for a (strategy, instrument) pair.
type Record struct {
	ID          string
	Time        time.Time
	Strategy    string
	Instrument  string
	Action      Action
	Direction   market.Direction
	Price       float64
	Volume      float64
	Outcome     Outcome
	Ticket      string
	RealizedPnL float64 // exits only
	Reason      string
}

// stamp fills in a missing time and ID.
func stamp(r Record) Record {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	if r.ID == "" {
		r.ID = id.NewAt(r.Time)
	}
	return r
}

type EquitySnapshot struct {
	Time        time.Time
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	MarginLevel float64
}

// Filter selects records for one pair. Zero Since means from the beginning.
type Filter struct {
	Strategy   string
	Instrument string
	Since      time.Time
}

func (f Filter) match(r Record) bool {
	if f.Strategy != "" && r.Strategy != f.Strategy {
		return false
	}
	if f.Instrument != "" && r.Instrument != f.Instrument {
		return false
	}
	return f.Since.IsZero() || !r.Time.Before(f.Since)
}

type Journal interface {
	Record(ctx context.Context, r Record) error
	RecordEquity(ctx context.Context, e EquitySnapshot) error
	Close() error
}

// Reader lists records oldest first.
type Reader interface {
	ListRecords(ctx context.Context, f Filter) ([]Record, error)
}

// Store is a journal that can also be read back.
type Store interface {
	Journal
	Reader
}

// Discard is a Store that keeps nothing.
type Discard struct{}

func (Discard) Record(context.Context, Record) error { return nil }
func (Discard) RecordEquity(context.Context, EquitySnapshot) error { return nil }
func (Discard) ListRecords(context.Context, Filter) ([]Record, error) { return nil, nil }
func (Discard) Close() error { return nil }
