package risk

import (
	"time"

	"github.com/rustyeddy/riskengine/journal"
)

// SessionCounters track one (strategy, instrument) pair through a trading day.
type SessionCounters struct {
	Day               time.Time // midnight of the trading day, in the engine's zone
	DailyPnL          float64
	ConsecutiveLosses int
	LastEntry         time.Time
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Roll starts a new trading day if now falls after Day. Daily P&L and the
// loss streak both reset; LastEntry survives so the entry interval still
// holds across midnight. It reports whether a reset happened.
func (c *SessionCounters) Roll(now time.Time, loc *time.Location) bool {
	d := dayStart(now, loc)
	if !c.Day.IsZero() && !d.After(c.Day) {
		return false
	}
	reset := !c.Day.IsZero()
	c.Day = d
	c.DailyPnL = 0
	c.ConsecutiveLosses = 0
	return reset
}

func (c *SessionCounters) RecordEntry(t time.Time) {
	c.LastEntry = t
}

// RecordClose adds a realized result. Any non-negative result ends a losing
// streak.
func (c *SessionCounters) RecordClose(t time.Time, pnl float64, loc *time.Location) {
	c.Roll(t, loc)
	c.DailyPnL += pnl
	if pnl < 0 {
		c.ConsecutiveLosses++
	} else {
		c.ConsecutiveLosses = 0
	}
}

// RebuildCounters replays a pair's journal so a restarted engine resumes with
// the same daily P&L, loss streak and last entry time. Failed attempts are
// ignored.
func RebuildCounters(records []journal.Record, now time.Time, loc *time.Location) SessionCounters {
	var c SessionCounters
	c.Roll(now, loc)
	for _, r := range records {
		if r.Outcome != journal.OutcomeSuccess {
			continue
		}
		switch r.Action {
		case journal.ActionEntry:
			if r.Time.After(c.LastEntry) {
				c.LastEntry = r.Time
			}
		case journal.ActionExit:
			if dayStart(r.Time, loc).Equal(c.Day) {
				c.DailyPnL += r.RealizedPnL
				if r.RealizedPnL < 0 {
					c.ConsecutiveLosses++
				} else {
					c.ConsecutiveLosses = 0
				}
			}
		}
	}
	return c
}
