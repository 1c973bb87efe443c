package market

import "time"

// Tick is a top-of-book quote.
type Tick struct {
	Instrument string
	Time       time.Time
	Bid        float64
	Ask        float64
}

func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// EntryPrice is the price a new position in direction d fills at:
// longs buy at the ask, shorts sell at the bid.
func (t Tick) EntryPrice(d Direction) float64 {
	if d == Short {
		return t.Bid
	}
	return t.Ask
}

// ExitPrice is the price an open position in direction d is marked and closed at:
// longs on the bid, shorts on the ask.
func (t Tick) ExitPrice(d Direction) float64 {
	if d == Short {
		return t.Ask
	}
	return t.Bid
}
