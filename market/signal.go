package market

import (
	"fmt"
	"strings"
)

// Direction is the side of a position or order.
type Direction int

const (
	Long Direction = iota + 1
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "none"
	}
}

// ParseDirection accepts the String form of a Direction, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	case "", "none":
		return 0, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Sign returns +1 for Long and -1 for Short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Signal is what a strategy emits for a bar window.
type Signal int

const (
	None Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "NONE"
	}
}

// Direction maps Buy to Long and Sell to Short. None maps to the zero Direction.
func (s Signal) Direction() Direction {
	switch s {
	case Buy:
		return Long
	case Sell:
		return Short
	default:
		return 0
	}
}
