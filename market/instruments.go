package market

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// TradeMode is the venue's trading permission for an instrument.
type TradeMode int

const (
	TradeModeFull TradeMode = iota
	TradeModeCloseOnly
	TradeModeDisabled
)

func (m TradeMode) String() string {
	switch m {
	case TradeModeFull:
		return "full"
	case TradeModeCloseOnly:
		return "close_only"
	default:
		return "disabled"
	}
}

// InstrumentSpec is the read-only contract description of a tradable instrument.
type InstrumentSpec struct {
	Name         string
	Point        float64 // smallest price increment
	Digits       int
	ContractSize float64 // base units per 1.0 lot
	StopsLevel   int     // minimum stop distance from price, in points
	VolumeStep   float64
	VolumeMin    float64
	VolumeMax    float64
	MarginRate   float64
	TradeMode    TradeMode

	// QuoteToAccount converts one unit of quote currency into account currency.
	// Zero is treated as 1.
	QuoteToAccount float64

	// Session restricts trading to a daily window. Nil means always open.
	Session *Session
}

// MinStopDistance is StopsLevel expressed in price units.
func (s InstrumentSpec) MinStopDistance() float64 {
	return float64(s.StopsLevel) * s.Point
}

// Rate returns QuoteToAccount, defaulting to 1.
func (s InstrumentSpec) Rate() float64 {
	if s.QuoteToAccount <= 0 {
		return 1
	}
	return s.QuoteToAccount
}

// RoundPrice rounds p to the nearest point.
func (s InstrumentSpec) RoundPrice(p float64) float64 {
	if s.Point <= 0 {
		return p
	}
	return math.Round(p/s.Point) * s.Point
}

// Tradable reports whether new orders may be placed at t.
func (s InstrumentSpec) Tradable(t time.Time) bool {
	if s.TradeMode != TradeModeFull {
		return false
	}
	return s.Session == nil || s.Session.Open(t)
}

// Session is a daily trading window in a fixed location. Start and End are
// "HH:MM" wall-clock times; the window is inclusive on both ends.
type Session struct {
	Location *time.Location
	Start    time.Duration // offset from local midnight
	End      time.Duration
}

// ParseSession builds a Session from "HH:MM" strings in the named IANA zone
// or a fixed offset like "+03:00".
func ParseSession(start, end, zone string) (*Session, error) {
	loc, err := ParseLocation(zone)
	if err != nil {
		return nil, err
	}
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("session start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("session end: %w", err)
	}
	return &Session{Location: loc, Start: s, End: e}, nil
}

// Open reports whether t falls inside the window.
func (s *Session) Open(t time.Time) bool {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	off := time.Duration(lt.Hour())*time.Hour + time.Duration(lt.Minute())*time.Minute + time.Duration(lt.Second())*time.Second
	if s.Start <= s.End {
		return off >= s.Start && off <= s.End
	}
	// window wraps midnight
	return off >= s.Start || off <= s.End
}

// ParseLocation accepts "", "UTC", an IANA name, or a fixed offset "+HH:MM".
func ParseLocation(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" || strings.EqualFold(zone, "utc") {
		return time.UTC, nil
	}
	if zone[0] == '+' || zone[0] == '-' {
		d, err := parseClock(zone[1:])
		if err != nil {
			return nil, fmt.Errorf("bad offset %q: %w", zone, err)
		}
		secs := int(d / time.Second)
		if zone[0] == '-' {
			secs = -secs
		}
		return time.FixedZone(zone, secs), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", zone, err)
	}
	return loc, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
