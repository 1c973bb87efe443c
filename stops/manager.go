// Package stops manages protective stops of open positions: a one-way move
// to break-even once a position is far enough in profit, then an ATR trailing
// stop that only ever tightens.
package stops

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
)

// Params are per-strategy ATR multipliers.
type Params struct {
	BreakEvenATR    float64 // profit needed before moving to break-even
	TrailingATR     float64
	TrailingStepATR float64 // subtracted from TrailingATR
}

func DefaultParams() Params {
	return Params{BreakEvenATR: 1.0, TrailingATR: 1.5, TrailingStepATR: 0.5}
}

func (p Params) Validate() error {
	if p.BreakEvenATR <= 0 {
		return fmt.Errorf("break_even_atr must be positive, got %v", p.BreakEvenATR)
	}
	if p.TrailingATR <= p.TrailingStepATR || p.TrailingStepATR < 0 {
		return fmt.Errorf("trailing_atr %v must exceed trailing_step_atr %v >= 0", p.TrailingATR, p.TrailingStepATR)
	}
	return nil
}

// State is what the manager remembers about one ticket.
type State struct {
	BreakEvenApplied bool
	LastTrailed      *float64
}

// Modifier is the slice of the gateway the manager needs.
type Modifier interface {
	ModifyStop(ctx context.Context, ticket string, stopLoss, takeProfit float64) (broker.Result, error)
}

type Kind string

const (
	KindBreakEven Kind = "break_even"
	KindTrail     Kind = "trail"
)

// Modification is a stop change the manager submitted.
type Modification struct {
	Ticket string
	Kind   Kind
	Price  float64
	Result broker.Result
	Err    error
}

func (m Modification) OK() bool {
	return m.Err == nil && m.Result.OK()
}

// Manager owns the per-ticket State map.
type Manager struct {
	gw  Modifier
	log *slog.Logger

	mu     sync.Mutex
	states map[string]*entry
}

type entry struct {
	instrument string
	State
}

func NewManager(gw Modifier, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{gw: gw, log: log, states: make(map[string]*entry)}
}

// State returns a copy of the state held for ticket.
func (m *Manager) State(ticket string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.states[ticket]
	if !ok {
		return State{}, false
	}
	st := e.State
	cp := State{BreakEvenApplied: st.BreakEvenApplied}
	if st.LastTrailed != nil {
		v := *st.LastTrailed
		cp.LastTrailed = &v
	}
	return cp, true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// Sync drops state for tickets of instrument that are no longer open.
func (m *Manager) Sync(instrument string, open []broker.Position) {
	live := make(map[string]bool, len(open))
	for _, p := range open {
		live[p.Ticket] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for ticket, e := range m.states {
		if e.instrument == instrument && !live[ticket] {
			delete(m.states, ticket)
		}
	}
}

func (m *Manager) Forget(ticket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, ticket)
}

// tolerance absorbs float noise when comparing against one point.
const tolerance = 1e-9

// Manage runs one pass for pos. It submits at most one modification: the
// break-even move, or, once break-even was applied on an earlier pass, a
// trailing move. The returned bool reports whether a modification was
// submitted.
func (m *Manager) Manage(ctx context.Context, pos broker.Position, tick market.Tick,
	spec market.InstrumentSpec, atr float64, p Params) (Modification, bool) {

	m.mu.Lock()
	e, ok := m.states[pos.Ticket]
	if !ok {
		e = &entry{instrument: pos.Instrument}
		m.states[pos.Ticket] = e
	}
	st := &e.State
	cur := *st
	m.mu.Unlock()

	if atr <= 0 || math.IsNaN(atr) {
		return Modification{}, false
	}

	ref := tick.ExitPrice(pos.Direction)
	if cur.BreakEvenApplied {
		return m.trail(ctx, pos, st, cur, ref, spec, atr, p)
	}
	return m.breakEven(ctx, pos, st, ref, spec, atr, p)
}

func (m *Manager) breakEven(ctx context.Context, pos broker.Position, st *State, ref float64,
	spec market.InstrumentSpec, atr float64, p Params) (Modification, bool) {

	sign := pos.Direction.Sign()
	profit := (ref - pos.EntryPrice) * sign
	if profit < p.BreakEvenATR*atr {
		return Modification{}, false
	}

	minDist := spec.MinStopDistance()
	be := spec.RoundPrice(pos.EntryPrice + sign*minDist)

	// A stop already at or past break-even needs no request.
	if pos.StopLoss != 0 && (pos.StopLoss-be)*sign >= -tolerance {
		m.commit(st, func(s *State) { s.BreakEvenApplied = true })
		m.log.DebugContext(ctx, "break-even already in place",
			"ticket", pos.Ticket, "instrument", pos.Instrument, "stop", pos.StopLoss, "be", be)
		return Modification{}, false
	}
	if (ref-be)*sign < minDist-tolerance {
		return Modification{}, false
	}

	mod := m.submit(ctx, pos, KindBreakEven, be)
	if mod.OK() {
		m.commit(st, func(s *State) { s.BreakEvenApplied = true })
		m.log.InfoContext(ctx, "stop moved to break-even",
			"ticket", pos.Ticket, "instrument", pos.Instrument, "stop", be, "profit", profit,
			"outcome", mod.Result.Outcome.String())
	}
	return mod, true
}

func (m *Manager) trail(ctx context.Context, pos broker.Position, st *State, cur State, ref float64,
	spec market.InstrumentSpec, atr float64, p Params) (Modification, bool) {

	sign := pos.Direction.Sign()
	dist := (p.TrailingATR - p.TrailingStepATR) * atr
	level := spec.RoundPrice(ref - sign*dist)

	if (ref-level)*sign < spec.MinStopDistance()-tolerance {
		return Modification{}, false
	}
	if pos.StopLoss != 0 && (level-pos.StopLoss)*sign <= tolerance {
		return Modification{}, false
	}
	if cur.LastTrailed != nil {
		moved := (level - *cur.LastTrailed) * sign
		if moved < spec.Point-tolerance {
			return Modification{}, false
		}
	}

	mod := m.submit(ctx, pos, KindTrail, level)
	if mod.OK() {
		m.commit(st, func(s *State) { s.LastTrailed = &level })
		m.log.InfoContext(ctx, "trailing stop moved",
			"ticket", pos.Ticket, "instrument", pos.Instrument, "stop", level,
			"outcome", mod.Result.Outcome.String())
	}
	return mod, true
}

// submit sends the modification, keeping the position's take profit. A
// failure is logged here and leaves state alone.
func (m *Manager) submit(ctx context.Context, pos broker.Position, kind Kind, price float64) Modification {
	mod := Modification{Ticket: pos.Ticket, Kind: kind, Price: price}
	mod.Result, mod.Err = m.gw.ModifyStop(ctx, pos.Ticket, price, pos.TakeProfit)
	if mod.Err == nil {
		mod.Err = mod.Result.Err()
	}
	if mod.Err != nil {
		m.log.ErrorContext(ctx, "stop modification failed",
			"ticket", pos.Ticket, "instrument", pos.Instrument, "kind", string(kind),
			"stop", price, "code", mod.Result.Code, "error", mod.Err)
	}
	return mod
}

func (m *Manager) commit(st *State, fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(st)
}
