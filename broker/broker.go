package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/riskengine/market"
)

// Gateway is everything the engine needs from the execution venue. Calls are
// blocking; implementations must honour ctx deadlines.
type Gateway interface {
	GetAccount(ctx context.Context) (Account, error)
	GetInstrument(ctx context.Context, symbol string) (market.InstrumentSpec, error)
	GetTick(ctx context.Context, symbol string) (market.Tick, error)
	GetOpenPositions(ctx context.Context, symbol string) ([]Position, error)
	GetBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error)

	// EstimateMargin returns the margin, in account currency, that volume lots
	// would consume at price.
	EstimateMargin(ctx context.Context, symbol string, dir market.Direction, volume, price float64) (float64, error)

	SendOrder(ctx context.Context, req OrderRequest) (Result, error)
	ModifyStop(ctx context.Context, ticket string, stopLoss, takeProfit float64) (Result, error)
	ClosePosition(ctx context.Context, ticket string) (Result, error)
}

// History is implemented by gateways that can report how a position that is
// no longer open was closed, for example by its stop loss.
type History interface {
	GetClosedPosition(ctx context.Context, ticket string) (ClosedPosition, error)
}

// ErrUnknownTicket is returned by History for tickets the venue never saw or
// that are still open.
var ErrUnknownTicket = errors.New("unknown ticket")

type ClosedPosition struct {
	Position
	ClosePrice  float64
	CloseTime   time.Time
	RealizedPnL float64
	Reason      string // stop_loss, take_profit, closed, stop_out
}

type Account struct {
	ID          string
	Currency    string
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	MarginLevel float64
}

// Position is an open position as the venue reports it.
type Position struct {
	Ticket     string
	Instrument string
	Direction  market.Direction
	Volume     float64
	EntryPrice float64
	StopLoss   float64 // 0 when unset
	TakeProfit float64 // 0 when unset
	OpenTime   time.Time
	Comment    string // strategy tag set at entry
}

type OrderRequest struct {
	Instrument string
	Direction  market.Direction
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

// Venue return codes, MetaTrader 5 numbering.
const (
	RetcodeDone          = 10009
	RetcodeInvalidVolume = 10014
	RetcodeInvalidStops  = 10016
	RetcodeMarketClosed  = 10018
	RetcodeNoMoney       = 10019
	RetcodeNoChanges     = 10025
	RetcodeUnknownTicket = 10036
)

// Outcome classifies a venue response.
type Outcome int

const (
	Done Outcome = iota
	NoChanges
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case NoChanges:
		return "no_changes"
	default:
		return "rejected"
	}
}

// Result is the venue's answer to an order, modify, or close request.
// NoChanges means the requested state already holds and counts as success.
type Result struct {
	Outcome Outcome
	Code    int
	Message string

	Ticket      string
	Price       float64
	Volume      float64
	RealizedPnL float64 // set on close
}

func (r Result) OK() bool {
	return r.Outcome == Done || r.Outcome == NoChanges
}

// Err returns a *RejectedError for rejected results and nil otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &RejectedError{Code: r.Code, Message: r.Message}
}

// Classify maps a raw venue code to an Outcome.
func Classify(code int) Outcome {
	switch code {
	case RetcodeDone:
		return Done
	case RetcodeNoChanges:
		return NoChanges
	default:
		return Rejected
	}
}

// ResultFromCode builds a Result with its Outcome derived from code.
func ResultFromCode(code int, msg string) Result {
	return Result{Outcome: Classify(code), Code: code, Message: msg}
}

// RejectedError is a request the venue refused.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway rejected: code %d", e.Code)
	}
	return fmt.Sprintf("gateway rejected: code %d: %s", e.Code, e.Message)
}

// IsRejected reports whether err is, or wraps, a *RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
