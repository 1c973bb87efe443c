package engine

import (
	"context"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
)

// detached runs every gateway call on a context that ignores the caller's
// cancellation but is bounded by timeout, so shutdown never abandons a
// request half way.
type detached struct {
	gw      broker.Gateway
	timeout time.Duration
}

func (d detached) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), d.timeout)
}

func (d detached) GetAccount(ctx context.Context) (broker.Account, error) {
	c, cancel := d.ctx(ctx)
	defer cancel()
	return d.gw.GetAccount(c)
}

func (d detached) GetInstrument(ctx context.Context, symbol string) (market.InstrumentSpec, error) {
	c, cancel := d.ctx(ctx)
	defer cancel()
	return d.gw.GetInstrument(c, symbol)
}

func (d detached) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	c, cancel := d.ctx(ctx)
	defer cancel()
	return d.gw.GetTick(c, symbol)
}

func (d detached) GetOpenPositions(ctx context.Context, symbol string) ([]broker.Position, error) {
	c, cancel := d.ctx(ctx)
	defer cancel()
	return d.gw.GetOpenPositions(c, symbol)
}

func (d detached) GetBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error) {
	c, cancel := d.ctx(ctx)
	defer cancel()
	return d.gw.GetBars(c, symbol, tf, count)
}

func (d detached) EstimateMargin(ctx context.Context, symbol string, dir market.Direction, volume, price float64) (float64, error) {
	c, cancel := d.ctx(ctx)
	defer cancel()
	return d.gw.EstimateMargin(c, symbol, dir, volume, price)
}

func (d detached) SendOrder(ctx context.Context, req broker.OrderRequest) (broker.Result, error) {
	c, cancel := d.ctx(ctx)
	defer cancel()
	return d.gw.SendOrder(c, req)
}

func (d detached) ModifyStop(ctx context.Context, ticket string, stopLoss, takeProfit float64) (broker.Result, error) {
	c, cancel := d.ctx(ctx)
	defer cancel()
	return d.gw.ModifyStop(c, ticket, stopLoss, takeProfit)
}

func (d detached) ClosePosition(ctx context.Context, ticket string) (broker.Result, error) {
	c, cancel := d.ctx(ctx)
	defer cancel()
	return d.gw.ClosePosition(c, ticket)
}

// closedPosition asks the venue how ticket closed. ok is false when the
// gateway keeps no history.
func (d detached) closedPosition(ctx context.Context, ticket string) (cp broker.ClosedPosition, ok bool, err error) {
	h, ok := d.gw.(broker.History)
	if !ok {
		return cp, false, nil
	}
	c, cancel := d.ctx(ctx)
	defer cancel()
	cp, err = h.GetClosedPosition(c, ticket)
	return cp, true, err
}
