// Package resilient composes the fault-tolerance layers around a raw broker:
// idempotency vetting, order state tracking, retry with backoff, and one
// circuit breaker per call class. The breaker sits outside the retrier, so a
// retried-then-successful call counts as a single breaker success.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/orders"
	"intraday-trading-bot/internal/resilience/breaker"
	"intraday-trading-bot/internal/resilience/idempotency"
	"intraday-trading-bot/internal/resilience/retry"
	"intraday-trading-bot/internal/types"
)

// ErrSafeMode is returned when the kill switch blocks new submissions.
var ErrSafeMode = errors.New("safe mode active, new orders blocked")

// ErrDuplicateIntent is returned when the idempotency guard rejects a
// submission as a duplicate of one already in flight or just settled.
var ErrDuplicateIntent = errors.New("duplicate order intent suppressed")

// KillSwitch is the health monitor's veto over new order flow.
type KillSwitch interface {
	KillSwitchActive() bool
}

type Config struct {
	OrderBreaker breaker.Config
	DataBreaker  breaker.Config
	ConnBreaker  breaker.Config
	Retry        retry.Policy
}

type Broker struct {
	inner interfaces.Broker
	reg   *orders.Registry
	guard *idempotency.Guard
	kill  KillSwitch
	bus   *events.Bus

	orderBreaker *breaker.Breaker
	dataBreaker  *breaker.Breaker
	connBreaker  *breaker.Breaker
	policy       retry.Policy
}

var _ interfaces.Broker = (*Broker)(nil)

func New(cfg Config, inner interfaces.Broker, reg *orders.Registry, guard *idempotency.Guard, kill KillSwitch, bus *events.Bus) *Broker {
	return &Broker{
		inner:        inner,
		reg:          reg,
		guard:        guard,
		kill:         kill,
		bus:          bus,
		orderBreaker: breaker.New("order_placement", cfg.OrderBreaker, bus),
		dataBreaker:  breaker.New("data_fetch", cfg.DataBreaker, bus),
		connBreaker:  breaker.New("broker_connection", cfg.ConnBreaker, bus),
		policy:       cfg.Retry,
	}
}

func (b *Broker) Connect(ctx context.Context) error {
	return b.connBreaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, b.policy, "connect", b.inner.Connect).Err
	})
}

func (b *Broker) Disconnect(ctx context.Context) {
	b.inner.Disconnect(ctx)
}

// PlaceOrder runs the full submission pipeline: kill-switch check,
// idempotency vetting, local tracking, then the guarded broker call. The
// order's record survives the call either way, so reconciliation can pick up
// whatever the broker actually did.
func (b *Broker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if b.kill != nil && b.kill.KillSwitchActive() {
		return types.OrderResp{}, types.NewBrokerError(types.KindBusiness, "place_order", ErrSafeMode)
	}

	key := b.guard.Key(req.Symbol, req.Side, req.Qty)
	if !b.guard.CanProceed(key) {
		logger.Warn(ctx, "Duplicate order intent suppressed",
			"symbol", req.Symbol, "side", req.Side, "qty", req.Qty,
		)
		return types.OrderResp{}, types.NewBrokerError(types.KindBusiness, "place_order", ErrDuplicateIntent)
	}

	localID := b.reg.NewLocalID()
	b.reg.Track(ctx, types.Order{
		ID:        localID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Qty:       req.Qty,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		PlacedAt:  time.Now(),
	})
	b.reg.Transition(ctx, localID, types.StatusPending, "queued for submission")

	resp, err := b.submit(ctx, localID, req)
	if err != nil {
		b.guard.MarkFailed(key)
		return types.OrderResp{}, err
	}
	b.guard.MarkCompleted(key, resp.OrderID)
	return resp, nil
}

// submit performs the guarded broker call for an order already tracked in
// PENDING, recording the outcome against its registry record.
func (b *Broker) submit(ctx context.Context, id string, req types.OrderReq) (types.OrderResp, error) {
	var resp types.OrderResp
	err := b.orderBreaker.Execute(ctx, func(ctx context.Context) error {
		result := retry.Do(ctx, b.policy, "place_order", func(ctx context.Context) error {
			var perr error
			resp, perr = b.inner.PlaceOrder(ctx, req)
			return perr
		})
		return result.Err
	})
	if err != nil {
		b.reg.RecordError(id, err.Error())
		b.reg.Transition(ctx, id, types.StatusFailed, "submission failed")
		return types.OrderResp{}, err
	}

	if resp.OrderID != "" && resp.OrderID != id {
		b.reg.Rebind(id, resp.OrderID)
		id = resp.OrderID
	}
	b.reg.Transition(ctx, id, types.StatusSubmitted, "broker accepted")
	return resp, nil
}

// Resubmit retries a FAILED order within its retry budget. The registry
// refuses the FAILED→PENDING move once the budget is spent.
func (b *Broker) Resubmit(ctx context.Context, id string) (types.OrderResp, error) {
	if b.kill != nil && b.kill.KillSwitchActive() {
		return types.OrderResp{}, types.NewBrokerError(types.KindBusiness, "resubmit", ErrSafeMode)
	}
	rec, ok := b.reg.Get(id)
	if !ok {
		return types.OrderResp{}, types.NewBrokerError(types.KindBusiness, "resubmit",
			fmt.Errorf("order %s not tracked", id))
	}
	if !b.reg.Transition(ctx, id, types.StatusPending, "retry after failure") {
		return types.OrderResp{}, types.NewBrokerError(types.KindBusiness, "resubmit",
			fmt.Errorf("order %s not eligible for retry", id))
	}
	req := types.OrderReq{
		Symbol:    rec.Order.Symbol,
		Side:      rec.Order.Side,
		Type:      rec.Order.Type,
		Qty:       rec.Order.Qty,
		Price:     rec.Order.Price,
		StopPrice: rec.Order.StopPrice,
	}
	return b.submit(ctx, id, req)
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	err := b.orderBreaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, b.policy, "cancel_order", func(ctx context.Context) error {
			return b.inner.CancelOrder(ctx, orderID)
		}).Err
	})
	if err != nil {
		return err
	}
	b.reg.Transition(ctx, orderID, types.StatusCancelled, "cancel acknowledged")
	return nil
}

func (b *Broker) Orders(ctx context.Context) ([]types.Order, error) {
	var out []types.Order
	err := b.dataBreaker.Execute(ctx, func(ctx context.Context) error {
		result := retry.Do(ctx, b.policy, "orders", func(ctx context.Context) error {
			var ferr error
			out, ferr = b.inner.Orders(ctx)
			return ferr
		})
		return result.Err
	})
	return out, err
}

func (b *Broker) Positions(ctx context.Context) ([]types.Position, error) {
	var out []types.Position
	err := b.dataBreaker.Execute(ctx, func(ctx context.Context) error {
		result := retry.Do(ctx, b.policy, "positions", func(ctx context.Context) error {
			var ferr error
			out, ferr = b.inner.Positions(ctx)
			return ferr
		})
		return result.Err
	})
	return out, err
}

func (b *Broker) AccountBalance(ctx context.Context) (float64, error) {
	var balance float64
	err := b.dataBreaker.Execute(ctx, func(ctx context.Context) error {
		result := retry.Do(ctx, b.policy, "account_balance", func(ctx context.Context) error {
			var ferr error
			balance, ferr = b.inner.AccountBalance(ctx)
			return ferr
		})
		return result.Err
	})
	return balance, err
}

func (b *Broker) LTP(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := b.dataBreaker.Execute(ctx, func(ctx context.Context) error {
		result := retry.Do(ctx, b.policy, "ltp", func(ctx context.Context) error {
			var ferr error
			price, ferr = b.inner.LTP(ctx, symbol)
			return ferr
		})
		return result.Err
	})
	return price, err
}

// Snapshots reports the state of every breaker for the status surface.
func (b *Broker) Snapshots() []breaker.Snapshot {
	return []breaker.Snapshot{
		b.orderBreaker.Snapshot(),
		b.dataBreaker.Snapshot(),
		b.connBreaker.Snapshot(),
	}
}
