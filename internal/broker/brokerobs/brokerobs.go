package brokerobs

import (
	"context"
	"fmt"

	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/trace"
	"intraday-trading-bot/internal/types"
)

// observableBroker wraps a Broker with observability (logging & tracing)
type observableBroker struct {
	broker interfaces.Broker
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{
		broker: broker,
	}
}

// Connect establishes the broker session with observability
func (ob *observableBroker) Connect(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "broker.Connect")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Connecting to broker")

	if err := ob.broker.Connect(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to connect to broker", err)
		return fmt.Errorf("broker connect failed: %w", err)
	}

	logger.InfoSkip(ctx, 1, "Broker connected successfully")
	return nil
}

// Disconnect tears down the broker session with observability
func (ob *observableBroker) Disconnect(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "broker.Disconnect")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Disconnecting from broker")
	ob.broker.Disconnect(ctx)
	logger.InfoSkip(ctx, 1, "Broker disconnected")
}

// PlaceOrder places an order with observability
func (ob *observableBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"tag", req.Tag,
	)

	resp, err := ob.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Qty,
		)
		return types.OrderResp{}, err
	}

	logger.InfoSkip(ctx, 1, "Order placed successfully",
		"symbol", req.Symbol,
		"order_id", resp.OrderID,
		"status", resp.Status,
	)
	return resp, nil
}

// CancelOrder cancels an order with observability
func (ob *observableBroker) CancelOrder(ctx context.Context, orderID string) error {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", orderID)

	if err := ob.broker.CancelOrder(ctx, orderID); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", orderID)
		return err
	}

	logger.InfoSkip(ctx, 1, "Order cancelled successfully", "order_id", orderID)
	return nil
}

// Orders fetches the order book with observability
func (ob *observableBroker) Orders(ctx context.Context) ([]types.Order, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Orders")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching order book")

	orders, err := ob.broker.Orders(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch order book", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Order book fetched successfully", "count", len(orders))
	return orders, nil
}

// Positions fetches open positions with observability
func (ob *observableBroker) Positions(ctx context.Context) ([]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Positions")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching positions")

	positions, err := ob.broker.Positions(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch positions", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Positions fetched successfully", "count", len(positions))
	return positions, nil
}

// AccountBalance fetches the available balance with observability
func (ob *observableBroker) AccountBalance(ctx context.Context) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "broker.AccountBalance")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching account balance")

	balance, err := ob.broker.AccountBalance(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch account balance", err)
		return 0, err
	}

	logger.DebugSkip(ctx, 1, "Account balance fetched successfully", "balance", balance)
	return balance, nil
}

// LTP returns the last traded price with observability
func (ob *observableBroker) LTP(ctx context.Context, symbol string) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "broker.LTP")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching LTP", "symbol", symbol)

	price, err := ob.broker.LTP(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch LTP", err, "symbol", symbol)
		return 0, err
	}

	logger.DebugSkip(ctx, 1, "LTP fetched successfully", "symbol", symbol, "price", price)
	return price, nil
}
