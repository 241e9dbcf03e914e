package interfaces

import (
	"context"

	"intraday-trading-bot/internal/types"
)

// Broker is the capability the execution layer consumes. Every method may
// fail with a network-class or business-class error; the core assumes nothing
// about the transport behind it.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	CancelOrder(ctx context.Context, orderID string) error
	Orders(ctx context.Context) ([]types.Order, error)
	Positions(ctx context.Context) ([]types.Position, error)
	AccountBalance(ctx context.Context) (float64, error)
	LTP(ctx context.Context, symbol string) (float64, error)
}
