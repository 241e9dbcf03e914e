// Package zerodha implements the Broker interface against the Kite Connect
// API, with a DRY_RUN mode that simulates the full order lifecycle in memory.
package zerodha

import (
	"context"
	"errors"
	"fmt"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/types"
)

type Params struct {
	Mode        string
	APIKey      string
	AccessToken string
	Exchange    string
	Product     string
}

type Zerodha struct {
	p   Params
	kc  *kiteconnect.Client
	sim *sim
}

var _ interfaces.Broker = (*Zerodha)(nil)

func NewZerodha(p Params) *Zerodha {
	if p.Exchange == "" {
		p.Exchange = "NSE"
	}
	if p.Product == "" {
		p.Product = kiteconnect.ProductMIS
	}
	z := &Zerodha{p: p}
	if p.Mode == "DRY_RUN" {
		z.sim = newSim()
	}
	return z
}

func (z *Zerodha) dryRun() bool { return z.sim != nil }

func (z *Zerodha) Connect(ctx context.Context) error {
	if z.dryRun() {
		logger.Info(ctx, "Broker connected in dry-run mode")
		return nil
	}
	if z.p.APIKey == "" || z.p.AccessToken == "" {
		return types.NewBrokerError(types.KindAuth, "connect",
			errors.New("missing API key/access token"))
	}
	z.kc = kiteconnect.New(z.p.APIKey)
	z.kc.SetAccessToken(z.p.AccessToken)

	// A margins call proves the session token is actually usable.
	if _, err := z.kc.GetUserMargins(); err != nil {
		return wrapKiteError("connect", err)
	}
	logger.Info(ctx, "Broker connected", "exchange", z.p.Exchange)
	return nil
}

func (z *Zerodha) Disconnect(ctx context.Context) {
	if z.dryRun() {
		return
	}
	// Kite sessions are stateless HTTP; dropping the client is enough.
	z.kc = nil
	logger.Info(ctx, "Broker disconnected")
}

func (z *Zerodha) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if z.dryRun() {
		return z.sim.placeOrder(req), nil
	}
	if z.kc == nil {
		return types.OrderResp{}, types.NewBrokerError(types.KindNetwork, "place_order",
			errors.New("broker not connected"))
	}

	params := kiteconnect.OrderParams{
		Exchange:        z.p.Exchange,
		Tradingsymbol:   req.Symbol,
		Product:         z.p.Product,
		Validity:        kiteconnect.ValidityDay,
		OrderType:       kiteOrderType(req.Type),
		TransactionType: string(req.Side),
		Quantity:        req.Qty,
		Tag:             req.Tag,
	}
	if req.Type == types.OrderTypeLimit {
		params.Price = req.Price
	}
	if req.Type == types.OrderTypeStopLoss {
		params.Price = req.Price
		params.TriggerPrice = req.StopPrice
	}

	resp, err := z.kc.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return types.OrderResp{}, wrapKiteError("place_order", err)
	}
	return types.OrderResp{OrderID: resp.OrderID, Status: "PLACED", Message: "ok"}, nil
}

func (z *Zerodha) CancelOrder(ctx context.Context, orderID string) error {
	if z.dryRun() {
		return z.sim.cancelOrder(orderID)
	}
	if z.kc == nil {
		return types.NewBrokerError(types.KindNetwork, "cancel_order",
			errors.New("broker not connected"))
	}
	if _, err := z.kc.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return wrapKiteError("cancel_order", err)
	}
	return nil
}

func (z *Zerodha) Orders(ctx context.Context) ([]types.Order, error) {
	if z.dryRun() {
		return z.sim.allOrders(), nil
	}
	if z.kc == nil {
		return nil, types.NewBrokerError(types.KindNetwork, "orders",
			errors.New("broker not connected"))
	}
	kiteOrders, err := z.kc.GetOrders()
	if err != nil {
		return nil, wrapKiteError("orders", err)
	}
	out := make([]types.Order, 0, len(kiteOrders))
	for _, ko := range kiteOrders {
		o, err := mapKiteOrder(ko)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (z *Zerodha) Positions(ctx context.Context) ([]types.Position, error) {
	if z.dryRun() {
		return z.sim.allPositions(), nil
	}
	if z.kc == nil {
		return nil, types.NewBrokerError(types.KindNetwork, "positions",
			errors.New("broker not connected"))
	}
	kitePositions, err := z.kc.GetPositions()
	if err != nil {
		return nil, wrapKiteError("positions", err)
	}
	out := make([]types.Position, 0, len(kitePositions.Net))
	for _, kp := range kitePositions.Net {
		out = append(out, types.Position{
			Symbol:   kp.Tradingsymbol,
			Qty:      kp.Quantity,
			AvgPrice: kp.AveragePrice,
		})
	}
	return out, nil
}

func (z *Zerodha) AccountBalance(ctx context.Context) (float64, error) {
	if z.dryRun() {
		return z.sim.balance(), nil
	}
	if z.kc == nil {
		return 0, types.NewBrokerError(types.KindNetwork, "account_balance",
			errors.New("broker not connected"))
	}
	margins, err := z.kc.GetUserMargins()
	if err != nil {
		return 0, wrapKiteError("account_balance", err)
	}
	return margins.Equity.Net, nil
}

func (z *Zerodha) LTP(ctx context.Context, symbol string) (float64, error) {
	if z.dryRun() {
		return z.sim.ltp(symbol), nil
	}
	if z.kc == nil {
		return 0, types.NewBrokerError(types.KindNetwork, "ltp",
			errors.New("broker not connected"))
	}
	instrument := fmt.Sprintf("%s:%s", z.p.Exchange, symbol)
	quotes, err := z.kc.GetLTP(instrument)
	if err != nil {
		return 0, wrapKiteError("ltp", err)
	}
	q, ok := quotes[instrument]
	if !ok {
		return 0, types.NewBrokerError(types.KindParse, "ltp",
			fmt.Errorf("no quote returned for %s", instrument))
	}
	return q.LastPrice, nil
}

func kiteOrderType(t types.OrderType) string {
	switch t {
	case types.OrderTypeLimit:
		return kiteconnect.OrderTypeLimit
	case types.OrderTypeStopLoss:
		return kiteconnect.OrderTypeSL
	}
	return kiteconnect.OrderTypeMarket
}
