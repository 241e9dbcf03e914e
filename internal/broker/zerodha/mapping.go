package zerodha

import (
	"errors"
	"fmt"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"intraday-trading-bot/internal/types"
)

// Kite order lifecycle statuses. Anything else coming over the wire is a
// parse-class error, never a silent guess.
const (
	kiteStatusComplete       = "COMPLETE"
	kiteStatusOpen           = "OPEN"
	kiteStatusCancelled      = "CANCELLED"
	kiteStatusRejected       = "REJECTED"
	kiteStatusTriggerPending = "TRIGGER PENDING"
	kiteStatusPutOrderReq    = "PUT ORDER REQ RECEIVED"
	kiteStatusValidation     = "VALIDATION PENDING"
	kiteStatusOpenPending    = "OPEN PENDING"
	kiteStatusModifyPending  = "MODIFY VALIDATION PENDING"
)

func mapKiteStatus(status string, filledQty int) (types.OrderStatus, error) {
	switch status {
	case kiteStatusComplete:
		return types.StatusFilled, nil
	case kiteStatusOpen:
		if filledQty > 0 {
			return types.StatusPartiallyFilled, nil
		}
		return types.StatusAcknowledged, nil
	case kiteStatusTriggerPending:
		return types.StatusAcknowledged, nil
	case kiteStatusCancelled:
		return types.StatusCancelled, nil
	case kiteStatusRejected:
		return types.StatusRejected, nil
	case kiteStatusPutOrderReq, kiteStatusValidation, kiteStatusOpenPending, kiteStatusModifyPending:
		return types.StatusSubmitted, nil
	}
	return "", types.NewBrokerError(types.KindParse, "map_status",
		fmt.Errorf("unrecognized broker order status %q", status))
}

func mapKiteOrder(o kiteconnect.Order) (types.Order, error) {
	filled := int(o.FilledQuantity)
	status, err := mapKiteStatus(o.Status, filled)
	if err != nil {
		return types.Order{}, err
	}

	side := types.SideBuy
	if o.TransactionType == kiteconnect.TransactionTypeSell {
		side = types.SideSell
	}
	orderType := types.OrderTypeMarket
	switch o.OrderType {
	case kiteconnect.OrderTypeLimit:
		orderType = types.OrderTypeLimit
	case kiteconnect.OrderTypeSL:
		orderType = types.OrderTypeStopLoss
	}

	return types.Order{
		ID:           o.OrderID,
		Symbol:       o.TradingSymbol,
		Side:         side,
		Type:         orderType,
		Qty:          int(o.Quantity),
		Price:        o.Price,
		StopPrice:    o.TriggerPrice,
		FilledQty:    filled,
		AvgFillPrice: o.AveragePrice,
		Status:       status,
		PlacedAt:     o.OrderTimestamp.Time,
	}, nil
}

// wrapKiteError classifies a gokiteconnect error into the bot's taxonomy.
// Token problems are auth, transport problems are network, exchange
// rejections are business.
func wrapKiteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) {
		switch kerr.ErrorType {
		case "TokenException", "PermissionException":
			return types.NewBrokerError(types.KindAuth, op, err)
		case "NetworkException":
			return types.NewBrokerError(types.KindNetwork, op, err)
		case "OrderException", "InputException":
			return types.NewBrokerError(types.KindBusiness, op, err)
		}
		if kerr.Code > 0 {
			return types.NewHTTPError(op, kerr.Code, err)
		}
	}
	return types.NewBrokerError(types.KindOf(err), op, err)
}
