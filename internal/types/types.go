package types

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "SL"
)

// OrderStatus is a superset of what the broker reports: CREATED, PENDING and
// EXPIRED exist only locally.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "CREATED"
	StatusPending         OrderStatus = "PENDING"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusAcknowledged    OrderStatus = "ACKNOWLEDGED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusFailed          OrderStatus = "FAILED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the status has no outgoing transitions.
// FAILED is not terminal: a failed order may be retried back to PENDING.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

type Order struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	Type         OrderType   `json:"type"`
	Qty          int         `json:"qty"`
	Price        float64     `json:"price,omitempty"`
	StopPrice    float64     `json:"stop_price,omitempty"`
	FilledQty    int         `json:"filled_qty"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	Status       OrderStatus `json:"status"`
	PlacedAt     time.Time   `json:"placed_at"`
}

type Position struct {
	Symbol   string  `json:"symbol"`
	Qty      int     `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

type OrderReq struct {
	Symbol    string
	Side      Side
	Type      OrderType
	Qty       int
	Price     float64
	StopPrice float64
	Target    float64
	Tag       string
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type StepResult struct {
	Symbol string      `json:"symbol"`
	Price  float64     `json:"price"`
	Time   int64       `json:"time"`
	Orders []OrderResp `json:"orders"`
	Reason string      `json:"reason"`
}
