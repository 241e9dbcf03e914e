// Package engine drives one trading cycle per symbol: exit checks on open
// positions first, then a momentum entry with a bracket stop attached. All
// broker access goes through the resilient pipeline, so every order placed
// here is tracked, vetted and breaker-guarded.
package engine

import (
	"context"
	"time"

	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/orders"
	"intraday-trading-bot/internal/positions"
	"intraday-trading-bot/internal/store"
	"intraday-trading-bot/internal/types"
)

// Signal decides whether to open a position at the current price. The default
// is a short momentum signal over recent polls.
type Signal func(symbol string, history []float64, price float64) bool

const histWindow = 20

type Engine struct {
	cfg    *store.Config
	brk    interfaces.Broker
	reg    *orders.Registry
	pos    *positions.Store
	signal Signal
	hist   map[string][]float64
}

var _ interfaces.Engine = (*Engine)(nil)

func New(cfg *store.Config, brk interfaces.Broker, reg *orders.Registry, pos *positions.Store) *Engine {
	return &Engine{
		cfg:    cfg,
		brk:    brk,
		reg:    reg,
		pos:    pos,
		signal: momentumSignal,
		hist:   make(map[string][]float64),
	}
}

// WithSignal swaps the entry signal. Used by tests and experiments.
func (e *Engine) WithSignal(s Signal) *Engine {
	e.signal = s
	return e
}

func (e *Engine) Step(ctx context.Context, symbol string) (*types.StepResult, error) {
	price, err := e.brk.LTP(ctx, symbol)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()

	// Exit checks come first: a live position must never wait on entry logic.
	if p, ok := e.pos.Get(symbol); ok && p.Qty > 0 {
		return e.checkExits(ctx, symbol, p, price, now)
	}

	hist := e.record(symbol, price)
	if !e.signal(symbol, hist, price) {
		return &types.StepResult{Symbol: symbol, Price: price, Time: now, Reason: "no entry signal"}, nil
	}

	return e.enter(ctx, symbol, price, now)
}

func (e *Engine) checkExits(ctx context.Context, symbol string, p types.Position, price float64, now int64) (*types.StepResult, error) {
	stop := p.AvgPrice * (1 - e.cfg.Stop.Pct/100)
	target := p.AvgPrice * (1 + e.cfg.Stop.TargetPct/100)

	var tag, reason string
	switch {
	case price <= stop:
		tag, reason = "SL", "STOP_LOSS_TRIGGERED"
		logger.Warn(ctx, "Stop loss triggered",
			"symbol", symbol,
			"current_price", price,
			"stop_price", stop,
			"position_qty", p.Qty,
			"position_avg", p.AvgPrice,
		)
	case price >= target:
		tag, reason = "TGT", "TARGET_REACHED"
		logger.Info(ctx, "Target reached",
			"symbol", symbol,
			"current_price", price,
			"target_price", target,
			"position_qty", p.Qty,
		)
	default:
		return &types.StepResult{Symbol: symbol, Price: price, Time: now, Reason: "holding"}, nil
	}

	resp, err := e.brk.PlaceOrder(ctx, types.OrderReq{
		Symbol: symbol,
		Side:   types.SideSell,
		Type:   types.OrderTypeMarket,
		Qty:    p.Qty,
		Tag:    tag,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to place exit order", err,
			"symbol", symbol, "qty", p.Qty, "tag", tag,
		)
		return nil, err
	}
	return &types.StepResult{
		Symbol: symbol,
		Price:  price,
		Time:   now,
		Orders: []types.OrderResp{resp},
		Reason: reason,
	}, nil
}

// enter places the entry order and arms a bracket stop under it. A failed
// stop placement is reported but does not unwind the entry; the exit check on
// the next cycle still covers the position.
func (e *Engine) enter(ctx context.Context, symbol string, price float64, now int64) (*types.StepResult, error) {
	qty := e.pickQty(symbol)
	stopPrice := price * (1 - e.cfg.Stop.Pct/100)

	entry, err := e.brk.PlaceOrder(ctx, types.OrderReq{
		Symbol:    symbol,
		Side:      types.SideBuy,
		Type:      types.OrderTypeMarket,
		Qty:       qty,
		StopPrice: stopPrice,
		Target:    price * (1 + e.cfg.Stop.TargetPct/100),
		Tag:       "ENTRY",
	})
	if err != nil {
		return nil, err
	}
	logger.Trade(ctx, symbol, "BUY", qty, entry.OrderID, "price", price, "tag", "ENTRY")
	orderResps := []types.OrderResp{entry}

	stopResp, err := e.brk.PlaceOrder(ctx, types.OrderReq{
		Symbol:    symbol,
		Side:      types.SideSell,
		Type:      types.OrderTypeStopLoss,
		Qty:       qty,
		Price:     stopPrice,
		StopPrice: stopPrice,
		Tag:       "SL",
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to arm bracket stop", err,
			"symbol", symbol, "entry_order_id", entry.OrderID,
		)
	} else {
		orderResps = append(orderResps, stopResp)
		e.reg.LinkChild(ctx, entry.OrderID, stopResp.OrderID)
	}

	return &types.StepResult{
		Symbol: symbol,
		Price:  price,
		Time:   now,
		Orders: orderResps,
		Reason: "momentum entry",
	}, nil
}

func (e *Engine) pickQty(symbol string) int {
	if v, ok := e.cfg.Qty.PerSymbol[symbol]; ok {
		return v
	}
	return e.cfg.Qty.DefaultBuy
}

func (e *Engine) record(symbol string, price float64) []float64 {
	h := append(e.hist[symbol], price)
	if len(h) > histWindow {
		h = h[len(h)-histWindow:]
	}
	e.hist[symbol] = h
	return h
}

// momentumSignal enters when the price is above the mean of the recent polls,
// once enough history has accumulated.
func momentumSignal(symbol string, history []float64, price float64) bool {
	if len(history) < histWindow {
		return false
	}
	var sum float64
	for _, p := range history {
		sum += p
	}
	return price > sum/float64(len(history))
}
