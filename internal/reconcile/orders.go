package reconcile

import (
	"context"
	"fmt"
	"time"

	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/orders"
	"intraday-trading-bot/internal/positions"
	"intraday-trading-bot/internal/sched"
	"intraday-trading-bot/internal/types"
)

type OrderConfig struct {
	Interval time.Duration
	// MaxMissedCycles is how many passes an order may be absent from the
	// broker's book before the bot gives up tracking it (~5 minutes at the
	// default 5s interval).
	MaxMissedCycles int
}

func (c *OrderConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.MaxMissedCycles <= 0 {
		c.MaxMissedCycles = 60
	}
}

// OrderReconciler applies the broker's order statuses over the local ones.
type OrderReconciler struct {
	cfg OrderConfig
	brk interfaces.Broker
	reg *orders.Registry
	pos *positions.Store
	bus *events.Bus
}

func NewOrderReconciler(cfg OrderConfig, brk interfaces.Broker, reg *orders.Registry, pos *positions.Store, bus *events.Bus) *OrderReconciler {
	cfg.withDefaults()
	return &OrderReconciler{cfg: cfg, brk: brk, reg: reg, pos: pos, bus: bus}
}

// Start runs the reconciler as a periodic task.
func (rc *OrderReconciler) Start(ctx context.Context) *sched.Task {
	return sched.Every(ctx, rc.cfg.Interval, func(ctx context.Context) {
		if err := rc.RunOnce(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Order reconciliation pass failed", err)
		}
	})
}

// RunOnce reconciles every locally tracked non-terminal order against the
// broker's book, fetched once per cycle.
func (rc *OrderReconciler) RunOnce(ctx context.Context) error {
	local := rc.reg.NonTerminal()
	if len(local) == 0 {
		return nil
	}

	brokerOrders, err := rc.brk.Orders(ctx)
	if err != nil {
		return fmt.Errorf("fetch broker orders: %w", err)
	}
	remote := make(map[string]types.Order, len(brokerOrders))
	for _, o := range brokerOrders {
		remote[o.ID] = o
	}

	for _, rec := range local {
		id := rec.Order.ID
		brokerOrder, known := remote[id]
		if known {
			rc.reg.ClearMissed(id)
			rc.applyBrokerView(ctx, rec, brokerOrder)
			continue
		}

		// Orders still local-only (not yet submitted) cannot be at the
		// broker; do not count those.
		switch rec.State {
		case types.StatusCreated, types.StatusPending, types.StatusFailed:
			continue
		}

		missed := rc.reg.MarkMissed(id)
		if missed >= rc.cfg.MaxMissedCycles {
			m := Mismatch{
				Symbol: rec.Order.Symbol,
				Kind:   MissingRemote,
				Local:  string(rec.State),
				Broker: "absent",
				Detail: fmt.Sprintf("order %s absent from broker book for %d cycles", id, missed),
			}
			rc.emitMismatch(ctx, id, m)
			rc.reg.Drop(ctx, id, "reconciliation failure")
		}
	}
	return nil
}

func (rc *OrderReconciler) applyBrokerView(ctx context.Context, rec orders.Record, brokerOrder types.Order) {
	id := rec.Order.ID
	if brokerOrder.FilledQty != rec.Order.FilledQty || brokerOrder.AvgFillPrice != rec.Order.AvgFillPrice {
		rc.reg.UpdateFill(id, brokerOrder.FilledQty, brokerOrder.AvgFillPrice)
	}
	// Fold newly observed fill quantity into the local position view right
	// away; the slower position pass still corrects any remaining drift.
	if delta := brokerOrder.FilledQty - rec.Order.FilledQty; delta > 0 && rc.pos != nil {
		rc.pos.ApplyFill(rec.Order.Symbol, rec.Order.Side, delta, brokerOrder.AvgFillPrice)
	}
	if brokerOrder.Status == rec.State {
		return
	}
	// Broker is authoritative: apply its status as the correction.
	if !rc.reg.Transition(ctx, id, brokerOrder.Status, "reconciliation") {
		m := Mismatch{
			Symbol: rec.Order.Symbol,
			Kind:   StatusMismatch,
			Local:  string(rec.State),
			Broker: string(brokerOrder.Status),
			Detail: fmt.Sprintf("broker status %s not reachable from local %s", brokerOrder.Status, rec.State),
		}
		rc.emitMismatch(ctx, id, m)
	}
}

// FullSync additionally adopts broker orders the bot is not tracking at all.
// Run at startup and after broker recovery to rebuild state.
func (rc *OrderReconciler) FullSync(ctx context.Context) error {
	brokerOrders, err := rc.brk.Orders(ctx)
	if err != nil {
		return fmt.Errorf("fetch broker orders: %w", err)
	}

	tracked := make(map[string]bool)
	for _, rec := range rc.reg.All() {
		tracked[rec.Order.ID] = true
	}

	var adopted int
	for _, o := range brokerOrders {
		if tracked[o.ID] || o.Status.Terminal() {
			continue
		}
		rc.reg.Track(ctx, o)
		adopted++
		m := Mismatch{
			Symbol: o.Symbol,
			Kind:   MissingLocal,
			Local:  "untracked",
			Broker: string(o.Status),
			Detail: fmt.Sprintf("adopted broker order %s", o.ID),
		}
		rc.emitMismatch(ctx, o.ID, m)
	}
	if adopted > 0 {
		logger.Info(ctx, "Adopted untracked broker orders", "count", adopted)
	}
	return rc.RunOnce(ctx)
}

func (rc *OrderReconciler) emitMismatch(ctx context.Context, orderID string, m Mismatch) {
	logger.Warn(ctx, "Order reconciliation mismatch",
		"order_id", orderID, "kind", string(m.Kind), "detail", m.Detail,
	)
	if rc.bus == nil {
		return
	}
	ev := events.New(events.ReconciliationMismatch)
	ev.OrderID = orderID
	ev.Symbol = m.Symbol
	ev.Fields = map[string]any{"kind": string(m.Kind), "local": m.Local, "broker": m.Broker, "detail": m.Detail}
	rc.bus.Publish(ev)
}
