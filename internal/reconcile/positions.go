package reconcile

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/positions"
	"intraday-trading-bot/internal/sched"
)

type PositionConfig struct {
	Interval time.Duration
	// PriceTolerancePct is how far local and broker entry prices may drift
	// before the broker's price is adopted.
	PriceTolerancePct float64
	// CriticalCycles is how many consecutive mismatching passes raise the
	// critical alert instead of a per-pass mismatch.
	CriticalCycles int
}

func (c *PositionConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.PriceTolerancePct <= 0 {
		c.PriceTolerancePct = 2.0
	}
	if c.CriticalCycles <= 0 {
		c.CriticalCycles = 3
	}
}

// PositionReconciler repairs the local position map toward the broker's.
type PositionReconciler struct {
	cfg   PositionConfig
	brk   interfaces.Broker
	store *positions.Store
	bus   *events.Bus

	mu          sync.Mutex
	consecutive int
	recent      []Mismatch // bounded ring for the status surface
}

const recentMismatchCap = 50

func NewPositionReconciler(cfg PositionConfig, brk interfaces.Broker, store *positions.Store, bus *events.Bus) *PositionReconciler {
	cfg.withDefaults()
	return &PositionReconciler{cfg: cfg, brk: brk, store: store, bus: bus}
}

func (rc *PositionReconciler) Start(ctx context.Context) *sched.Task {
	return sched.Every(ctx, rc.cfg.Interval, func(ctx context.Context) {
		if _, err := rc.RunOnce(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Position reconciliation pass failed", err)
		}
	})
}

// RunOnce compares the local position map against the broker's by symbol and
// returns the mismatches it found. Unambiguous repairs (adopt broker truth)
// happen inline; an orphaned local position is only flagged, never removed.
func (rc *PositionReconciler) RunOnce(ctx context.Context) ([]Mismatch, error) {
	brokerPositions, err := rc.brk.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch broker positions: %w", err)
	}

	var mismatches []Mismatch
	seen := make(map[string]bool, len(brokerPositions))

	for _, bp := range brokerPositions {
		if bp.Qty == 0 {
			continue
		}
		seen[bp.Symbol] = true
		local, ok := rc.store.Get(bp.Symbol)
		if !ok {
			// Bot was under-tracking: adopt the broker's view.
			rc.store.Set(bp)
			mismatches = append(mismatches, Mismatch{
				Symbol: bp.Symbol,
				Kind:   MissingLocal,
				Local:  "none",
				Broker: fmt.Sprintf("qty=%d avg=%.2f", bp.Qty, bp.AvgPrice),
				Detail: "adopted broker position",
			})
			continue
		}

		if local.Qty != bp.Qty {
			rc.store.Set(bp)
			mismatches = append(mismatches, Mismatch{
				Symbol: bp.Symbol,
				Kind:   QuantityMismatch,
				Local:  fmt.Sprintf("qty=%d", local.Qty),
				Broker: fmt.Sprintf("qty=%d", bp.Qty),
				Detail: "adopted broker quantity",
			})
			continue
		}

		if local.AvgPrice > 0 && bp.AvgPrice > 0 {
			driftPct := math.Abs(local.AvgPrice-bp.AvgPrice) / bp.AvgPrice * 100
			if driftPct > rc.cfg.PriceTolerancePct {
				rc.store.Set(bp)
				mismatches = append(mismatches, Mismatch{
					Symbol: bp.Symbol,
					Kind:   PriceMismatch,
					Local:  fmt.Sprintf("avg=%.2f", local.AvgPrice),
					Broker: fmt.Sprintf("avg=%.2f", bp.AvgPrice),
					Detail: fmt.Sprintf("entry price drift %.2f%% beyond tolerance", driftPct),
				})
			}
		}
	}

	// Local positions the broker does not report could be a real
	// discrepancy worth halting for; flag, never auto-remove.
	for _, local := range rc.store.All() {
		if seen[local.Symbol] {
			continue
		}
		mismatches = append(mismatches, Mismatch{
			Symbol: local.Symbol,
			Kind:   MissingRemote,
			Local:  fmt.Sprintf("qty=%d", local.Qty),
			Broker: "none",
			Detail: "local position unknown to broker, kept for inspection",
		})
	}

	rc.report(ctx, mismatches)
	return mismatches, nil
}

// NoCountDrift reports whether local and broker position counts agree. Used
// by the health monitor to gate kill-switch deactivation after recovery.
func (rc *PositionReconciler) NoCountDrift(ctx context.Context) (bool, error) {
	brokerPositions, err := rc.brk.Positions(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch broker positions: %w", err)
	}
	var open int
	for _, p := range brokerPositions {
		if p.Qty != 0 {
			open++
		}
	}
	return rc.store.Count() == open, nil
}

// Recent returns the latest mismatches for the status surface.
func (rc *PositionReconciler) Recent() []Mismatch {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]Mismatch(nil), rc.recent...)
}

func (rc *PositionReconciler) report(ctx context.Context, mismatches []Mismatch) {
	rc.mu.Lock()
	if len(mismatches) == 0 {
		rc.consecutive = 0
		rc.mu.Unlock()
		return
	}
	rc.consecutive++
	consecutive := rc.consecutive
	rc.recent = append(rc.recent, mismatches...)
	if len(rc.recent) > recentMismatchCap {
		rc.recent = rc.recent[len(rc.recent)-recentMismatchCap:]
	}
	rc.mu.Unlock()

	for _, m := range mismatches {
		logger.Warn(ctx, "Position reconciliation mismatch",
			"symbol", m.Symbol, "kind", string(m.Kind),
			"local", m.Local, "broker", m.Broker, "detail", m.Detail,
		)
		if rc.bus != nil {
			ev := events.New(events.ReconciliationMismatch)
			ev.Symbol = m.Symbol
			ev.Fields = map[string]any{"kind": string(m.Kind), "local": m.Local, "broker": m.Broker, "detail": m.Detail}
			rc.bus.Publish(ev)
		}
	}

	// A single mismatching pass may just be fill-timing skew; several in a
	// row is a different animal.
	if consecutive >= rc.cfg.CriticalCycles {
		logger.Error(ctx, "Position reconciliation critical",
			"consecutive_cycles", consecutive, "mismatches", len(mismatches),
		)
		if rc.bus != nil {
			ev := events.New(events.ReconciliationCritical)
			ev.Fields = map[string]any{"consecutive_cycles": consecutive, "mismatches": len(mismatches)}
			rc.bus.Publish(ev)
		}
	}
}
