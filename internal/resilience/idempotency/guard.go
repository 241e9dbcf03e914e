// Package idempotency suppresses duplicate order submissions. An intent is
// fingerprinted as (symbol, action, quantity) bucketed to a short time
// window, so retries of the same human intent collapse into one submission
// while genuinely new intents are admitted once the window has passed.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/sched"
	"intraday-trading-bot/internal/types"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

type record struct {
	status    Status
	createdAt time.Time
	settledAt time.Time
	orderID   string
}

type Config struct {
	// Bucket is the width of the intent time window.
	Bucket time.Duration
	// RearmAge is how long a settled record keeps blocking resubmission.
	RearmAge time.Duration
	// MaxAge bounds memory: records older than this are swept.
	MaxAge time.Duration
	// SweepEvery is the period of the background eviction sweep.
	SweepEvery time.Duration
}

func (c *Config) withDefaults() {
	if c.Bucket <= 0 {
		c.Bucket = time.Second
	}
	if c.RearmAge <= 0 {
		c.RearmAge = 5 * time.Second
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 2 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
}

type Guard struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

func NewGuard(cfg Config) *Guard {
	cfg.withDefaults()
	return &Guard{cfg: cfg, now: time.Now, records: make(map[string]*record)}
}

// Key derives the idempotency fingerprint for a trading intent.
func (g *Guard) Key(symbol string, action types.Side, qty int) string {
	bucket := g.now().UnixNano() / int64(g.cfg.Bucket)
	return fmt.Sprintf("%s:%s:%d:%d", symbol, action, qty, bucket)
}

// CanProceed admits the intent and registers it as PENDING, or rejects it:
// a PENDING record means a duplicate is already in flight, and a settled
// record younger than the re-arm age still blocks resubmission.
func (g *Guard) CanProceed(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	rec, ok := g.records[key]
	if !ok {
		g.records[key] = &record{status: StatusPending, createdAt: now}
		return true
	}

	switch rec.status {
	case StatusPending:
		return false
	default:
		if now.Sub(rec.settledAt) < g.cfg.RearmAge {
			return false
		}
		g.records[key] = &record{status: StatusPending, createdAt: now}
		return true
	}
}

func (g *Guard) MarkCompleted(key, orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[key]; ok {
		rec.status = StatusCompleted
		rec.settledAt = g.now()
		rec.orderID = orderID
	}
}

func (g *Guard) MarkFailed(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[key]; ok {
		rec.status = StatusFailed
		rec.settledAt = g.now()
	}
}

// Sweep evicts records past the maximum age and returns how many were
// removed.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.cfg.MaxAge)
	var removed int
	for key, rec := range g.records {
		if rec.createdAt.Before(cutoff) {
			delete(g.records, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs the eviction sweep as a cancellable periodic task.
func (g *Guard) StartSweeper(ctx context.Context) *sched.Task {
	return sched.Every(ctx, g.cfg.SweepEvery, func(ctx context.Context) {
		if n := g.Sweep(); n > 0 {
			logger.Debug(ctx, "Idempotency records swept", "evicted", n)
		}
	})
}

// Size reports the number of tracked records.
func (g *Guard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}
