// Package health probes the broker, classifies its condition and drives safe
// mode. Sustained probe failure trips the kill switch and starts a
// backed-off reconnect loop; recovery re-runs reconciliation before trading
// is allowed again.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/positions"
	"intraday-trading-bot/internal/reconcile"
	"intraday-trading-bot/internal/resilience/retry"
	"intraday-trading-bot/internal/sched"
	"intraday-trading-bot/internal/types"
)

type Status string

const (
	StatusHealthy    Status = "HEALTHY"
	StatusDegraded   Status = "DEGRADED"
	StatusDown       Status = "DOWN"
	StatusRecovering Status = "RECOVERING"
)

// Episode is one completed or ongoing broker outage.
type Episode struct {
	ID       string        `json:"id"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Reason   string        `json:"reason"`
}

type probeResult struct {
	At      time.Time
	OK      bool
	Latency time.Duration
}

type Config struct {
	ProbeInterval     time.Duration
	FailureThreshold  int
	RecoveryThreshold int
	// DegradedLatency marks the broker DEGRADED (no safe mode) when an
	// otherwise successful probe takes longer than this.
	DegradedLatency       time.Duration
	ReconnectMaxAttempts  int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

func (c *Config) withDefaults() {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = 2
	}
	if c.DegradedLatency <= 0 {
		c.DegradedLatency = 5 * time.Second
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 10
	}
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = 2 * time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 5 * time.Minute
	}
}

// OrderResyncer rebuilds order state after an outage.
type OrderResyncer interface {
	FullSync(ctx context.Context) error
}

// PositionResyncer repairs positions and reports count drift.
type PositionResyncer interface {
	RunOnce(ctx context.Context) ([]reconcile.Mismatch, error)
	NoCountDrift(ctx context.Context) (bool, error)
}

const historyCap = 50

type Monitor struct {
	cfg      Config
	brk      interfaces.Broker
	bus      *events.Bus
	store    *positions.Store
	ordersRC OrderResyncer
	posRC    PositionResyncer

	killSwitch atomic.Bool

	mu             sync.Mutex
	status         Status
	consecFailures int
	consecOK       int
	history        []probeResult
	episodes       []Episode
	current        *Episode
	recovering     map[string]bool
	lastBalance    float64
	lastPositions  []types.Position
}

func NewMonitor(cfg Config, brk interfaces.Broker, store *positions.Store, ordersRC OrderResyncer, posRC PositionResyncer, bus *events.Bus) *Monitor {
	cfg.withDefaults()
	return &Monitor{
		cfg:        cfg,
		brk:        brk,
		bus:        bus,
		store:      store,
		ordersRC:   ordersRC,
		posRC:      posRC,
		status:     StatusHealthy,
		recovering: make(map[string]bool),
	}
}

// Start runs the probe as a periodic task.
func (m *Monitor) Start(ctx context.Context) *sched.Task {
	return sched.Every(ctx, m.cfg.ProbeInterval, m.Probe)
}

// Probe performs one lightweight health check: fetching the account balance.
func (m *Monitor) Probe(ctx context.Context) {
	start := time.Now()
	balance, err := m.brk.AccountBalance(ctx)
	latency := time.Since(start)

	m.mu.Lock()
	m.history = append(m.history, probeResult{At: start, OK: err == nil, Latency: latency})
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}

	if err != nil {
		m.consecOK = 0
		m.consecFailures++
		failures := m.consecFailures
		status := m.status
		m.mu.Unlock()

		logger.Warn(ctx, "Broker health probe failed",
			"consecutive_failures", failures, "error", err,
		)
		if failures >= m.cfg.FailureThreshold && status != StatusDown {
			m.markDown(ctx, err.Error())
		}
		return
	}

	m.lastBalance = balance
	m.consecFailures = 0
	m.consecOK++
	consecOK := m.consecOK
	status := m.status
	m.mu.Unlock()

	switch {
	case status == StatusDown || status == StatusRecovering:
		if consecOK >= m.cfg.RecoveryThreshold {
			m.markRecovered(ctx)
		}
	case latency > m.cfg.DegradedLatency:
		m.setStatus(ctx, StatusDegraded)
		logger.Warn(ctx, "Broker degraded: elevated probe latency",
			"latency_ms", latency.Milliseconds(),
			"threshold_ms", m.cfg.DegradedLatency.Milliseconds(),
		)
	case status == StatusDegraded:
		m.setStatus(ctx, StatusHealthy)
		logger.Info(ctx, "Broker latency back to normal")
	}
}

func (m *Monitor) markDown(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.status == StatusDown {
		m.mu.Unlock()
		return
	}
	m.status = StatusDown
	m.current = &Episode{ID: uuid.NewString(), Start: time.Now(), Reason: reason}
	// Cache the last-known-good view for anything that still needs to
	// answer while the broker is dark.
	m.lastPositions = m.store.All()
	m.mu.Unlock()

	logger.Error(ctx, "Broker marked DOWN", "reason", reason)
	m.emit(events.BrokerDown, map[string]any{"reason": reason})
	m.activateKillSwitch(ctx, reason)

	// Reconnects are single-flight per recovery key: a second trigger
	// while one is running is a no-op, not queued.
	if m.tryBeginRecovery("broker:reconnect") {
		go func() {
			defer m.endRecovery("broker:reconnect")
			m.reconnectLoop(context.WithoutCancel(ctx))
		}()
	}
}

func (m *Monitor) reconnectLoop(ctx context.Context) {
	policy := retry.Policy{
		MaxAttempts:       m.cfg.ReconnectMaxAttempts,
		InitialDelay:      m.cfg.ReconnectInitialDelay,
		MaxDelay:          m.cfg.ReconnectMaxDelay,
		BackoffMultiplier: 2.0,
		ShouldRetry:       func(error) bool { return true },
	}

	result := retry.Do(ctx, policy, "broker_reconnect", func(ctx context.Context) error {
		m.brk.Disconnect(ctx)
		if err := m.brk.Connect(ctx); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
		// Verify with one probe call before trusting the session.
		if _, err := m.brk.AccountBalance(ctx); err != nil {
			return fmt.Errorf("post-reconnect probe: %w", err)
		}
		return nil
	})
	if result.Err != nil {
		logger.ErrorWithErr(ctx, "Broker reconnect attempts exhausted", result.Err,
			"attempts", result.Attempts,
		)
		return
	}

	logger.Info(ctx, "Broker connection re-established",
		"attempts", result.Attempts,
		"duration_ms", result.TotalDuration.Milliseconds(),
	)
	m.setStatus(ctx, StatusRecovering)
	if m.posRC != nil {
		if _, err := m.posRC.RunOnce(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Post-reconnect position reconciliation failed", err)
		}
	}
}

func (m *Monitor) markRecovered(ctx context.Context) {
	m.mu.Lock()
	if m.status == StatusHealthy {
		m.mu.Unlock()
		return
	}
	m.status = StatusHealthy
	var episode *Episode
	if m.current != nil {
		m.current.End = time.Now()
		m.current.Duration = m.current.End.Sub(m.current.Start)
		m.episodes = append(m.episodes, *m.current)
		episode = m.current
		m.current = nil
	}
	m.mu.Unlock()

	if episode != nil {
		logger.Info(ctx, "Broker recovered",
			"downtime_ms", episode.Duration.Milliseconds(),
			"reason", episode.Reason,
		)
	} else {
		logger.Info(ctx, "Broker recovered")
	}
	m.emit(events.BrokerRecovered, nil)

	// Resync both views once before trading resumes.
	if m.ordersRC != nil {
		if err := m.ordersRC.FullSync(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Post-recovery order reconciliation failed", err)
		}
	}
	if m.posRC != nil {
		if _, err := m.posRC.RunOnce(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Post-recovery position reconciliation failed", err)
		}
		noDrift, err := m.posRC.NoCountDrift(ctx)
		if err != nil {
			logger.ErrorWithErr(ctx, "Post-recovery drift check failed, kill switch stays on", err)
			return
		}
		if !noDrift {
			logger.Error(ctx, "Position count drift after recovery, kill switch stays on")
			return
		}
	}
	m.deactivateKillSwitch(ctx)
}

func (m *Monitor) setStatus(ctx context.Context, s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// KillSwitchActive reports whether new order submission is blocked. External
// order-placing code must check this before every submission.
func (m *Monitor) KillSwitchActive() bool {
	return m.killSwitch.Load()
}

func (m *Monitor) activateKillSwitch(ctx context.Context, reason string) {
	if m.killSwitch.Swap(true) {
		return
	}
	logger.Error(ctx, "Safe mode activated: new orders blocked", "reason", reason)
	m.emit(events.SafeModeActivated, map[string]any{"reason": reason})
}

func (m *Monitor) deactivateKillSwitch(ctx context.Context) {
	if !m.killSwitch.Swap(false) {
		return
	}
	logger.Info(ctx, "Safe mode deactivated: trading resumed")
	m.emit(events.SafeModeDeactivated, nil)
}

func (m *Monitor) emit(cat events.Category, fields map[string]any) {
	if m.bus == nil {
		return
	}
	ev := events.New(cat)
	ev.Fields = fields
	m.bus.Publish(ev)
}

func (m *Monitor) tryBeginRecovery(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recovering[key] {
		return false
	}
	m.recovering[key] = true
	return true
}

func (m *Monitor) endRecovery(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recovering, key)
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastKnownGood returns the positions and balance cached when the broker
// last answered.
func (m *Monitor) LastKnownGood() ([]types.Position, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Position(nil), m.lastPositions...), m.lastBalance
}

// Episodes returns completed downtime episodes.
func (m *Monitor) Episodes() []Episode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Episode(nil), m.episodes...)
}

// Snapshot is the point-in-time view for the status surface.
type Snapshot struct {
	Status         Status    `json:"status"`
	KillSwitch     bool      `json:"kill_switch"`
	ConsecFailures int       `json:"consecutive_failures"`
	ConsecOK       int       `json:"consecutive_successes"`
	LastBalance    float64   `json:"last_balance"`
	Episodes       []Episode `json:"episodes,omitempty"`
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Status:         m.status,
		KillSwitch:     m.killSwitch.Load(),
		ConsecFailures: m.consecFailures,
		ConsecOK:       m.consecOK,
		LastBalance:    m.lastBalance,
		Episodes:       append([]Episode(nil), m.episodes...),
	}
}
