package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"intraday-trading-bot/internal/broker/brokerobs"
	"intraday-trading-bot/internal/broker/resilient"
	"intraday-trading-bot/internal/broker/zerodha"
	"intraday-trading-bot/internal/engine"
	"intraday-trading-bot/internal/engine/engineobs"
	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/health"
	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/orders"
	"intraday-trading-bot/internal/positions"
	"intraday-trading-bot/internal/reconcile"
	"intraday-trading-bot/internal/resilience/breaker"
	"intraday-trading-bot/internal/resilience/idempotency"
	"intraday-trading-bot/internal/resilience/retry"
	"intraday-trading-bot/internal/store"
	"intraday-trading-bot/internal/trace"
)

// initializeSystem initializes environment, logger and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// initializeBroker initializes and returns the raw broker with observability
func initializeBroker(ctx context.Context, cfg *store.Config) interfaces.Broker {
	brk := zerodha.NewZerodha(zerodha.Params{
		Mode:        cfg.Mode,
		APIKey:      os.Getenv("KITE_API_KEY"),
		AccessToken: os.Getenv("KITE_ACCESS_TOKEN"),
		Exchange:    cfg.Exchange,
		Product:     cfg.Product,
	})

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	}

	// Wrap with observability middleware
	return brokerobs.Wrap(brk)
}

// killGate defers the kill-switch binding: the resilient broker is built
// before the health monitor that owns the switch.
type killGate struct {
	monitor *health.Monitor
}

func (g *killGate) KillSwitchActive() bool {
	if g.monitor == nil {
		return false
	}
	return g.monitor.KillSwitchActive()
}

// pipeline is the fully wired execution layer.
type pipeline struct {
	bus      *events.Bus
	registry *orders.Registry
	guard    *idempotency.Guard
	posStore *positions.Store
	broker   *resilient.Broker
	orderRC  *reconcile.OrderReconciler
	posRC    *reconcile.PositionReconciler
	monitor  *health.Monitor
	engine   interfaces.Engine
}

// buildPipeline wires the bus, registry, guards, breakers, reconcilers and
// health monitor around the raw broker. The health probe goes through the
// observable broker directly, not the breakers, so an open data breaker
// cannot mask a recovered connection.
func buildPipeline(cfg *store.Config, rawBroker interfaces.Broker) *pipeline {
	bus := events.NewBus()

	registry := orders.NewRegistry(orders.Config{
		Timeout:  store.Seconds(cfg.Orders.TimeoutSeconds),
		MaxRetry: cfg.Orders.MaxRetry,
	}, bus)

	guard := idempotency.NewGuard(idempotency.Config{
		Bucket:   store.Seconds(cfg.Idempotency.BucketSeconds),
		RearmAge: store.Seconds(cfg.Idempotency.RearmSeconds),
		MaxAge:   store.Seconds(cfg.Idempotency.MaxAgeSeconds),
	})

	posStore := positions.NewStore()

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenTimeout:      store.Seconds(cfg.Breaker.OpenTimeoutSeconds),
		RollingWindow:    store.Seconds(cfg.Breaker.WindowSeconds),
		MinVolume:        cfg.Breaker.MinVolume,
	}
	gate := &killGate{}
	rbrk := resilient.New(resilient.Config{
		OrderBreaker: breakerCfg,
		DataBreaker:  breakerCfg,
		ConnBreaker:  breakerCfg,
		Retry: retry.Policy{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialDelay:      cfg.RetryInitialDelay(),
			MaxDelay:          cfg.RetryMaxDelay(),
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
	}, rawBroker, registry, guard, gate, bus)

	orderRC := reconcile.NewOrderReconciler(reconcile.OrderConfig{
		Interval:        store.Seconds(cfg.Reconcile.OrderIntervalSeconds),
		MaxMissedCycles: cfg.Reconcile.MaxMissedCycles,
	}, rbrk, registry, posStore, bus)

	posRC := reconcile.NewPositionReconciler(reconcile.PositionConfig{
		Interval:          store.Seconds(cfg.Reconcile.PositionIntervalSeconds),
		PriceTolerancePct: cfg.Reconcile.PriceTolerancePct,
		CriticalCycles:    cfg.Reconcile.CriticalCycles,
	}, rbrk, posStore, bus)

	monitor := health.NewMonitor(health.Config{
		ProbeInterval:        store.Seconds(cfg.Health.ProbeIntervalSeconds),
		FailureThreshold:     cfg.Health.FailureThreshold,
		RecoveryThreshold:    cfg.Health.RecoveryThreshold,
		DegradedLatency:      time.Duration(cfg.Health.DegradedLatencyMs) * time.Millisecond,
		ReconnectMaxAttempts: cfg.Health.ReconnectMaxAttempts,
	}, rawBroker, posStore, orderRC, posRC, bus)
	gate.monitor = monitor

	eng := engine.New(cfg, rbrk, registry, posStore)

	return &pipeline{
		bus:      bus,
		registry: registry,
		guard:    guard,
		posStore: posStore,
		broker:   rbrk,
		orderRC:  orderRC,
		posRC:    posRC,
		monitor:  monitor,
		engine:   engineobs.Wrap(eng),
	}
}
