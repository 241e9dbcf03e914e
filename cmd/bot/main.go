package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intraday-trading-bot/internal/api"
	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/sched"
	"intraday-trading-bot/internal/trace"
	"intraday-trading-bot/internal/types"
)

func main() {
	if err := initializeSystem(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}

	rawBroker := initializeBroker(ctx, cfg)
	p := buildPipeline(cfg, rawBroker)

	if err := p.broker.Connect(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Initial broker connection failed", err)
		os.Exit(1)
	}
	defer p.broker.Disconnect(context.Background())

	// Rebuild order and position state before any trading decision.
	if err := p.orderRC.FullSync(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Startup order sync failed", err)
	}
	if _, err := p.posRC.RunOnce(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Startup position sync failed", err)
	}

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to open journal", err, "path", cfg.Journal.Path)
			os.Exit(1)
		}
		defer jnl.Close()
		sub := p.bus.Subscribe(256,
			events.OrderStateChanged, events.OrderFilled, events.OrderRejected,
			events.OrderTimeout, events.ReconciliationMismatch, events.ReconciliationCritical,
			events.BrokerDown, events.BrokerRecovered,
			events.SafeModeActivated, events.SafeModeDeactivated,
		)
		defer sub.Close()
		go jnl.Consume(ctx, sub)
	}

	tasks := []*sched.Task{
		p.guard.StartSweeper(ctx),
		p.orderRC.Start(ctx),
		p.posRC.Start(ctx),
		p.monitor.Start(ctx),
	}
	defer func() {
		for _, t := range tasks {
			t.Stop()
		}
	}()

	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API.Addr, p.monitor, p.registry, p.posStore, p.posRC, p.broker, p.bus)
		go func() {
			if err := srv.Start(); err != nil {
				logger.ErrorWithErr(ctx, "Status API failed", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info(ctx, "Bot started",
		"mode", cfg.Mode,
		"universe", cfg.UniverseStatic,
		"poll_seconds", cfg.PollSeconds,
	)

	tick := time.NewTicker(time.Duration(cfg.PollSeconds) * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if p.monitor.KillSwitchActive() {
				logger.Warn(ctx, "Safe mode active, skipping trading cycle")
				continue
			}
			for _, sym := range cfg.UniverseStatic {
				if _, err := p.engine.Step(ctx, sym); err != nil {
					logger.ErrorWithErr(ctx, "Trading step failed", err, "symbol", sym)
				}
			}
			resubmitFailed(ctx, p)
		case <-ctx.Done():
			logger.Info(ctx, "Shutting down...")
			trace.Shutdown(context.Background())
			return
		}
	}
}

// resubmitFailed retries FAILED orders still inside their retry budget. The
// registry refuses the transition once the budget is spent, so this loop
// cannot spin on a permanently broken order.
func resubmitFailed(ctx context.Context, p *pipeline) {
	for _, rec := range p.registry.NonTerminal() {
		if rec.State != types.StatusFailed {
			continue
		}
		if _, err := p.broker.Resubmit(ctx, rec.Order.ID); err != nil {
			logger.Warn(ctx, "Order resubmission failed",
				"order_id", rec.Order.ID, "error", err,
			)
		}
	}
}
