package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode           string   `yaml:"mode"`
	Exchange       string   `yaml:"exchange"`
	Product        string   `yaml:"product"`
	PollSeconds    int      `yaml:"poll_seconds"`
	UniverseStatic []string `yaml:"universe_static"`
	Qty            struct {
		DefaultBuy  int            `yaml:"default_buy"`
		DefaultSell int            `yaml:"default_sell"`
		PerSymbol   map[string]int `yaml:"per_symbol"`
	} `yaml:"qty"`
	Stop struct {
		Pct       float64 `yaml:"pct"`
		TargetPct float64 `yaml:"target_pct"`
	} `yaml:"stop"`
	Breaker struct {
		FailureThreshold   int `yaml:"failure_threshold"`
		SuccessThreshold   int `yaml:"success_threshold"`
		OpenTimeoutSeconds int `yaml:"open_timeout_seconds"`
		WindowSeconds      int `yaml:"window_seconds"`
		MinVolume          int `yaml:"min_volume"`
	} `yaml:"breaker"`
	Retry struct {
		MaxAttempts       int     `yaml:"max_attempts"`
		InitialDelayMs    int     `yaml:"initial_delay_ms"`
		MaxDelayMs        int     `yaml:"max_delay_ms"`
		BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	} `yaml:"retry"`
	Idempotency struct {
		BucketSeconds int `yaml:"bucket_seconds"`
		RearmSeconds  int `yaml:"rearm_seconds"`
		MaxAgeSeconds int `yaml:"max_age_seconds"`
	} `yaml:"idempotency"`
	Orders struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		MaxRetry       int `yaml:"max_retry"`
	} `yaml:"orders"`
	Reconcile struct {
		OrderIntervalSeconds    int     `yaml:"order_interval_seconds"`
		MaxMissedCycles         int     `yaml:"max_missed_cycles"`
		PositionIntervalSeconds int     `yaml:"position_interval_seconds"`
		PriceTolerancePct       float64 `yaml:"price_tolerance_pct"`
		CriticalCycles          int     `yaml:"critical_cycles"`
	} `yaml:"reconcile"`
	Health struct {
		ProbeIntervalSeconds int `yaml:"probe_interval_seconds"`
		FailureThreshold     int `yaml:"failure_threshold"`
		RecoveryThreshold    int `yaml:"recovery_threshold"`
		DegradedLatencyMs    int `yaml:"degraded_latency_ms"`
		ReconnectMaxAttempts int `yaml:"reconnect_max_attempts"`
	} `yaml:"health"`
	API struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"api"`
	Journal struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"journal"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.UniverseStatic) == 0 {
		return errors.New("universe_static cannot be empty")
	}
	if c.Qty.DefaultBuy <= 0 {
		return fmt.Errorf("qty.default_buy must be positive, got %d", c.Qty.DefaultBuy)
	}
	if c.Stop.Pct <= 0 || c.Stop.Pct >= 100 {
		return fmt.Errorf("stop.pct must be between 0-100, got %.2f", c.Stop.Pct)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1, got %.2f", c.Retry.BackoffMultiplier)
	}
	if c.Reconcile.PriceTolerancePct < 0 {
		return fmt.Errorf("reconcile.price_tolerance_pct cannot be negative, got %.2f", c.Reconcile.PriceTolerancePct)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal.path required when journal is enabled")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.PollSeconds == 0 {
		c.PollSeconds = 15
	}
	if c.Exchange == "" {
		c.Exchange = "NSE"
	}
	if c.Product == "" {
		c.Product = "MIS"
	}
	if c.Qty.DefaultSell == 0 {
		c.Qty.DefaultSell = c.Qty.DefaultBuy
	}
	if c.Stop.TargetPct == 0 {
		c.Stop.TargetPct = c.Stop.Pct * 2
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = 2.0
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8942"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

// Duration helpers so wiring code does not repeat second/millisecond math.

func (c *Config) RetryInitialDelay() time.Duration {
	return time.Duration(c.Retry.InitialDelayMs) * time.Millisecond
}

func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMs) * time.Millisecond
}

func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }
