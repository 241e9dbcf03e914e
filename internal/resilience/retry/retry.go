// Package retry runs remote calls with exponential backoff and jitter. It is
// composed inside a circuit breaker: the breaker observes only the terminal
// outcome of the whole retried call, so a retry-then-success counts as a
// single breaker success.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/types"
)

type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// ShouldRetry decides whether a failed attempt is worth repeating.
	// Defaults to retrying network-class errors only.
	ShouldRetry func(error) bool
	// OnAttempt, when set, observes every failed attempt before the backoff
	// sleep.
	OnAttempt func(attempt int, err error)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (p *Policy) withDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 2.0
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = types.Retryable
	}
}

type Result struct {
	Attempts      int
	TotalDuration time.Duration
	Err           error
}

func (r Result) Success() bool { return r.Err == nil }

// Do attempts op until it succeeds, the classifier refuses a retry, attempts
// run out, or the context is cancelled.
func Do(ctx context.Context, policy Policy, opName string, op func(ctx context.Context) error) Result {
	policy.withDefaults()
	start := time.Now()

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return Result{Attempts: attempt, TotalDuration: time.Since(start)}
		}

		if policy.OnAttempt != nil {
			policy.OnAttempt(attempt, err)
		}

		if !policy.ShouldRetry(err) {
			logger.Debug(ctx, "Error not retryable, giving up",
				"op", opName, "attempt", attempt, "kind", types.KindOf(err).String(),
			)
			return Result{Attempts: attempt, TotalDuration: time.Since(start), Err: err}
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := Delay(policy, attempt)
		logger.Debug(ctx, "Retrying after backoff",
			"op", opName, "attempt", attempt, "delay_ms", delay.Milliseconds(),
		)
		if serr := sleep(ctx, delay); serr != nil {
			return Result{Attempts: attempt, TotalDuration: time.Since(start), Err: serr}
		}
	}

	wrapped := types.NewBrokerError(types.KindExhausted, opName,
		fmt.Errorf("retries exhausted after %d attempts: %w", policy.MaxAttempts, err))
	return Result{Attempts: policy.MaxAttempts, TotalDuration: time.Since(start), Err: wrapped}
}

// Delay computes the backoff before the next attempt:
// min(initial * multiplier^(attempt-1), max) with ±25% jitter.
func Delay(policy Policy, attempt int) time.Duration {
	base := float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))
	if capped := float64(policy.MaxDelay); base > capped {
		base = capped
	}
	jitter := 0.75 + rand.Float64()*0.5
	d := time.Duration(base * jitter)
	if d < 0 {
		d = 0
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
