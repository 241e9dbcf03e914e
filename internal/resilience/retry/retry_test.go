package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"intraday-trading-bot/internal/types"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:       attempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestSucceedsFirstAttempt(t *testing.T) {
	res := Do(context.Background(), fastPolicy(5), "op", func(ctx context.Context) error {
		return nil
	})
	require.True(t, res.Success())
	assert.Equal(t, 1, res.Attempts)
}

func TestRetriesNetworkErrorsThenSucceeds(t *testing.T) {
	var calls int
	res := Do(context.Background(), fastPolicy(5), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return types.NewBrokerError(types.KindNetwork, "op", errors.New("timeout"))
		}
		return nil
	})
	require.True(t, res.Success())
	assert.Equal(t, 3, res.Attempts)
}

func TestBusinessErrorNotRetried(t *testing.T) {
	bizErr := types.NewBrokerError(types.KindBusiness, "op", errors.New("rejected"))
	var calls int
	res := Do(context.Background(), fastPolicy(5), "op", func(ctx context.Context) error {
		calls++
		return bizErr
	})
	require.False(t, res.Success())
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.KindBusiness, types.KindOf(res.Err))
}

func TestExhaustionWrapsError(t *testing.T) {
	netErr := types.NewBrokerError(types.KindNetwork, "op", errors.New("refused"))
	res := Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) error {
		return netErr
	})
	require.False(t, res.Success())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, types.KindExhausted, types.KindOf(res.Err))
	assert.True(t, errors.Is(res.Err, netErr))
}

func TestContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{
		MaxAttempts:       5,
		InitialDelay:      time.Hour,
		MaxDelay:          time.Hour,
		BackoffMultiplier: 2.0,
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := Do(ctx, policy, "op", func(ctx context.Context) error {
		return types.NewBrokerError(types.KindNetwork, "op", errors.New("down"))
	})
	require.False(t, res.Success())
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestOnAttemptObservesFailures(t *testing.T) {
	var observed []int
	policy := fastPolicy(3)
	policy.OnAttempt = func(attempt int, err error) {
		observed = append(observed, attempt)
	}
	Do(context.Background(), policy, "op", func(ctx context.Context) error {
		return types.NewBrokerError(types.KindNetwork, "op", errors.New("down"))
	})
	assert.Equal(t, []int{1, 2, 3}, observed)
}

func TestDelayStaysWithinJitterBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := Policy{
			InitialDelay:      time.Duration(rapid.IntRange(1, 5000).Draw(t, "initial")) * time.Millisecond,
			MaxDelay:          time.Duration(rapid.IntRange(1, 60000).Draw(t, "max")) * time.Millisecond,
			BackoffMultiplier: float64(rapid.IntRange(10, 40).Draw(t, "mult")) / 10,
		}
		attempt := rapid.IntRange(1, 12).Draw(t, "attempt")

		base := float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))
		if capped := float64(policy.MaxDelay); base > capped {
			base = capped
		}
		d := Delay(policy, attempt)

		if float64(d) < base*0.75-1 || float64(d) > base*1.25+1 {
			t.Fatalf("delay %v outside jitter bounds of base %v", d, time.Duration(base))
		}
	})
}
