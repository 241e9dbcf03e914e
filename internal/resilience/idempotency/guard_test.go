package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trading-bot/internal/types"
)

func newTestGuard() (*Guard, *time.Time) {
	g := NewGuard(Config{
		Bucket:   time.Second,
		RearmAge: 5 * time.Second,
		MaxAge:   2 * time.Minute,
	})
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestDuplicateIntentBlocked(t *testing.T) {
	g, _ := newTestGuard()
	key := g.Key("RELIANCE", types.SideBuy, 10)

	assert.True(t, g.CanProceed(key))
	assert.False(t, g.CanProceed(key))
}

func TestDifferentIntentsAdmitted(t *testing.T) {
	g, _ := newTestGuard()

	assert.True(t, g.CanProceed(g.Key("RELIANCE", types.SideBuy, 10)))
	assert.True(t, g.CanProceed(g.Key("RELIANCE", types.SideSell, 10)))
	assert.True(t, g.CanProceed(g.Key("RELIANCE", types.SideBuy, 20)))
	assert.True(t, g.CanProceed(g.Key("TCS", types.SideBuy, 10)))
}

func TestKeyChangesAcrossBuckets(t *testing.T) {
	g, now := newTestGuard()
	k1 := g.Key("INFY", types.SideBuy, 5)
	*now = now.Add(1500 * time.Millisecond)
	k2 := g.Key("INFY", types.SideBuy, 5)
	assert.NotEqual(t, k1, k2)
}

func TestSettledRecordBlocksUntilRearmAge(t *testing.T) {
	g, now := newTestGuard()
	key := g.Key("TCS", types.SideBuy, 5)

	require.True(t, g.CanProceed(key))
	g.MarkCompleted(key, "ORD-1")

	*now = now.Add(2 * time.Second)
	assert.False(t, g.CanProceed(key), "settled record younger than re-arm age must block")

	*now = now.Add(4 * time.Second)
	assert.True(t, g.CanProceed(key), "after re-arm age the key admits again")
}

func TestFailedRecordAlsoWaitsForRearm(t *testing.T) {
	g, now := newTestGuard()
	key := g.Key("TCS", types.SideSell, 5)

	require.True(t, g.CanProceed(key))
	g.MarkFailed(key)

	assert.False(t, g.CanProceed(key))
	*now = now.Add(6 * time.Second)
	assert.True(t, g.CanProceed(key))
}

func TestSweepEvictsOldRecords(t *testing.T) {
	g, now := newTestGuard()
	require.True(t, g.CanProceed(g.Key("RELIANCE", types.SideBuy, 1)))
	require.Equal(t, 1, g.Size())

	*now = now.Add(3 * time.Minute)
	assert.Equal(t, 1, g.Sweep())
	assert.Equal(t, 0, g.Size())
}

func TestSweepKeepsFreshRecords(t *testing.T) {
	g, now := newTestGuard()
	require.True(t, g.CanProceed(g.Key("RELIANCE", types.SideBuy, 1)))

	*now = now.Add(30 * time.Second)
	assert.Equal(t, 0, g.Sweep())
	assert.Equal(t, 1, g.Size())
}
