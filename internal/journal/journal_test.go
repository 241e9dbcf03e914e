package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trading-bot/internal/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOrderHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	ev1 := events.New(events.OrderStateChanged)
	ev1.OrderID = "O1"
	ev1.Symbol = "RELIANCE"
	ev1.Fields = map[string]any{"from": "PENDING", "to": "SUBMITTED"}
	require.NoError(t, j.record(ev1))

	ev2 := events.New(events.OrderFilled)
	ev2.OrderID = "O1"
	ev2.Symbol = "RELIANCE"
	require.NoError(t, j.record(ev2))

	other := events.New(events.OrderStateChanged)
	other.OrderID = "O2"
	require.NoError(t, j.record(other))

	history, err := j.OrderHistory(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, string(events.OrderStateChanged), history[0].Category)
	assert.Equal(t, string(events.OrderFilled), history[1].Category)
	assert.Equal(t, "SUBMITTED", history[0].Fields["to"])
}

func TestMismatchesLandInOwnTable(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	ev := events.New(events.ReconciliationMismatch)
	ev.Symbol = "TCS"
	ev.Fields = map[string]any{"kind": "QUANTITY_MISMATCH"}
	require.NoError(t, j.record(ev))
	require.NoError(t, j.record(events.New(events.ReconciliationCritical)))

	n, err := j.MismatchCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Mismatches must not pollute the order trail.
	history, err := j.OrderHistory(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDowntimeEventsRecorded(t *testing.T) {
	j := openTestJournal(t)

	for _, cat := range []events.Category{
		events.BrokerDown, events.SafeModeActivated,
		events.BrokerRecovered, events.SafeModeDeactivated,
	} {
		require.NoError(t, j.record(events.New(cat)))
	}

	var n int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM downtime`).Scan(&n))
	assert.Equal(t, 4, n)
}

func TestConsumeDrainsSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j := openTestJournal(t)
	bus := events.NewBus()
	sub := bus.Subscribe(16, events.OrderStateChanged)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Consume(ctx, sub)
	}()

	ev := events.New(events.OrderStateChanged)
	ev.OrderID = "O9"
	bus.Publish(ev)

	require.Eventually(t, func() bool {
		history, err := j.OrderHistory(context.Background(), "O9")
		return err == nil && len(history) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not stop on context cancel")
	}
}
