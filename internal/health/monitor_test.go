package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/positions"
	"intraday-trading-bot/internal/reconcile"
	"intraday-trading-bot/internal/types"
)

// flakyBroker fails or succeeds on command.
type flakyBroker struct {
	mu      sync.Mutex
	healthy bool
	balance float64
}

var _ interfaces.Broker = (*flakyBroker)(nil)

func (f *flakyBroker) set(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

func (f *flakyBroker) ok() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *flakyBroker) Connect(ctx context.Context) error {
	if !f.ok() {
		return types.NewBrokerError(types.KindNetwork, "connect", errors.New("refused"))
	}
	return nil
}
func (f *flakyBroker) Disconnect(ctx context.Context) {}
func (f *flakyBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	return types.OrderResp{}, errors.New("not implemented")
}
func (f *flakyBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *flakyBroker) Orders(ctx context.Context) ([]types.Order, error)     { return nil, nil }
func (f *flakyBroker) Positions(ctx context.Context) ([]types.Position, error) {
	return nil, nil
}
func (f *flakyBroker) AccountBalance(ctx context.Context) (float64, error) {
	if !f.ok() {
		return 0, types.NewBrokerError(types.KindNetwork, "account_balance", errors.New("timeout"))
	}
	return f.balance, nil
}
func (f *flakyBroker) LTP(ctx context.Context, symbol string) (float64, error) {
	return 0, errors.New("not implemented")
}

// stubResync satisfies both resync interfaces with scripted outcomes.
type stubResync struct {
	noDrift   bool
	fullSyncs int
	runs      int
}

func (s *stubResync) FullSync(ctx context.Context) error { s.fullSyncs++; return nil }
func (s *stubResync) RunOnce(ctx context.Context) ([]reconcile.Mismatch, error) {
	s.runs++
	return nil, nil
}
func (s *stubResync) NoCountDrift(ctx context.Context) (bool, error) { return s.noDrift, nil }

func newTestMonitor(brk interfaces.Broker, rs *stubResync) *Monitor {
	return NewMonitor(Config{
		FailureThreshold:      3,
		RecoveryThreshold:     2,
		ReconnectMaxAttempts:  1,
		ReconnectInitialDelay: time.Millisecond,
	}, brk, positions.NewStore(), rs, rs, nil)
}

func TestThreeFailuresMarkDownAndActivateKillSwitch(t *testing.T) {
	ctx := context.Background()
	brk := &flakyBroker{healthy: false}
	m := newTestMonitor(brk, &stubResync{noDrift: true})

	m.Probe(ctx)
	m.Probe(ctx)
	assert.NotEqual(t, StatusDown, m.Status(), "two failures are not enough")
	assert.False(t, m.KillSwitchActive())

	m.Probe(ctx)
	assert.Equal(t, StatusDown, m.Status())
	assert.True(t, m.KillSwitchActive())
}

func TestRecoveryClearsKillSwitchWhenNoDrift(t *testing.T) {
	ctx := context.Background()
	brk := &flakyBroker{healthy: false}
	rs := &stubResync{noDrift: true}
	m := newTestMonitor(brk, rs)

	for i := 0; i < 3; i++ {
		m.Probe(ctx)
	}
	require.Equal(t, StatusDown, m.Status())

	brk.set(true)
	brk.balance = 50_000
	m.Probe(ctx)
	assert.True(t, m.KillSwitchActive(), "one success is not enough")
	m.Probe(ctx)

	assert.Equal(t, StatusHealthy, m.Status())
	assert.False(t, m.KillSwitchActive())
	assert.GreaterOrEqual(t, rs.fullSyncs, 1, "recovery must resync orders")
	assert.GreaterOrEqual(t, rs.runs, 1, "recovery must resync positions")

	episodes := m.Episodes()
	require.Len(t, episodes, 1)
	assert.NotEmpty(t, episodes[0].ID)
	assert.False(t, episodes[0].End.IsZero())
}

func TestRecoveryKeepsKillSwitchOnDrift(t *testing.T) {
	ctx := context.Background()
	brk := &flakyBroker{healthy: false}
	m := newTestMonitor(brk, &stubResync{noDrift: false})

	for i := 0; i < 3; i++ {
		m.Probe(ctx)
	}
	brk.set(true)
	m.Probe(ctx)
	m.Probe(ctx)

	assert.Equal(t, StatusHealthy, m.Status())
	assert.True(t, m.KillSwitchActive(), "drift must keep safe mode on")
}

func TestSlowProbeMarksDegradedWithoutKillSwitch(t *testing.T) {
	ctx := context.Background()
	brk := &flakyBroker{healthy: true}
	m := NewMonitor(Config{
		DegradedLatency: time.Nanosecond,
	}, brk, positions.NewStore(), nil, nil, nil)

	m.Probe(ctx)
	assert.Equal(t, StatusDegraded, m.Status())
	assert.False(t, m.KillSwitchActive())
}

func TestDegradedReturnsToHealthyOnFastProbe(t *testing.T) {
	ctx := context.Background()
	brk := &flakyBroker{healthy: true}
	m := NewMonitor(Config{
		DegradedLatency: time.Hour,
	}, brk, positions.NewStore(), nil, nil, nil)
	m.setStatus(ctx, StatusDegraded)

	m.Probe(ctx)
	assert.Equal(t, StatusHealthy, m.Status())
}

func TestSingleFlightRecoveryGuard(t *testing.T) {
	m := newTestMonitor(&flakyBroker{}, &stubResync{})

	require.True(t, m.tryBeginRecovery("broker:reconnect"))
	assert.False(t, m.tryBeginRecovery("broker:reconnect"))
	m.endRecovery("broker:reconnect")
	assert.True(t, m.tryBeginRecovery("broker:reconnect"))
}

func TestDownEventsPublished(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	sub := bus.Subscribe(8, events.BrokerDown, events.SafeModeActivated)
	defer sub.Close()

	brk := &flakyBroker{healthy: false}
	m := NewMonitor(Config{
		FailureThreshold:      3,
		RecoveryThreshold:     2,
		ReconnectMaxAttempts:  1,
		ReconnectInitialDelay: time.Millisecond,
	}, brk, positions.NewStore(), nil, nil, bus)

	for i := 0; i < 3; i++ {
		m.Probe(ctx)
	}

	got := map[events.Category]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.C:
			got[ev.Category] = true
		case <-time.After(time.Second):
			t.Fatal("missing health events")
		}
	}
	assert.True(t, got[events.BrokerDown])
	assert.True(t, got[events.SafeModeActivated])
}
