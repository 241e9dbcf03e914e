package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trading-bot/internal/broker/resilient"
	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/health"
	"intraday-trading-bot/internal/interfaces"
	"intraday-trading-bot/internal/orders"
	"intraday-trading-bot/internal/positions"
	"intraday-trading-bot/internal/reconcile"
	"intraday-trading-bot/internal/resilience/idempotency"
	"intraday-trading-bot/internal/types"
)

type stubBroker struct{}

var _ interfaces.Broker = stubBroker{}

func (stubBroker) Connect(ctx context.Context) error { return nil }
func (stubBroker) Disconnect(ctx context.Context)    {}
func (stubBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	return types.OrderResp{}, errors.New("not implemented")
}
func (stubBroker) CancelOrder(ctx context.Context, orderID string) error   { return nil }
func (stubBroker) Orders(ctx context.Context) ([]types.Order, error)       { return nil, nil }
func (stubBroker) Positions(ctx context.Context) ([]types.Position, error) { return nil, nil }
func (stubBroker) AccountBalance(ctx context.Context) (float64, error)     { return 100_000, nil }
func (stubBroker) LTP(ctx context.Context, symbol string) (float64, error) { return 100, nil }

type fixture struct {
	srv     *Server
	monitor *health.Monitor
	reg     *orders.Registry
	pos     *positions.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := events.NewBus()
	reg := orders.NewRegistry(orders.Config{}, bus)
	pos := positions.NewStore()
	brk := resilient.New(resilient.Config{}, stubBroker{}, reg,
		idempotency.NewGuard(idempotency.Config{}), nil, bus)
	posRC := reconcile.NewPositionReconciler(reconcile.PositionConfig{}, stubBroker{}, pos, bus)
	monitor := health.NewMonitor(health.Config{}, stubBroker{}, pos, nil, posRC, bus)

	return &fixture{
		srv:     NewServer(":0", monitor, reg, pos, posRC, brk, bus),
		monitor: monitor,
		reg:     reg,
		pos:     pos,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.srv.router().ServeHTTP(rec, req)
	return rec
}

func TestHealthzReportsOK(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(health.StatusHealthy), body["status"])
}

func TestStatusExposesBreakersAndCounts(t *testing.T) {
	f := newFixture(t)
	f.pos.Set(types.Position{Symbol: "RELIANCE", Qty: 10, AvgPrice: 100})

	rec := f.get(t, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "health")
	assert.Contains(t, body, "breakers")
	assert.Equal(t, float64(1), body["open_positions"])
	assert.Equal(t, float64(0), body["open_orders"])
}

func TestOrderLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reg.Track(ctx, types.Order{ID: "O1", Symbol: "TCS", Side: types.SideBuy, Qty: 5})

	rec := f.get(t, "/orders/O1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	rec = f.get(t, "/orders/MISSING")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenOrdersFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reg.Track(ctx, types.Order{ID: "O1", Symbol: "TCS", Side: types.SideBuy, Qty: 5})
	require.True(t, f.reg.Transition(ctx, "O1", types.StatusPending, "queued"))

	rec := f.get(t, "/orders?open=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 1)
}

func TestPositionsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.pos.Set(types.Position{Symbol: "INFY", Qty: 3, AvgPrice: 1500})

	rec := f.get(t, "/positions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []types.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "INFY", body[0].Symbol)
}

func TestMismatchesEndpointEmpty(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/mismatches")
	assert.Equal(t, http.StatusOK, rec.Code)
}
