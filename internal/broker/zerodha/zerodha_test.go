package zerodha

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trading-bot/internal/types"
)

func newDryRun(t *testing.T) *Zerodha {
	t.Helper()
	z := NewZerodha(Params{Mode: "DRY_RUN"})
	z.sim.fillAfter = 10 * time.Millisecond
	return z
}

func findOrder(t *testing.T, z *Zerodha, id string) types.Order {
	t.Helper()
	os, err := z.Orders(context.Background())
	require.NoError(t, err)
	for _, o := range os {
		if o.ID == id {
			return o
		}
	}
	t.Fatalf("order %s not in book", id)
	return types.Order{}
}

func TestDryRunOrderFillsAfterDelay(t *testing.T) {
	ctx := context.Background()
	z := newDryRun(t)

	resp, err := z.PlaceOrder(ctx, types.OrderReq{
		Symbol: "RELIANCE", Side: types.SideBuy, Type: types.OrderTypeMarket, Qty: 10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.OrderID)

	o := findOrder(t, z, resp.OrderID)
	assert.Equal(t, types.StatusAcknowledged, o.Status)

	require.Eventually(t, func() bool {
		return findOrder(t, z, resp.OrderID).Status == types.StatusFilled
	}, time.Second, 5*time.Millisecond)

	o = findOrder(t, z, resp.OrderID)
	assert.Equal(t, 10, o.FilledQty)
	assert.Greater(t, o.AvgFillPrice, 0.0)

	ps, err := z.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "RELIANCE", ps[0].Symbol)
	assert.Equal(t, 10, ps[0].Qty)

	bal, err := z.AccountBalance(ctx)
	require.NoError(t, err)
	assert.Less(t, bal, 1_000_000.0, "a buy must consume cash")
}

func TestDryRunCancelBeforeFill(t *testing.T) {
	ctx := context.Background()
	z := newDryRun(t)
	z.sim.fillAfter = time.Hour

	resp, err := z.PlaceOrder(ctx, types.OrderReq{
		Symbol: "TCS", Side: types.SideBuy, Type: types.OrderTypeLimit, Qty: 5, Price: 3000,
	})
	require.NoError(t, err)

	require.NoError(t, z.CancelOrder(ctx, resp.OrderID))
	assert.Equal(t, types.StatusCancelled, findOrder(t, z, resp.OrderID).Status)

	// Cancelling a terminal order is a business error, not a crash.
	err = z.CancelOrder(ctx, resp.OrderID)
	require.Error(t, err)
	assert.Equal(t, types.KindBusiness, types.KindOf(err))
}

func TestDryRunCancelUnknownOrder(t *testing.T) {
	z := newDryRun(t)
	err := z.CancelOrder(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Equal(t, types.KindBusiness, types.KindOf(err))
}

func TestDryRunLimitFillsAtLimitPrice(t *testing.T) {
	ctx := context.Background()
	z := newDryRun(t)

	resp, err := z.PlaceOrder(ctx, types.OrderReq{
		Symbol: "INFY", Side: types.SideBuy, Type: types.OrderTypeLimit, Qty: 2, Price: 1500,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return findOrder(t, z, resp.OrderID).Status == types.StatusFilled
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1500.0, findOrder(t, z, resp.OrderID).AvgFillPrice)
}

func TestLiveCallsRequireConnection(t *testing.T) {
	ctx := context.Background()
	z := NewZerodha(Params{Mode: "LIVE"})

	_, err := z.PlaceOrder(ctx, types.OrderReq{Symbol: "RELIANCE", Qty: 1})
	require.Error(t, err)
	assert.Equal(t, types.KindNetwork, types.KindOf(err))

	_, err = z.Orders(ctx)
	require.Error(t, err)
	assert.Equal(t, types.KindNetwork, types.KindOf(err))
}

func TestConnectRejectsMissingCredentials(t *testing.T) {
	z := NewZerodha(Params{Mode: "LIVE"})
	err := z.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindAuth, types.KindOf(err))
}
