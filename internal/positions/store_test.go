package positions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trading-bot/internal/types"
)

func TestApplyFillAveragesBuys(t *testing.T) {
	s := NewStore()
	s.ApplyFill("RELIANCE", types.SideBuy, 10, 100)
	s.ApplyFill("RELIANCE", types.SideBuy, 10, 110)

	p, ok := s.Get("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, 20, p.Qty)
	assert.InDelta(t, 105, p.AvgPrice, 1e-9)
}

func TestSellReducesAndCloses(t *testing.T) {
	s := NewStore()
	s.ApplyFill("TCS", types.SideBuy, 10, 100)
	s.ApplyFill("TCS", types.SideSell, 4, 105)

	p, ok := s.Get("TCS")
	require.True(t, ok)
	assert.Equal(t, 6, p.Qty)

	s.ApplyFill("TCS", types.SideSell, 6, 108)
	_, ok = s.Get("TCS")
	assert.False(t, ok, "a fully sold position must be removed")
}

func TestSetZeroQtyDeletes(t *testing.T) {
	s := NewStore()
	s.Set(types.Position{Symbol: "INFY", Qty: 5, AvgPrice: 1500})
	require.Equal(t, 1, s.Count())

	s.Set(types.Position{Symbol: "INFY", Qty: 0})
	assert.Equal(t, 0, s.Count())
}

func TestSetReplacesOutright(t *testing.T) {
	s := NewStore()
	s.Set(types.Position{Symbol: "INFY", Qty: 5, AvgPrice: 1500})
	s.Set(types.Position{Symbol: "INFY", Qty: 8, AvgPrice: 1520})

	p, _ := s.Get("INFY")
	assert.Equal(t, 8, p.Qty)
	assert.Equal(t, 1520.0, p.AvgPrice)
}
