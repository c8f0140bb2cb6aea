package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fazecat/breakoutscan/Internal/types"
)

func TestAggregate(t *testing.T) {
	out := Aggregate([]float64{0.10, -0.05, 0.0, 0.03})

	assert.Equal(t, 4, out.Trades)
	assert.InDelta(t, 0.02, out.AvgForwardReturn, 1e-12)
	assert.InDelta(t, 0.5, out.WinRate, 1e-12, "a flat return is not a win")
}

func TestAggregate_Empty(t *testing.T) {
	assert.Equal(t, Outcome{}, Aggregate(nil))
	assert.Zero(t, CalculateWinRate(nil))
}

func TestCalculateSymbolStats(t *testing.T) {
	histories := map[string][]types.Bar{
		"MSFT": risingHistory(320),
		"AAPL": risingHistory(20),
	}

	stats := CalculateSymbolStats(histories, testParams, DefaultSettings())

	require.Len(t, stats, 2)
	assert.Equal(t, "AAPL", stats[0].Symbol)
	assert.True(t, stats[0].Skipped)
	assert.Equal(t, "MSFT", stats[1].Symbol)
	assert.False(t, stats[1].Skipped)
	assert.Zero(t, stats[1].Trades)
}
