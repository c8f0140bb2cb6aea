package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fazecat/breakoutscan/Internal/types"
)

func barsFromHighs(highs []float64) []types.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, len(highs))
	for i, h := range highs {
		bars[i] = types.Bar{Date: start.AddDate(0, 0, i), Open: h - 1, High: h, Low: h - 2, Close: h - 1, Volume: 1000}
	}
	return bars
}

func TestChannel_ExcludesCurrentBar(t *testing.T) {
	highs := make([]float64, 30)
	for i := range highs {
		highs[i] = 10
	}
	highs[20] = 1000

	ch := Channel(highs, 5)

	assert.False(t, ch[4].OK, "needs window previous bars")
	require.True(t, ch[5].OK)
	assert.Equal(t, 10.0, ch[5].V)
	assert.Equal(t, 10.0, ch[20].V, "outlier must not appear in its own channel")
	for i := 21; i <= 25; i++ {
		assert.Equal(t, 1000.0, ch[i].V, "bar %d", i)
	}
	assert.Equal(t, 10.0, ch[26].V, "outlier leaves the window")
}

func TestRollingMax_MatchesNaiveWindow(t *testing.T) {
	xs := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5, 8, 9, 7, 9, 3, 2, 3, 8, 4}
	const w = 4
	rm := NewRollingMax(w)
	for i, x := range xs {
		got := rm.Push(x)
		if i < w-1 {
			assert.False(t, got.OK)
			continue
		}
		want := xs[i-w+1]
		for _, v := range xs[i-w+1 : i+1] {
			want = math.Max(want, v)
		}
		require.True(t, got.OK)
		assert.Equal(t, want, got.V, "index %d", i)
	}
}

func TestRollingMean_NullPropagation(t *testing.T) {
	xs := []float64{1, 2, math.NaN(), 4, 5, 6, 7}
	got := SMA(xs, 3)

	assert.False(t, got[1].OK)
	assert.False(t, got[2].OK)
	assert.False(t, got[3].OK)
	assert.False(t, got[4].OK, "NaN still inside window")
	require.True(t, got[5].OK)
	assert.InDelta(t, 5.0, got[5].V, 1e-12)
	assert.InDelta(t, 6.0, got[6].V, 1e-12)
}

func TestTrueRangeAndATR(t *testing.T) {
	bars := []types.Bar{
		{High: 10, Low: 8, Close: 9},
		{High: 12, Low: 9, Close: 11},  // max(3, 3, 0) = 3
		{High: 11, Low: 10, Close: 10}, // max(1, 0, 1) = 1
		{High: 15, Low: 12, Close: 14}, // max(3, 5, 2) = 5
	}

	assert.Equal(t, []float64{2, 3, 1, 5}, TrueRange(bars))

	atr := ATR(bars, 2)
	assert.False(t, atr[0].OK)
	assert.InDelta(t, 2.5, atr[1].V, 1e-12)
	assert.InDelta(t, 2.0, atr[2].V, 1e-12)
	assert.InDelta(t, 3.0, atr[3].V, 1e-12)
}

func TestEMA_SeededFromFirstValue(t *testing.T) {
	got := EMA([]float64{10, 20, 30}, 3) // alpha = 0.5

	assert.Equal(t, 10.0, got[0])
	assert.InDelta(t, 15.0, got[1], 1e-12)
	assert.InDelta(t, 22.5, got[2], 1e-12)
}

func TestMACD_FlatSeriesIsZero(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 42
	}
	dif, dea, hist := MACD(closes, 12, 26, 9)
	for i := range closes {
		assert.InDelta(t, 0, dif[i], 1e-12)
		assert.InDelta(t, 0, dea[i], 1e-12)
		assert.InDelta(t, 0, hist[i], 1e-12)
	}
}

func TestCompute_WarmupIsUndefined(t *testing.T) {
	highs := make([]float64, 70)
	for i := range highs {
		highs[i] = 100 + float64(i)
	}
	p := DefaultParams()
	snaps := Compute(barsFromHighs(highs), p)

	require.Len(t, snaps, 70)
	assert.False(t, snaps[p.LongChannel-1].LongUpper.OK)
	assert.True(t, snaps[p.LongChannel].LongUpper.OK)
	assert.Equal(t, highs[p.LongChannel-1], snaps[p.LongChannel].LongUpper.V)
	assert.False(t, snaps[p.ATRPeriod-2].ATR.OK)
	assert.True(t, snaps[p.ATRPeriod-1].ATRPct.OK)
	assert.True(t, snaps[0].DIF.OK, "EMA readings exist from the first bar")

	today, yesterday, ok := Last(snaps)
	require.True(t, ok)
	assert.Equal(t, snaps[69].Date, today.Date)
	assert.Equal(t, snaps[68].Date, yesterday.Date)
}

func TestValue_ComparisonsWithUndefinedAreFalse(t *testing.T) {
	one := Some(1)
	assert.False(t, None.Gt(one))
	assert.False(t, one.Gt(None))
	assert.False(t, None.Le(None))
	assert.False(t, Some(math.NaN()).OK)
	assert.False(t, one.Div(Some(0)).OK)
	assert.True(t, Some(2).Ge(one))
	assert.Equal(t, Some(3), one.Scale(3))
}
