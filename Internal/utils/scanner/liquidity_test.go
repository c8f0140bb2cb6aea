package scanner

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fazecat/breakoutscan/Internal/types"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func flatBars(n int, close, volume float64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{Date: day0.AddDate(0, 0, i), Open: close, High: close, Low: close, Close: close, Volume: volume}
	}
	return bars
}

func TestADV20(t *testing.T) {
	bars := flatBars(30, 2, 50)
	bars[0].Close = 1000 // outside the window

	adv, ok := ADV20(bars, 25)
	require.True(t, ok)
	assert.True(t, adv.Equal(decimal.NewFromInt(100)), adv.String())

	_, ok = ADV20(flatBars(24, 2, 50), 25)
	assert.False(t, ok)
}

func TestADV20_DropsUnusableBars(t *testing.T) {
	bars := flatBars(26, 2, 50)
	bars[25].Volume = math.NaN()

	adv, ok := ADV20(bars, 25)
	require.True(t, ok)
	assert.True(t, adv.Equal(decimal.NewFromInt(100)))

	bars[24].Close = math.Inf(1)
	_, ok = ADV20(bars, 25)
	assert.False(t, ok, "only 24 usable bars remain")
}

type fakeBatch struct {
	bars   map[string][]types.Bar
	fail   string
	chunks [][]string
}

func (f *fakeBatch) DailyBarsBatch(ctx context.Context, symbols []string, _, _ time.Time) (map[string][]types.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.chunks = append(f.chunks, slices.Clone(symbols))
	if slices.Contains(symbols, f.fail) {
		return nil, errors.New("batch rejected")
	}
	out := make(map[string][]types.Bar)
	for _, s := range symbols {
		if b, ok := f.bars[s]; ok {
			out[s] = b
		}
	}
	return out, nil
}

func TestRankLiquidity(t *testing.T) {
	src := &fakeBatch{
		bars: map[string][]types.Bar{
			"AAA": flatBars(30, 10, 100),
			"BBB": flatBars(30, 10, 300),
			"CCC": flatBars(30, 20, 50),
			"DDD": flatBars(10, 99, 1e6),
			"FFF": flatBars(30, 1e3, 1e6),
		},
		fail: "FFF",
	}
	opts := LiquidityOptions{ChunkSize: 2, MinBars: 25, LookbackDays: 90}

	ranked, err := RankLiquidity(context.Background(), src, []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}, opts, day0)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"AAA", "BBB"}, {"CCC", "DDD"}, {"EEE", "FFF"}}, src.chunks)
	require.Len(t, ranked, 3)
	assert.Equal(t, "BBB", ranked[0].Symbol)
	// AAA and CCC both trade 1000 a day; the symbol breaks the tie.
	assert.Equal(t, "AAA", ranked[1].Symbol)
	assert.Equal(t, "CCC", ranked[2].Symbol)
}

func TestSelectLiquid_TopN(t *testing.T) {
	src := &fakeBatch{bars: map[string][]types.Bar{
		"AAA": flatBars(30, 10, 100),
		"BBB": flatBars(30, 10, 300),
		"CCC": flatBars(30, 10, 200),
	}}

	got, err := SelectLiquid(context.Background(), src, []string{"AAA", "BBB", "CCC"}, LiquidityOptions{TopN: 2, ChunkSize: 150, MinBars: 25}, day0)
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB", "CCC"}, got)
}

func TestSelectLiquid_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SelectLiquid(ctx, &fakeBatch{}, []string{"AAA"}, LiquidityOptions{ChunkSize: 1}, day0)
	assert.ErrorIs(t, err, context.Canceled)
}
