package handlers

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	datafeed "github.com/fazecat/breakoutscan/Internal/database"
	"github.com/fazecat/breakoutscan/Internal/strategy/metrics"
	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func risingBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = types.Bar{Date: day0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1e6}
	}
	return bars
}

type fakeFeed struct {
	bars      map[string][]types.Bar
	assetsErr error
}

func (f *fakeFeed) DailyBars(_ context.Context, symbol string, _, _ time.Time) ([]types.Bar, error) {
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, datafeed.ErrNoData
	}
	return bars, nil
}

func (f *fakeFeed) DailyBarsBatch(_ context.Context, symbols []string, _, _ time.Time) (map[string][]types.Bar, error) {
	out := make(map[string][]types.Bar)
	for _, s := range symbols {
		if b, ok := f.bars[s]; ok {
			out[s] = b
		}
	}
	return out, nil
}

func (f *fakeFeed) TradableSymbols(context.Context) ([]string, error) {
	if f.assetsErr != nil {
		return nil, f.assetsErr
	}
	return []string{"AAPL", "MSFT"}, nil
}

type fakeStore struct {
	reports []scoring.Report
	scans   [][]metrics.Row
	err     error
}

func (f *fakeStore) SaveMarketReport(_ context.Context, rep scoring.Report) (uuid.UUID, error) {
	f.reports = append(f.reports, rep)
	return uuid.New(), f.err
}

func (f *fakeStore) SaveParamScan(_ context.Context, _ []string, rows []metrics.Row) (uuid.UUID, error) {
	f.scans = append(f.scans, rows)
	return uuid.New(), f.err
}

func testEnv(t *testing.T) (*Env, *fakeStore, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Reports.Dir = t.TempDir()
	cfg.Markets = map[string]config.Market{
		"us": {Enabled: true, Benchmark: "SPY", TopN: 5, LiquidityTopN: 10, Universe: config.UniverseAlpaca},
	}
	cfg.Backtest.Symbols = []string{"AAPL", "MSFT"}

	feed := &fakeFeed{bars: map[string][]types.Bar{
		"SPY":  risingBars(120),
		"AAPL": risingBars(400),
		"MSFT": risingBars(90),
	}}
	store := &fakeStore{}
	out := &bytes.Buffer{}
	env := &Env{
		Cfg:    cfg,
		Bars:   feed,
		Batch:  feed,
		Assets: feed,
		Store:  store,
		Out:    out,
		Now:    func() time.Time { return time.Date(2024, 6, 3, 22, 0, 0, 0, time.UTC) },
	}
	return env, store, out
}

func TestHandleDaily(t *testing.T) {
	env, store, out := testEnv(t)

	paths, err := HandleDaily(context.Background(), env, nil)
	require.NoError(t, err)

	want := filepath.Join(env.Cfg.Reports.Dir, "daily", "2024-06-03.md")
	assert.Equal(t, []string{want}, paths)
	assert.Equal(t, want+"\n", out.String())

	md, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(md), "- US: mkt_ok=true | liquid_selected=2 | fetched_ok=2 | insufficient_history=0")

	require.Len(t, store.reports, 1)
	assert.Equal(t, 2, store.reports[0].Diagnostics.Evaluated)
}

func TestHandleDaily_UnknownMarket(t *testing.T) {
	env, _, _ := testEnv(t)

	_, err := HandleDaily(context.Background(), env, []string{"jp"})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestHandleDaily_OneNamedMarketFails(t *testing.T) {
	env, store, _ := testEnv(t)
	env.Assets.(*fakeFeed).assetsErr = errors.New("assets endpoint down")
	env.Cfg.Markets["hk"] = config.Market{Enabled: true, Benchmark: "SPY", TopN: 5, LiquidityTopN: 10, Universe: config.UniverseStatic, Symbols: []string{"AAPL"}}

	paths, err := HandleDaily(context.Background(), env, []string{"us", "hk"})
	require.NoError(t, err)
	require.Len(t, paths, 1)

	md, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(md), "- HK: mkt_ok=true")
	assert.NotContains(t, string(md), "- US: mkt_ok")

	require.Len(t, store.reports, 1)
	assert.Equal(t, "hk", store.reports[0].Market)
}

func TestHandleDaily_AllNamedMarketsFail(t *testing.T) {
	env, _, _ := testEnv(t)
	env.Assets.(*fakeFeed).assetsErr = errors.New("assets endpoint down")

	paths, err := HandleDaily(context.Background(), env, []string{"us"})
	assert.Error(t, err)
	assert.Empty(t, paths)
}

func TestHandleDaily_StoreFailure(t *testing.T) {
	env, store, _ := testEnv(t)
	store.err = errors.New("db down")

	paths, err := HandleDaily(context.Background(), env, []string{"us"})
	assert.Error(t, err)
	assert.Len(t, paths, 1, "the report is still on disk")
}

func TestHandleValidateParams_Grid(t *testing.T) {
	env, store, out := testEnv(t)

	require.NoError(t, HandleValidateParams(context.Background(), env, ValidateOptions{Limit: 3}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6, "header, three rows, two paths")
	assert.True(t, strings.HasPrefix(lines[0], "rank"))
	assert.True(t, strings.HasSuffix(lines[4], "param_scan.csv"))
	assert.True(t, strings.HasSuffix(lines[5], "param_scan.parquet"))

	require.Len(t, store.scans, 1)
	assert.Len(t, store.scans[0], 81)
}

func TestHandleValidateParams_Single(t *testing.T) {
	env, _, out := testEnv(t)
	p := metrics.Params{Short: 20, Long: 55, VolumeMultiplier: 1.5, ATRPctMin: 0.012}

	require.NoError(t, HandleValidateParams(context.Background(), env, ValidateOptions{Single: &p, PerSymbol: true}))
	assert.Contains(t, out.String(), "params short=20 long=55")
	assert.Contains(t, out.String(), "MSFT")

	bad := metrics.Params{Short: 55, Long: 20}
	err := HandleValidateParams(context.Background(), env, ValidateOptions{Single: &bad})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestHandleExplain(t *testing.T) {
	env, _, out := testEnv(t)

	require.NoError(t, HandleExplain(context.Background(), env, "AAPL", "us"))
	assert.Contains(t, out.String(), "AAPL")
	assert.Contains(t, out.String(), "mkt_ok=true")

	err := HandleExplain(context.Background(), env, "ZZZZ", "us")
	assert.ErrorIs(t, err, datafeed.ErrNoData)
}

func TestHandleConfigShow(t *testing.T) {
	env, _, out := testEnv(t)

	require.NoError(t, HandleConfigShow(env, true))
	assert.Contains(t, out.String(), "short_channel: 20")

	out.Reset()
	require.NoError(t, HandleConfigShow(env, false))
	assert.Contains(t, out.String(), "=== Strategy ===")
}

func TestIsNoData(t *testing.T) {
	assert.True(t, IsNoData(datafeed.ErrNoData))
	assert.False(t, IsNoData(errors.New("timeout")))
}
