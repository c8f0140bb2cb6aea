package datafeed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/telemetry"
)

type countingSource struct {
	bars  []types.Bar
	err   error
	calls int
}

func (c *countingSource) DailyBars(context.Context, string, time.Time, time.Time) ([]types.Bar, error) {
	c.calls++
	return c.bars, c.err
}

var (
	cacheStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	cacheEnd   = time.Date(2024, 6, 28, 15, 30, 0, 0, time.UTC)
	cachedBars = []types.Bar{
		{Date: time.Date(2024, 6, 27, 0, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	}
)

func TestBarsCacheKey(t *testing.T) {
	assert.Equal(t, "breakoutscan:bars:AAPL:2023-01-01:2024-06-28", BarsCacheKey("AAPL", cacheStart, cacheEnd))
}

func TestCachedBars_Hit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	payload, err := json.Marshal(cachedBars)
	require.NoError(t, err)
	mock.ExpectGet(BarsCacheKey("AAPL", cacheStart, cacheEnd)).SetVal(string(payload))

	src := &countingSource{}
	m := telemetry.New()
	c := NewCachedBars(src, db, time.Hour, m)

	got, err := c.DailyBars(context.Background(), "AAPL", cacheStart, cacheEnd)
	require.NoError(t, err)

	assert.Equal(t, cachedBars, got)
	assert.Zero(t, src.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedBars_MissFillsCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := BarsCacheKey("AAPL", cacheStart, cacheEnd)
	payload, err := json.Marshal(cachedBars)
	require.NoError(t, err)
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, payload, time.Hour).SetVal("OK")

	src := &countingSource{bars: cachedBars}
	m := telemetry.New()
	c := NewCachedBars(src, db, time.Hour, m)

	got, err := c.DailyBars(context.Background(), "AAPL", cacheStart, cacheEnd)
	require.NoError(t, err)

	assert.Equal(t, cachedBars, got)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedBars_SourceErrorIsNotCached(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet(BarsCacheKey("TSLA", cacheStart, cacheEnd)).RedisNil()

	src := &countingSource{err: ErrNoData}
	c := NewCachedBars(src, db, time.Hour, nil)

	_, err := c.DailyBars(context.Background(), "TSLA", cacheStart, cacheEnd)
	assert.ErrorIs(t, err, ErrNoData)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedBars_RedisDownFallsThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := BarsCacheKey("MSFT", cacheStart, cacheEnd)
	mock.ExpectGet(key).SetErr(errors.New("dial tcp: connection refused"))
	mock.ExpectSet(key, mustJSON(t, cachedBars), time.Hour).SetErr(errors.New("dial tcp: connection refused"))

	src := &countingSource{bars: cachedBars}
	c := NewCachedBars(src, db, time.Hour, nil)

	got, err := c.DailyBars(context.Background(), "MSFT", cacheStart, cacheEnd)
	require.NoError(t, err)
	assert.Equal(t, cachedBars, got)
	assert.Equal(t, 1, src.calls)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
