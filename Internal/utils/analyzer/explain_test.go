package analyzer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
)

func risingBars(n int) []types.Bar {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = types.Bar{Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1e6}
	}
	return bars
}

func TestExplain(t *testing.T) {
	cfg := config.Default()

	e, err := Explain("AAPL", risingBars(120), true, cfg)
	require.NoError(t, err)

	assert.Equal(t, 120, e.Bars)
	assert.Equal(t, 219.0, e.Today.Close)
	assert.Equal(t, 218.0, e.Yesterday.Close)
	require.NotNil(t, e.Today.LongUpper)
	// The channel excludes today: the highest high of the prior 55 bars.
	assert.Equal(t, 219.0, *e.Today.LongUpper)
	require.Len(t, e.Rules, types.NumRules)
	assert.Equal(t, "rule_1_breakout", e.Rules[0].Name)
	assert.False(t, e.Rules[0].Passed)
	assert.Equal(t, 20, e.Rules[0].Weight)
	assert.True(t, e.Rules[5].Passed)
	assert.Equal(t, 100, e.ScoreMax)
	assert.False(t, e.BTier)
}

func TestExplain_InsufficientHistory(t *testing.T) {
	_, err := Explain("AAPL", risingBars(10), true, config.Default())
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestExplanation_Render(t *testing.T) {
	e, err := Explain("AAPL", risingBars(120), false, config.Default())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, e.Render(&buf))

	out := buf.String()
	assert.Contains(t, out, "AAPL  2024-04-30  bars=120  mkt_ok=false")
	assert.Contains(t, out, "1 breakout")
	assert.Contains(t, out, "6 trend_filter")
	assert.Contains(t, out, "score ")
}
