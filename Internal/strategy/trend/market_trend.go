// Package trend computes the macro regime flag shared by every symbol in a
// market.
package trend

import (
	"github.com/fazecat/breakoutscan/Internal/strategy/indicators"
	"github.com/fazecat/breakoutscan/Internal/types"
)

const (
	fastWindow = 20
	slowWindow = 60
)

// MarketTrendOK is true when the benchmark's last close sits above its
// 20-day average and that average sits above the 60-day one. Fewer than
// minBars bars yields false.
func MarketTrendOK(bars []types.Bar, minBars int) bool {
	if len(bars) < minBars || len(bars) < slowWindow {
		return false
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	last := len(closes) - 1
	sma20 := indicators.SMA(closes, fastWindow)[last]
	sma60 := indicators.SMA(closes, slowWindow)[last]

	return indicators.Some(closes[last]).Gt(sma20) && sma20.Gt(sma60)
}
