package indicators

import (
	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils"
)

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|). The first
// bar has no previous close and falls back to high-low.
func TrueRange(bars []types.Bar) []float64 {
	tr := make([]float64, len(bars))
	for i, b := range bars {
		if i == 0 {
			tr[i] = b.High - b.Low
			continue
		}
		prevClose := bars[i-1].Close
		tr[i] = utils.Max(b.High-b.Low, utils.Abs(b.High-prevClose), utils.Abs(b.Low-prevClose))
	}
	return tr
}

// ATR is the simple rolling mean of true range over period bars.
func ATR(bars []types.Bar, period int) []Value {
	return SMA(TrueRange(bars), period)
}
