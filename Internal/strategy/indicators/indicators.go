package indicators

import (
	"time"

	"github.com/fazecat/breakoutscan/Internal/types"
)

// Params selects the lookbacks for Compute.
type Params struct {
	ShortChannel int
	LongChannel  int
	VolumeWindow int
	ATRPeriod    int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
}

// DefaultParams mirrors the stock configuration.
func DefaultParams() Params {
	return Params{
		ShortChannel: 20,
		LongChannel:  55,
		VolumeWindow: 20,
		ATRPeriod:    14,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
	}
}

// Snapshot is the indicator set for one bar.
type Snapshot struct {
	Date       time.Time
	Close      float64
	Volume     float64
	ShortUpper Value
	LongUpper  Value
	Vol20      Value
	ATR        Value
	ATRPct     Value
	DIF        Value
	DEA        Value
	Hist       Value
}

// Compute derives a Snapshot for every bar, keyed by position.
func Compute(bars []types.Bar, p Params) []Snapshot {
	n := len(bars)
	highs := make([]float64, n)
	closes := make([]float64, n)
	vols := make([]float64, n)
	for i, b := range bars {
		highs[i] = b.High
		closes[i] = b.Close
		vols[i] = b.Volume
	}

	shortUpper := Channel(highs, p.ShortChannel)
	longUpper := Channel(highs, p.LongChannel)
	vol20 := SMA(vols, p.VolumeWindow)
	atr := ATR(bars, p.ATRPeriod)
	dif, dea, hist := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)

	out := make([]Snapshot, n)
	for i, b := range bars {
		out[i] = Snapshot{
			Date:       b.Date,
			Close:      b.Close,
			Volume:     b.Volume,
			ShortUpper: shortUpper[i],
			LongUpper:  longUpper[i],
			Vol20:      vol20[i],
			ATR:        atr[i],
			ATRPct:     atr[i].Div(Some(b.Close)),
			DIF:        Some(dif[i]),
			DEA:        Some(dea[i]),
			Hist:       Some(hist[i]),
		}
	}
	return out
}

// Last returns the two most recent snapshots, today and yesterday.
func Last(snaps []Snapshot) (today, yesterday Snapshot, ok bool) {
	if len(snaps) < 2 {
		return Snapshot{}, Snapshot{}, false
	}
	return snaps[len(snaps)-1], snaps[len(snaps)-2], true
}
