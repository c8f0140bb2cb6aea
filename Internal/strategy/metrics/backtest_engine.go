package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fazecat/breakoutscan/Internal/strategy/indicators"
	"github.com/fazecat/breakoutscan/Internal/types"
)

const (
	volumeWindow = 20
	atrPeriod    = 14
)

// Params is one point of the parameter grid.
type Params struct {
	Short            int     `json:"short"`
	Long             int     `json:"long"`
	VolumeMultiplier float64 `json:"vol"`
	ATRPctMin        float64 `json:"atr_min"`
}

// Valid reports whether the short channel is strictly shorter than the long one.
func (p Params) Valid() bool {
	return p.Short > 0 && p.Short < p.Long
}

func (p Params) String() string {
	return fmt.Sprintf("short=%d long=%d vol=%.2f atr_min=%.4f", p.Short, p.Long, p.VolumeMultiplier, p.ATRPctMin)
}

// Settings are the sampling rules shared by every grid point.
type Settings struct {
	MinBars int
	Horizon int
}

func DefaultSettings() Settings {
	return Settings{MinBars: 300, Horizon: 10}
}

// Frame holds the per-bar series the entry signal reads.
type Frame struct {
	Close      []float64
	Volume     []float64
	ShortUpper []indicators.Value
	LongUpper  []indicators.Value
	Vol20      []indicators.Value
	ATRPct     []indicators.Value
}

func (f Frame) Len() int { return len(f.Close) }

// BuildFrame computes the channels, volume average and ATR% for p.
func BuildFrame(bars []types.Bar, p Params) Frame {
	n := len(bars)
	f := Frame{
		Close:  make([]float64, n),
		Volume: make([]float64, n),
		ATRPct: make([]indicators.Value, n),
	}
	highs := make([]float64, n)
	for i, b := range bars {
		f.Close[i] = b.Close
		f.Volume[i] = b.Volume
		highs[i] = b.High
	}
	f.ShortUpper = indicators.Channel(highs, p.Short)
	f.LongUpper = indicators.Channel(highs, p.Long)
	f.Vol20 = indicators.SMA(f.Volume, volumeWindow)
	for i, atr := range indicators.ATR(bars, atrPeriod) {
		f.ATRPct[i] = atr.Div(indicators.Some(f.Close[i]))
	}
	return f
}

// Entries flags bars where the short channel crosses above the long one,
// volume confirms on this bar or the last, price holds above the long
// channel for two closes, and ATR% clears the floor. An undefined previous
// bar is not a crossing.
func Entries(f Frame, p Params) []bool {
	out := make([]bool, f.Len())
	k := p.VolumeMultiplier
	floor := indicators.Some(p.ATRPctMin)

	for i := 1; i < f.Len(); i++ {
		cross := f.ShortUpper[i].Gt(f.LongUpper[i]) && f.ShortUpper[i-1].Le(f.LongUpper[i-1])
		if !cross {
			continue
		}
		volOK := indicators.Some(f.Volume[i]).Gt(f.Vol20[i].Scale(k)) ||
			indicators.Some(f.Volume[i-1]).Gt(f.Vol20[i-1].Scale(k))
		hold := indicators.Some(f.Close[i]).Gt(f.LongUpper[i]) &&
			indicators.Some(f.Close[i-1]).Gt(f.LongUpper[i-1])
		atrOK := f.ATRPct[i].Ge(floor)

		out[i] = volOK && hold && atrOK
	}
	return out
}

// ForwardReturns samples close[i+horizon]/close[i]-1 at every entry that
// has a bar horizon days later.
func ForwardReturns(closes []float64, entries []bool, horizon int) []float64 {
	var rets []float64
	for i, entry := range entries {
		if !entry || i+horizon >= len(closes) || closes[i] == 0 {
			continue
		}
		r := closes[i+horizon]/closes[i] - 1
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		rets = append(rets, r)
	}
	return rets
}

// SymbolReturns runs the signal over one history. The bool is false when
// the history is too short to be sampled.
func SymbolReturns(bars []types.Bar, p Params, s Settings) ([]float64, bool) {
	bars = types.CleanBars(bars)
	if len(bars) < s.MinBars {
		return nil, false
	}
	f := BuildFrame(bars, p)
	return ForwardReturns(f.Close, Entries(f, p), s.Horizon), true
}

// EvaluateHistories pools forward returns for p across every history.
func EvaluateHistories(histories map[string][]types.Bar, p Params, s Settings) Outcome {
	samples := make(map[string][]float64, len(histories))
	for symbol, bars := range histories {
		if rets, ok := SymbolReturns(bars, p, s); ok {
			samples[symbol] = rets
		}
	}
	return Aggregate(pool(samples))
}

// pool concatenates in symbol order so the float sums are reproducible.
func pool(samples map[string][]float64) []float64 {
	symbols := make([]string, 0, len(samples))
	for s := range samples {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var all []float64
	for _, s := range symbols {
		all = append(all, samples[s]...)
	}
	return all
}

// HistorySource is the daily bar feed the backtester pulls from.
type HistorySource interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error)
}

// SymbolError records a symbol whose history could not be loaded.
type SymbolError struct {
	Symbol string
	Err    error
}

func (e SymbolError) Error() string { return e.Symbol + ": " + e.Err.Error() }

func (e SymbolError) Unwrap() error { return e.Err }

// LoadHistories fetches every symbol once with at most workers requests in
// flight. Failed symbols are returned separately and never abort the rest;
// only context cancellation does.
func LoadHistories(ctx context.Context, src HistorySource, symbols []string, start, end time.Time, workers int) (map[string][]types.Bar, []SymbolError, error) {
	bars := make([][]types.Bar, len(symbols))
	errs := make([]error, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, symbol := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bars[i], errs[i] = src.DailyBars(gctx, symbol, start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	histories := make(map[string][]types.Bar, len(symbols))
	var failed []SymbolError
	for i, symbol := range symbols {
		if errs[i] != nil {
			failed = append(failed, SymbolError{Symbol: symbol, Err: errs[i]})
			continue
		}
		histories[symbol] = bars[i]
	}
	return histories, failed, nil
}

// EvaluateUniverse loads the basket and evaluates a single parameter set.
func EvaluateUniverse(ctx context.Context, src HistorySource, symbols []string, p Params, s Settings, start, end time.Time) (Outcome, []SymbolError, error) {
	histories, failed, err := LoadHistories(ctx, src, symbols, start, end, 0)
	if err != nil {
		return Outcome{}, nil, err
	}
	return EvaluateHistories(histories, p, s), failed, nil
}
