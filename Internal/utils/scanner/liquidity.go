package scanner

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fazecat/breakoutscan/Internal/types"
)

const advWindow = 20

// BatchBarSource fetches daily bars for many symbols per request.
type BatchBarSource interface {
	DailyBarsBatch(ctx context.Context, symbols []string, start, end time.Time) (map[string][]types.Bar, error)
}

// LiquidityOptions bound the average-dollar-volume prefilter.
type LiquidityOptions struct {
	TopN         int
	ChunkSize    int
	MinBars      int
	LookbackDays int
}

// Liquidity is a symbol's 20-day average dollar volume.
type Liquidity struct {
	Symbol string
	ADV    decimal.Decimal
}

// ADV20 averages close*volume over the last 20 bars. Series shorter than
// minBars, or shorter than the window, have no value.
func ADV20(bars []types.Bar, minBars int) (decimal.Decimal, bool) {
	bars = types.CleanBars(bars)
	if len(bars) < minBars || len(bars) < advWindow {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, b := range bars[len(bars)-advWindow:] {
		sum = sum.Add(decimal.NewFromFloat(b.Close).Mul(decimal.NewFromFloat(b.Volume)))
	}
	return sum.Div(decimal.NewFromInt(advWindow)), true
}

// RankLiquidity fetches recent bars chunk by chunk and returns symbols by
// ADV20 desc, ties by symbol. A failed chunk is logged and skipped; only
// cancellation aborts.
func RankLiquidity(ctx context.Context, src BatchBarSource, symbols []string, opts LiquidityOptions, now time.Time) ([]Liquidity, error) {
	chunk := opts.ChunkSize
	if chunk < 1 {
		chunk = len(symbols)
	}
	start := now.AddDate(0, 0, -opts.LookbackDays)

	ranked := make([]Liquidity, 0, len(symbols))
	for lo := 0; lo < len(symbols); lo += chunk {
		hi := min(lo+chunk, len(symbols))
		batch, err := src.DailyBarsBatch(ctx, symbols[lo:hi], start, now)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			log.Warn().Err(err).Int("from", lo).Int("to", hi).Msg("liquidity chunk failed")
			continue
		}
		for _, symbol := range symbols[lo:hi] {
			if adv, ok := ADV20(batch[symbol], opts.MinBars); ok {
				ranked = append(ranked, Liquidity{Symbol: symbol, ADV: adv})
			}
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].ADV.Cmp(ranked[j].ADV); c != 0 {
			return c > 0
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	return ranked, nil
}

// SelectLiquid keeps the TopN most liquid symbols. TopN <= 0 keeps all.
func SelectLiquid(ctx context.Context, src BatchBarSource, symbols []string, opts LiquidityOptions, now time.Time) ([]string, error) {
	ranked, err := RankLiquidity(ctx, src, symbols, opts, now)
	if err != nil {
		return nil, err
	}
	if opts.TopN > 0 && len(ranked) > opts.TopN {
		ranked = ranked[:opts.TopN]
	}
	out := make([]string, len(ranked))
	for i, l := range ranked {
		out[i] = l.Symbol
	}
	return out, nil
}
