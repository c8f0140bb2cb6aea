package metrics

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
)

// Grid lists the values swept for each parameter.
type Grid struct {
	Shorts            []int
	Longs             []int
	VolumeMultipliers []float64
	ATRPctMins        []float64
}

func GridFromConfig(b config.Backtest) Grid {
	return Grid{
		Shorts:            b.ShortChannels,
		Longs:             b.LongChannels,
		VolumeMultipliers: b.VolumeMultipliers,
		ATRPctMins:        b.ATRPctMins,
	}
}

func SettingsFromConfig(b config.Backtest) Settings {
	return Settings{MinBars: b.MinBars, Horizon: b.HorizonDays}
}

// Combinations expands the grid in nesting order short, long, vol, atr and
// drops every point whose short channel is not shorter than the long one.
func (g Grid) Combinations() []Params {
	var out []Params
	for _, s := range g.Shorts {
		for _, l := range g.Longs {
			for _, v := range g.VolumeMultipliers {
				for _, a := range g.ATRPctMins {
					p := Params{Short: s, Long: l, VolumeMultiplier: v, ATRPctMin: a}
					if p.Valid() {
						out = append(out, p)
					}
				}
			}
		}
	}
	return out
}

// Row is one line of the parameter scan table.
type Row struct {
	Params
	Outcome
}

// RunGrid evaluates every valid combination against the same histories.
// Histories are read-only and shared by all workers. The result is ranked.
func RunGrid(ctx context.Context, histories map[string][]types.Bar, grid Grid, s Settings, workers int) ([]Row, error) {
	combos := grid.Combinations()
	rows := make([]Row, len(combos))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, p := range combos {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = Row{Params: p, Outcome: EvaluateHistories(histories, p, s)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	Rank(rows)
	return rows, nil
}

// Rank orders rows by average forward return, then win rate, then trade
// count, all descending. The parameters break any remaining tie.
// Rows with very few trades are not demoted.
func Rank(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.AvgForwardReturn != b.AvgForwardReturn {
			return a.AvgForwardReturn > b.AvgForwardReturn
		}
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		if a.Trades != b.Trades {
			return a.Trades > b.Trades
		}
		return lessParams(a.Params, b.Params)
	})
}

func lessParams(a, b Params) bool {
	if a.Short != b.Short {
		return a.Short < b.Short
	}
	if a.Long != b.Long {
		return a.Long < b.Long
	}
	if a.VolumeMultiplier != b.VolumeMultiplier {
		return a.VolumeMultiplier < b.VolumeMultiplier
	}
	return a.ATRPctMin < b.ATRPctMin
}
