package metrics

import (
	"sort"

	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils"
)

// Outcome summarises the forward returns sampled for one parameter set.
type Outcome struct {
	Trades           int     `json:"trades"`
	AvgForwardReturn float64 `json:"avg_ret_10d"`
	WinRate          float64 `json:"win_rate"`
}

// Aggregate reduces pooled forward returns. No samples gives the zero Outcome.
func Aggregate(returns []float64) Outcome {
	if len(returns) == 0 {
		return Outcome{}
	}
	return Outcome{
		Trades:           len(returns),
		AvgForwardReturn: utils.Average(returns),
		WinRate:          CalculateWinRate(returns),
	}
}

// CalculateWinRate is the fraction of returns strictly above zero.
func CalculateWinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

type SymbolStats struct {
	Symbol  string
	Skipped bool
	Wins    int
	Losses  int
	Outcome
}

// CalculateSymbolStats breaks one parameter set's result down per symbol.
// Histories too short to sample are kept and marked Skipped.
func CalculateSymbolStats(histories map[string][]types.Bar, p Params, s Settings) []SymbolStats {
	stats := make([]SymbolStats, 0, len(histories))
	for symbol, bars := range histories {
		rets, ok := SymbolReturns(bars, p, s)
		st := SymbolStats{Symbol: symbol, Skipped: !ok, Outcome: Aggregate(rets)}
		for _, r := range rets {
			if r > 0 {
				st.Wins++
			} else if r < 0 {
				st.Losses++
			}
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Symbol < stats[j].Symbol })
	return stats
}
