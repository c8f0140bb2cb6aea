package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/fazecat/breakoutscan/Internal/types"
)

// DisplayConfiguration writes a human-readable summary of cfg.
func DisplayConfiguration(w io.Writer, cfg *Config) {
	s := cfg.Strategy
	fmt.Fprintln(w, "📋 Current Configuration:")
	fmt.Fprintln(w, "\n=== Strategy ===")
	fmt.Fprintf(w, "  • Channels: short %d / long %d\n", s.ShortChannel, s.LongChannel)
	fmt.Fprintf(w, "  • Volume: %.2fx %d-bar average\n", s.VolumeRatioThreshold, s.VolumeWindow)
	fmt.Fprintf(w, "  • ATR: period %d, min %.2f%% of close\n", s.ATRPeriod, s.ATRPctMin*100)
	fmt.Fprintf(w, "  • MACD: %d/%d/%d\n", s.MACDFast, s.MACDSlow, s.MACDSignal)
	fmt.Fprintf(w, "  • Min history: %d bars\n", s.MinHistoryDays)

	fmt.Fprintln(w, "\n=== Scoring ===")
	weights := cfg.Scoring.All()
	for i, name := range types.RuleNames {
		fmt.Fprintf(w, "  • %-30s %3d\n", name, weights[i])
	}
	total := cfg.Scoring.Total()
	fmt.Fprintf(w, "  Total: %d\n", total)
	if total != 100 {
		fmt.Fprintf(w, "⚠️  Note: weights sum to %d, scores are not percentages\n", total)
	}

	fmt.Fprintln(w, "\n=== Markets ===")
	for _, name := range cfg.EnabledMarkets() {
		m := cfg.Markets[name]
		fmt.Fprintf(w, "%s: benchmark %s, top %d, liquidity top %d, universe %s (max %d)\n",
			strings.ToUpper(name), m.Benchmark, m.TopN, m.LiquidityTopN, m.Universe, m.MaxSymbols)
	}

	b := cfg.Backtest
	fmt.Fprintln(w, "\n=== Backtest ===")
	fmt.Fprintf(w, "Basket: %s\n", strings.Join(b.Symbols, ", "))
	fmt.Fprintf(w, "Grid: short %v, long %v, vol %v, atr %v\n", b.ShortChannels, b.LongChannels, b.VolumeMultipliers, b.ATRPctMins)
	fmt.Fprintf(w, "Forward horizon: %d bars, min history %d bars, %d years\n", b.HorizonDays, b.MinBars, b.HistoryYears)
}
