package signals

import (
	"github.com/fazecat/breakoutscan/Internal/strategy/indicators"
	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
)

// Evaluate runs the rule battery on the latest bar of a symbol's series.
// The second return is false when the series is shorter than
// MinHistoryDays; nothing is computed in that case.
func Evaluate(symbol string, bars []types.Bar, marketTrendOK bool, cfg *config.Strategy, weights config.Weights) (types.RuleResult, bool) {
	if len(bars) < cfg.MinHistoryDays || len(bars) < 2 {
		return types.RuleResult{}, false
	}

	snaps := indicators.Compute(bars, cfg.IndicatorParams())
	t, y, _ := indicators.Last(snaps)
	rules := CheckRules(t, y, marketTrendOK, cfg)

	return types.RuleResult{
		Symbol:   symbol,
		Date:     t.Date,
		Score:    scoring.ScoreRules(rules, weights),
		Eligible: rules.Guards(),
		Rules:    rules,
	}, true
}

// CheckRules evaluates the eight rules on today's and yesterday's snapshots.
func CheckRules(t, y indicators.Snapshot, marketTrendOK bool, cfg *config.Strategy) types.Rules {
	k := cfg.VolumeRatioThreshold
	tClose, yClose := indicators.Some(t.Close), indicators.Some(y.Close)
	tVol, yVol := indicators.Some(t.Volume), indicators.Some(y.Volume)

	macdCross := y.DIF.Le(y.DEA) && t.DIF.Gt(t.DEA)
	macdAboveZero := t.DIF.Gt(indicators.Some(0)) && t.DEA.Gt(indicators.Some(0))
	bearCross := y.DIF.Ge(y.DEA) && t.DIF.Lt(t.DEA)

	return types.Rules{
		Breakout:              t.ShortUpper.Gt(t.LongUpper),
		Volume:                tVol.Gt(t.Vol20.Scale(k)) || yVol.Gt(y.Vol20.Scale(k)),
		HoldAbove:             tClose.Gt(t.LongUpper) && yClose.Gt(y.LongUpper),
		MACD:                  macdCross || macdAboveZero,
		ATRFilter:             t.ATRPct.Ge(indicators.Some(cfg.ATRPctMin)),
		TrendFilter:           marketTrendOK,
		NotFallBack:           tClose.Ge(t.ShortUpper),
		NotBearCrossShrinking: !(bearCross && tVol.Lt(t.Vol20)),
	}
}
