package scoring

import (
	"sort"
	"time"

	"github.com/fazecat/breakoutscan/Internal/types"
)

// Diagnostics explains how a market's candidates were narrowed down.
// SelectTiers fills the rule counts; the market runner fills the
// fetch-side counts.
type Diagnostics struct {
	MarketTrendOK       bool                `json:"mkt_ok"`
	LiquidSelected      int                 `json:"liquid_selected"`
	FetchedOK           int                 `json:"fetched_ok"`
	InsufficientHistory int                 `json:"insufficient_history"`
	Failed              int                 `json:"failed"`
	Evaluated           int                 `json:"evaluated"`
	PassRule            [types.NumRules]int `json:"pass_rule"`
	PassR1R2            int                 `json:"pass_r1r2"`
	PassEligible        int                 `json:"pass_eligible"`
	APool               int                 `json:"a_pool"`
	BPool               int                 `json:"b_pool"`
}

// Tiers are the ranked candidate lists for one market.
type Tiers struct {
	A           []types.RuleResult `json:"a_tier"`
	B           []types.RuleResult `json:"b_tier"`
	Diagnostics Diagnostics        `json:"diagnostics"`
}

// Report is one market's run: tiers plus the liquidity prefilter settings.
type Report struct {
	Market        string    `json:"market"`
	Date          time.Time `json:"date"`
	LiquidityTopN int       `json:"liquidity_top_n"`
	Tiers
}

// InATier is the strict conjunction: all guards plus rules 1-4.
func InATier(r types.RuleResult) bool {
	return r.Eligible && r.Breakout && r.Volume && r.HoldAbove && r.MACD
}

// InBTier needs only the primary trigger and volume confirmation.
func InBTier(r types.RuleResult) bool {
	return r.Breakout && r.Volume
}

// SelectTiers partitions one market's records into A and B tiers, each
// ranked by score desc then symbol asc and cut to topN.
func SelectTiers(records map[string]types.RuleResult, topN int) Tiers {
	var tiers Tiers
	d := &tiers.Diagnostics
	aPool := make([]types.RuleResult, 0)
	bPool := make([]types.RuleResult, 0)

	for symbol, r := range records {
		if r.Symbol == "" {
			r.Symbol = symbol
		}
		d.Evaluated++
		for i, passed := range r.All() {
			if passed {
				d.PassRule[i]++
			}
		}
		if r.Eligible {
			d.PassEligible++
		}
		if InBTier(r) {
			d.PassR1R2++
			bPool = append(bPool, r)
		}
		if InATier(r) {
			aPool = append(aPool, r)
		}
	}

	d.APool = len(aPool)
	d.BPool = len(bPool)
	tiers.A = Rank(aPool, topN)
	tiers.B = Rank(bPool, topN)
	return tiers
}

// Rank sorts by score desc, symbol asc, and keeps the first topN.
func Rank(pool []types.RuleResult, topN int) []types.RuleResult {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Score != pool[j].Score {
			return pool[i].Score > pool[j].Score
		}
		return pool[i].Symbol < pool[j].Symbol
	})
	if topN < 0 {
		topN = 0
	}
	if len(pool) > topN {
		pool = pool[:topN]
	}
	return pool
}
