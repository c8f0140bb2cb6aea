package types

import (
	"math"
	"time"
)

// Bar is one trading day for one symbol. Series are ordered oldest first.
type Bar struct {
	Date   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// Usable reports whether all five price/volume fields are present.
func (b Bar) Usable() bool {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// CleanBars drops bars with a missing field, keeping the original order.
func CleanBars(bars []Bar) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Usable() {
			out = append(out, b)
		}
	}
	return out
}

// NumRules is the size of the rule battery.
const NumRules = 8

// RuleNames are the canonical column names, index i is rule i+1.
var RuleNames = [NumRules]string{
	"rule_1_breakout",
	"rule_2_volume",
	"rule_3_hold_above",
	"rule_4_macd",
	"rule_5_atr_filter",
	"rule_6_trend_filter",
	"rule_7_not_fall_back",
	"rule_8_not_bear_cross_shrink",
}

// Rules holds the outcome of each rule for one evaluation.
type Rules struct {
	Breakout              bool `json:"rule_1_breakout"`
	Volume                bool `json:"rule_2_volume"`
	HoldAbove             bool `json:"rule_3_hold_above"`
	MACD                  bool `json:"rule_4_macd"`
	ATRFilter             bool `json:"rule_5_atr_filter"`
	TrendFilter           bool `json:"rule_6_trend_filter"`
	NotFallBack           bool `json:"rule_7_not_fall_back"`
	NotBearCrossShrinking bool `json:"rule_8_not_bear_cross_shrink"`
}

// All returns the rules in battery order.
func (r Rules) All() [NumRules]bool {
	return [NumRules]bool{
		r.Breakout,
		r.Volume,
		r.HoldAbove,
		r.MACD,
		r.ATRFilter,
		r.TrendFilter,
		r.NotFallBack,
		r.NotBearCrossShrinking,
	}
}

// RulesFrom rebuilds Rules from battery order. Missing trailing entries
// are false.
func RulesFrom(flags []bool) Rules {
	var f [NumRules]bool
	copy(f[:], flags)
	return Rules{
		Breakout:              f[0],
		Volume:                f[1],
		HoldAbove:             f[2],
		MACD:                  f[3],
		ATRFilter:             f[4],
		TrendFilter:           f[5],
		NotFallBack:           f[6],
		NotBearCrossShrinking: f[7],
	}
}

// Guards is the eligibility gate: the volatility, trend and exit-guard rules.
func (r Rules) Guards() bool {
	return r.ATRFilter && r.TrendFilter && r.NotFallBack && r.NotBearCrossShrinking
}

// RuleResult is the evaluation of one symbol on its latest bar.
type RuleResult struct {
	Symbol   string    `json:"symbol"`
	Date     time.Time `json:"date"`
	Score    int       `json:"score"`
	Eligible bool      `json:"eligible"`
	Rules
}
