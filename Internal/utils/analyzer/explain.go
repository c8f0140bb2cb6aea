package analyzer

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fazecat/breakoutscan/Internal/strategy/indicators"
	"github.com/fazecat/breakoutscan/Internal/strategy/signals"
	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
	"github.com/fazecat/breakoutscan/Internal/utils/formatting"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
)

var ErrInsufficientHistory = errors.New("insufficient history")

// Reading is one bar's indicator values. Undefined readings are nil.
type Reading struct {
	Date       time.Time `json:"date"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	ShortUpper *float64  `json:"short_upper"`
	LongUpper  *float64  `json:"long_upper"`
	Vol20      *float64  `json:"vol20"`
	ATR        *float64  `json:"atr"`
	ATRPct     *float64  `json:"atr_pct"`
	DIF        *float64  `json:"dif"`
	DEA        *float64  `json:"dea"`
	Hist       *float64  `json:"hist"`
}

func ptr(v indicators.Value) *float64 {
	if !v.OK {
		return nil
	}
	x := v.V
	return &x
}

func readingFrom(s indicators.Snapshot) Reading {
	return Reading{
		Date:       s.Date,
		Close:      s.Close,
		Volume:     s.Volume,
		ShortUpper: ptr(s.ShortUpper),
		LongUpper:  ptr(s.LongUpper),
		Vol20:      ptr(s.Vol20),
		ATR:        ptr(s.ATR),
		ATRPct:     ptr(s.ATRPct),
		DIF:        ptr(s.DIF),
		DEA:        ptr(s.DEA),
		Hist:       ptr(s.Hist),
	}
}

type RuleCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Weight int    `json:"weight"`
}

// Explanation shows why a symbol scored what it did on its latest bar.
type Explanation struct {
	Symbol        string      `json:"symbol"`
	Bars          int         `json:"bars"`
	MarketTrendOK bool        `json:"mkt_ok"`
	Today         Reading     `json:"today"`
	Yesterday     Reading     `json:"yesterday"`
	Rules         []RuleCheck `json:"rules"`
	Score         int         `json:"score"`
	ScoreMax      int         `json:"score_max"`
	Eligible      bool        `json:"eligible"`
	ATier         bool        `json:"a_tier"`
	BTier         bool        `json:"b_tier"`
}

// Explain evaluates symbol the same way a market run does and keeps the
// intermediate readings.
func Explain(symbol string, bars []types.Bar, marketTrendOK bool, cfg *config.Config) (*Explanation, error) {
	bars = types.CleanBars(bars)
	r, ok := signals.Evaluate(symbol, bars, marketTrendOK, &cfg.Strategy, cfg.Scoring)
	if !ok {
		return nil, fmt.Errorf("%s has %d bars, need %d: %w", symbol, len(bars), cfg.Strategy.MinHistoryDays, ErrInsufficientHistory)
	}

	snaps := indicators.Compute(bars, cfg.Strategy.IndicatorParams())
	today, yesterday, _ := indicators.Last(snaps)

	flags := r.All()
	weights := cfg.Scoring.All()
	checks := make([]RuleCheck, len(flags))
	for i := range flags {
		checks[i] = RuleCheck{Name: types.RuleNames[i], Passed: flags[i], Weight: weights[i]}
	}

	return &Explanation{
		Symbol:        symbol,
		Bars:          len(bars),
		MarketTrendOK: marketTrendOK,
		Today:         readingFrom(today),
		Yesterday:     readingFrom(yesterday),
		Rules:         checks,
		Score:         r.Score,
		ScoreMax:      cfg.Scoring.Total(),
		Eligible:      r.Eligible,
		ATier:         scoring.InATier(r),
		BTier:         scoring.InBTier(r),
	}, nil
}

func show(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return formatting.Decimal(*v, 4)
}

// Render prints the explanation as plain text.
func (e *Explanation) Render(w io.Writer) error {
	fmt.Fprintf(w, "%s  %s  bars=%d  mkt_ok=%t\n", e.Symbol, e.Today.Date.Format("2006-01-02"), e.Bars, e.MarketTrendOK)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tyesterday\ttoday\t")
	for _, row := range []struct {
		name string
		y, t *float64
	}{
		{"close", &e.Yesterday.Close, &e.Today.Close},
		{"volume", &e.Yesterday.Volume, &e.Today.Volume},
		{"short_upper", e.Yesterday.ShortUpper, e.Today.ShortUpper},
		{"long_upper", e.Yesterday.LongUpper, e.Today.LongUpper},
		{"vol20", e.Yesterday.Vol20, e.Today.Vol20},
		{"atr_pct", e.Yesterday.ATRPct, e.Today.ATRPct},
		{"dif", e.Yesterday.DIF, e.Today.DIF},
		{"dea", e.Yesterday.DEA, e.Today.DEA},
	} {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", row.name, show(row.y), show(row.t))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, formatting.Separator(40))
	for _, c := range e.Rules {
		fmt.Fprintf(w, "%s %-30s %3d\n", formatting.Badge(c.Passed), formatting.RuleLabel(c.Name, true), c.Weight)
	}
	fmt.Fprintln(w, formatting.Separator(40))
	pct := 0
	if e.ScoreMax > 0 {
		pct = e.Score * 100 / e.ScoreMax
	}
	_, err := fmt.Fprintf(w, "score %d/%d %s  eligible=%t  a_tier=%t  b_tier=%t\n", e.Score, e.ScoreMax, scoring.ScoreCategory(pct), e.Eligible, e.ATier, e.BTier)
	return err
}
