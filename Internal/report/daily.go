// Package report renders screener and backtest results to markdown, CSV
// and Parquet files.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/formatting"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
)

const (
	dailyDir    = "daily"
	backtestDir = "backtest"
	dateLayout  = "2006-01-02"
)

// DailyOptions control the daily report's header and notes.
type DailyOptions struct {
	ReportTime string
	ScoreMax   int
	DataSource string
}

// EnsureDirs creates <base>/daily and <base>/backtest.
func EnsureDirs(base string) (daily, backtest string, err error) {
	daily = filepath.Join(base, dailyDir)
	backtest = filepath.Join(base, backtestDir)
	for _, dir := range []string{daily, backtest} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return daily, backtest, nil
}

// TierLine renders one candidate, e.g.
// "- AAPL | score: 85/100 | 1=✅ 2=✅ 3=❌ ...".
func TierLine(r types.RuleResult, scoreMax int) string {
	return fmt.Sprintf("- %s | score: %d/%d | %s", r.Symbol, r.Score, scoreMax, formatting.RuleBadges(r.Rules))
}

// DiagnosticsLine renders the funnel counts for one market.
func DiagnosticsLine(rep scoring.Report) string {
	d := rep.Diagnostics
	fields := []struct {
		k string
		v any
	}{
		{"mkt_ok", d.MarketTrendOK},
		{"liquid_selected", d.LiquidSelected},
		{"fetched_ok", d.FetchedOK},
		{"insufficient_history", d.InsufficientHistory},
		{"failed", d.Failed},
		{"evaluated", d.Evaluated},
		{"pass_r1", d.PassRule[0]},
		{"pass_r2", d.PassRule[1]},
		{"pass_r1r2", d.PassR1R2},
		{"pass_eligible", d.PassEligible},
		{"a_pool", d.APool},
		{"b_pool", d.BPool},
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s=%v", f.k, f.v)
	}
	return fmt.Sprintf("- %s: %s", marketLabel(rep.Market), strings.Join(parts, " | "))
}

func marketLabel(market string) string {
	return strings.ToUpper(market)
}

// RenderDaily writes the markdown report for all markets of one run.
func RenderDaily(w io.Writer, date time.Time, reports []scoring.Report, opts DailyOptions) error {
	scoreMax := opts.ScoreMax
	if scoreMax <= 0 {
		scoreMax = 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Breakout report %s %s\n", date.Format(dateLayout), opts.ReportTime)

	for _, rep := range reports {
		label := marketLabel(rep.Market)
		sections := []struct {
			title   string
			records []types.RuleResult
			empty   string
		}{
			{
				fmt.Sprintf("%s A-tier (breakout + volume + all strict rules)", label),
				rep.A,
				fmt.Sprintf("- No %s symbols met the A-tier conditions today", label),
			},
			{
				fmt.Sprintf("%s B-tier (breakout + volume, ranked by score)", label),
				rep.B,
				fmt.Sprintf("- No %s symbols met the B-tier conditions today", label),
			},
		}
		for _, s := range sections {
			fmt.Fprintf(&b, "\n## %s\n", s.title)
			if len(s.records) == 0 {
				b.WriteString(s.empty + "\n")
				continue
			}
			for _, r := range s.records {
				b.WriteString(TierLine(r, scoreMax) + "\n")
			}
		}
	}

	b.WriteString("\n## Diagnostics\n")
	for _, rep := range reports {
		b.WriteString(DiagnosticsLine(rep) + "\n")
	}

	b.WriteString("\n## Notes\n")
	if opts.DataSource != "" {
		fmt.Fprintf(&b, "- Data source: %s\n", opts.DataSource)
	}
	b.WriteString("- Signals use the previous session's close\n")
	liquidity := make([]string, 0, len(reports))
	for _, rep := range reports {
		liquidity = append(liquidity, fmt.Sprintf("%s Top%d (available %d)",
			marketLabel(rep.Market), rep.LiquidityTopN, rep.Diagnostics.LiquidSelected))
	}
	if len(liquidity) > 0 {
		fmt.Fprintf(&b, "- Liquidity prefilter by 20-day average traded value (ADV20): %s\n", strings.Join(liquidity, ", "))
	}
	fmt.Fprintf(&b, "- Scores are the weighted sum of the 8 rules, out of %d\n", scoreMax)

	_, err := io.WriteString(w, b.String())
	return err
}

var tierHeader = append([]string{"symbol", "date", "score", "eligible"}, types.RuleNames[:]...)

// WriteTierCSV writes one tier with a header row.
func WriteTierCSV(w io.Writer, records []types.RuleResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tierHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Symbol,
			r.Date.Format(dateLayout),
			strconv.Itoa(r.Score),
			strconv.FormatBool(r.Eligible),
		}
		for _, passed := range r.All() {
			row = append(row, strconv.FormatBool(passed))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDaily writes <base>/daily/<date>.md and a CSV per non-empty tier.
// It returns every path written, the markdown first.
func WriteDaily(base string, date time.Time, reports []scoring.Report, opts DailyOptions) ([]string, error) {
	dir, _, err := EnsureDirs(base)
	if err != nil {
		return nil, err
	}
	day := date.Format(dateLayout)

	var md bytes.Buffer
	if err := RenderDaily(&md, date, reports, opts); err != nil {
		return nil, err
	}
	mdPath := filepath.Join(dir, day+".md")
	if err := os.WriteFile(mdPath, md.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	paths := []string{mdPath}

	for _, rep := range reports {
		for _, tier := range []struct {
			suffix  string
			records []types.RuleResult
		}{{"a", rep.A}, {"b", rep.B}} {
			if len(tier.records) == 0 {
				continue
			}
			var buf bytes.Buffer
			if err := WriteTierCSV(&buf, tier.records); err != nil {
				return paths, err
			}
			path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.csv", day, rep.Market, tier.suffix))
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				return paths, fmt.Errorf("write tier csv: %w", err)
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}
