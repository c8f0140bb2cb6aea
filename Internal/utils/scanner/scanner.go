package scanner

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fazecat/breakoutscan/Internal/strategy/metrics"
)

// ParamScan is the outcome of a full grid run.
type ParamScan struct {
	Symbols []string
	Rows    []metrics.Row
	Failed  []metrics.SymbolError
	// Skipped lists symbols with no history or fewer than MinBars bars.
	Skipped []string
}

func (s *Screener) historyWindow() (time.Time, time.Time) {
	now := s.now()
	return now.AddDate(-s.cfg.Backtest.HistoryYears, 0, 0), now
}

// splitNoData separates empty provider replies from real failures.
func (s *Screener) splitNoData(errs []metrics.SymbolError) (failed []metrics.SymbolError, empty []string) {
	for _, e := range errs {
		if s.noData(e.Err) {
			empty = append(empty, e.Symbol)
			continue
		}
		log.Warn().Err(e.Err).Str("symbol", e.Symbol).Msg("backtest history unavailable")
		failed = append(failed, e)
	}
	return failed, empty
}

// RunParamScan loads the backtest basket once and sweeps the grid over it.
func (s *Screener) RunParamScan(ctx context.Context) (*ParamScan, error) {
	started := time.Now()
	b := s.cfg.Backtest
	start, end := s.historyWindow()

	histories, errs, err := metrics.LoadHistories(ctx, s.bars, b.Symbols, start, end, s.cfg.Runtime.Workers)
	if err != nil {
		return nil, err
	}
	failed, empty := s.splitNoData(errs)
	noData := make(map[string]bool, len(empty))
	for _, symbol := range empty {
		noData[symbol] = true
	}

	settings := metrics.SettingsFromConfig(b)
	scan := &ParamScan{Symbols: b.Symbols, Failed: failed}
	for _, symbol := range b.Symbols {
		bars, ok := histories[symbol]
		if noData[symbol] || (ok && len(bars) < settings.MinBars) {
			scan.Skipped = append(scan.Skipped, symbol)
		}
	}

	grid := metrics.GridFromConfig(b)
	rows, err := metrics.RunGrid(ctx, histories, grid, settings, s.cfg.Runtime.Workers)
	if err != nil {
		return nil, err
	}
	scan.Rows = rows

	s.metrics.AddCombinations(len(rows))
	s.metrics.ObserveRun("backtest", time.Since(started))
	log.Info().
		Int("symbols", len(histories)).
		Int("failed", len(failed)).
		Int("skipped", len(scan.Skipped)).
		Int("combinations", len(rows)).
		Dur("took", time.Since(started)).
		Msg("parameter scan finished")
	return scan, nil
}

// SingleRun is one parameter set evaluated over the basket.
type SingleRun struct {
	Params    metrics.Params
	Outcome   metrics.Outcome
	PerSymbol []metrics.SymbolStats
	Failed    []metrics.SymbolError
	// NoData lists symbols the provider had no bars for.
	NoData []string
}

// RunSingle evaluates one parameter set. With perSymbol the result also
// carries a per-symbol breakdown.
func (s *Screener) RunSingle(ctx context.Context, p metrics.Params, perSymbol bool) (*SingleRun, error) {
	b := s.cfg.Backtest
	settings := metrics.SettingsFromConfig(b)
	start, end := s.historyWindow()
	run := &SingleRun{Params: p}

	if !perSymbol {
		out, errs, err := metrics.EvaluateUniverse(ctx, s.bars, b.Symbols, p, settings, start, end)
		if err != nil {
			return nil, err
		}
		run.Outcome = out
		run.Failed, run.NoData = s.splitNoData(errs)
		return run, nil
	}

	histories, errs, err := metrics.LoadHistories(ctx, s.bars, b.Symbols, start, end, s.cfg.Runtime.Workers)
	if err != nil {
		return nil, err
	}
	run.Failed, run.NoData = s.splitNoData(errs)
	run.Outcome = metrics.EvaluateHistories(histories, p, settings)
	run.PerSymbol = metrics.CalculateSymbolStats(histories, p, settings)
	return run, nil
}
