package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/fazecat/breakoutscan/Internal/report"
	"github.com/fazecat/breakoutscan/Internal/strategy/metrics"
	"github.com/fazecat/breakoutscan/Internal/utils/analyzer"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
)

// HandleDaily scans the given markets, or every enabled one, writes the
// daily report and stores each market when a store is configured.
func HandleDaily(ctx context.Context, env *Env, markets []string) ([]string, error) {
	s := env.Screener()

	var reports []scoring.Report
	var err error
	if len(markets) == 0 {
		reports, err = s.RunDaily(ctx)
	} else {
		reports, err = s.RunMarkets(ctx, markets)
	}
	if err != nil {
		return nil, err
	}

	paths, err := report.WriteDaily(env.Cfg.Reports.Dir, env.now(), reports, report.DailyOptions{
		ReportTime: env.Cfg.ReportTime,
		ScoreMax:   env.Cfg.Scoring.Total(),
		DataSource: env.DataSource,
	})
	if err != nil {
		return nil, err
	}

	if env.Store != nil {
		for _, rep := range reports {
			id, err := env.Store.SaveMarketReport(ctx, rep)
			if err != nil {
				return paths, fmt.Errorf("persist %s run: %w", rep.Market, err)
			}
			log.Info().Str("market", rep.Market).Str("run_id", id.String()).Msg("market run stored")
		}
	}

	for _, p := range paths {
		fmt.Fprintln(env.Out, p)
	}
	return paths, nil
}

type ValidateOptions struct {
	// Single evaluates one parameter set instead of the grid.
	Single    *metrics.Params
	PerSymbol bool
	// Limit caps the printed table; files always hold every row.
	Limit int
}

// HandleValidateParams runs the parameter backtest and writes its tables.
func HandleValidateParams(ctx context.Context, env *Env, opts ValidateOptions) error {
	if opts.Single != nil {
		if !opts.Single.Valid() {
			return fmt.Errorf("%w: short channel %d must be below long channel %d", config.ErrInvalid, opts.Single.Short, opts.Single.Long)
		}
		run, err := env.Screener().RunSingle(ctx, *opts.Single, opts.PerSymbol)
		if err != nil {
			return err
		}
		if len(run.NoData) > 0 {
			log.Info().Strs("symbols", run.NoData).Msg("no history, left out of backtest")
		}
		return report.RenderSingle(env.Out, run.Params, run.Outcome, run.PerSymbol)
	}

	scan, err := env.Screener().RunParamScan(ctx)
	if err != nil {
		return err
	}

	lowSample := env.Cfg.Backtest.LowSampleWarning
	csvPath, parquetPath, err := report.WriteParamScan(env.Cfg.Reports.Dir, scan.Rows, lowSample)
	if err != nil {
		return err
	}
	if err := report.RenderParamScan(env.Out, scan.Rows, lowSample, opts.Limit); err != nil {
		return err
	}
	fmt.Fprintln(env.Out, csvPath)
	fmt.Fprintln(env.Out, parquetPath)

	if env.Store != nil {
		id, err := env.Store.SaveParamScan(ctx, scan.Symbols, scan.Rows)
		if err != nil {
			return fmt.Errorf("persist param scan: %w", err)
		}
		log.Info().Str("scan_id", id.String()).Msg("param scan stored")
	}
	return nil
}

// HandleExplain prints how symbol scores today, with the named market's
// benchmark deciding the trend rule.
func HandleExplain(ctx context.Context, env *Env, symbol, market string) error {
	m, err := env.Cfg.Market(market)
	if err != nil {
		return err
	}
	s := env.Screener()
	trendOK := s.MarketTrend(ctx, m.Benchmark)

	end := env.now()
	bars, err := env.Bars.DailyBars(ctx, symbol, end.AddDate(0, -env.Cfg.Runtime.HistoryMonths, 0), end)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", symbol, err)
	}
	e, err := analyzer.Explain(symbol, bars, trendOK, env.Cfg)
	if err != nil {
		return err
	}
	return e.Render(env.Out)
}

// HandleConfigShow prints the effective configuration, as YAML when asked.
func HandleConfigShow(env *Env, asYAML bool) error {
	if !asYAML {
		config.DisplayConfiguration(env.Out, env.Cfg)
		return nil
	}
	enc := yaml.NewEncoder(env.Out)
	enc.SetIndent(2)
	if err := enc.Encode(env.Cfg); err != nil {
		return err
	}
	return enc.Close()
}
