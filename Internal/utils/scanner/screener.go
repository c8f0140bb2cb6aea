package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fazecat/breakoutscan/Internal/strategy/signals"
	"github.com/fazecat/breakoutscan/Internal/strategy/trend"
	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
	"github.com/fazecat/breakoutscan/Internal/utils/telemetry"
)

// BarSource fetches one symbol's daily bars, oldest first.
type BarSource interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error)
}

// ErrNoData marks a source reply with no bars. Sources may wrap their own
// sentinel; IsNoData accepts either.
var ErrNoData = errors.New("no data")

type OutcomeKind int

const (
	OutcomeEvaluated OutcomeKind = iota
	OutcomeInsufficient
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeEvaluated:
		return "evaluated"
	case OutcomeInsufficient:
		return "insufficient_history"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// SymbolOutcome is what happened to one symbol in a market run.
type SymbolOutcome struct {
	Symbol string
	Kind   OutcomeKind
	Bars   int
	Result types.RuleResult
	Err    error
}

// Screener runs the daily market scan.
type Screener struct {
	cfg     *config.Config
	bars    BarSource
	batch   BatchBarSource
	assets  AssetLister
	metrics *telemetry.Metrics
	noData  func(error) bool
	now     func() time.Time
}

type Option func(*Screener)

// WithClock fixes the run time.
func WithClock(now func() time.Time) Option {
	return func(s *Screener) { s.now = now }
}

// WithNoData tells the screener how to recognise an empty reply from bars.
func WithNoData(isNoData func(error) bool) Option {
	return func(s *Screener) { s.noData = isNoData }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Screener) { s.metrics = m }
}

func NewScreener(cfg *config.Config, bars BarSource, batch BatchBarSource, assets AssetLister, opts ...Option) *Screener {
	s := &Screener{
		cfg:    cfg,
		bars:   bars,
		batch:  batch,
		assets: assets,
		noData: func(err error) bool { return errors.Is(err, ErrNoData) },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze evaluates one fetched series.
func Analyze(symbol string, bars []types.Bar, marketTrendOK bool, cfg *config.Config) SymbolOutcome {
	bars = types.CleanBars(bars)
	out := SymbolOutcome{Symbol: symbol, Bars: len(bars)}
	r, ok := signals.Evaluate(symbol, bars, marketTrendOK, &cfg.Strategy, cfg.Scoring)
	if !ok {
		out.Kind = OutcomeInsufficient
		return out
	}
	out.Kind = OutcomeEvaluated
	out.Result = r
	return out
}

// EvaluateSymbols fetches and evaluates symbols concurrently. Per-symbol
// fetch errors become OutcomeFailed; an empty reply counts as
// insufficient history. Outcomes keep the input order.
func (s *Screener) EvaluateSymbols(ctx context.Context, symbols []string, marketTrendOK bool) ([]SymbolOutcome, error) {
	end := s.now()
	start := end.AddDate(0, -s.cfg.Runtime.HistoryMonths, 0)
	outcomes := make([]SymbolOutcome, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Runtime.Workers, 1))
	for i, symbol := range symbols {
		g.Go(func() error {
			bars, err := s.bars.DailyBars(gctx, symbol, start, end)
			switch {
			case err == nil:
				outcomes[i] = Analyze(symbol, bars, marketTrendOK, s.cfg)
			case gctx.Err() != nil:
				return gctx.Err()
			case s.noData(err):
				outcomes[i] = SymbolOutcome{Symbol: symbol, Kind: OutcomeInsufficient}
			default:
				outcomes[i] = SymbolOutcome{Symbol: symbol, Kind: OutcomeFailed, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// MarketTrend reads the benchmark and applies the close > SMA20 > SMA60
// filter. A failed benchmark fetch is logged and treated as a down trend.
func (s *Screener) MarketTrend(ctx context.Context, benchmark string) bool {
	end := s.now()
	bars, err := s.bars.DailyBars(ctx, benchmark, end.AddDate(0, -s.cfg.Runtime.HistoryMonths, 0), end)
	if err != nil {
		log.Warn().Err(err).Str("benchmark", benchmark).Msg("benchmark fetch failed, market trend off")
		return false
	}
	return trend.MarketTrendOK(types.CleanBars(bars), s.cfg.Runtime.TrendMinBars)
}

// RunMarket scans one configured market end to end.
func (s *Screener) RunMarket(ctx context.Context, name string) (scoring.Report, error) {
	started := time.Now()
	m, err := s.cfg.Market(name)
	if err != nil {
		return scoring.Report{}, err
	}
	logger := log.With().Str("market", name).Logger()

	trendOK := s.MarketTrend(ctx, m.Benchmark)
	s.metrics.SetMarketTrend(name, trendOK)

	universe, err := Universe(ctx, s.assets, m)
	if err != nil {
		return scoring.Report{}, fmt.Errorf("market %s: %w", name, err)
	}
	liquid, err := SelectLiquid(ctx, s.batch, universe, LiquidityOptions{
		TopN:         m.LiquidityTopN,
		ChunkSize:    s.cfg.Runtime.LiquidityChunkSize,
		MinBars:      s.cfg.Runtime.LiquidityMinBars,
		LookbackDays: s.cfg.Runtime.LiquidityLookbackDay,
	}, s.now())
	if err != nil {
		return scoring.Report{}, fmt.Errorf("market %s: liquidity: %w", name, err)
	}
	logger.Info().Bool("mkt_ok", trendOK).Int("universe", len(universe)).Int("liquid", len(liquid)).Msg("universe selected")

	outcomes, err := s.EvaluateSymbols(ctx, liquid, trendOK)
	if err != nil {
		return scoring.Report{}, fmt.Errorf("market %s: %w", name, err)
	}

	records := make(map[string]types.RuleResult, len(outcomes))
	var fetched, insufficient, failed int
	for _, o := range outcomes {
		s.metrics.RecordOutcome(name, o.Kind.String())
		if o.Bars > 0 {
			fetched++
		}
		switch o.Kind {
		case OutcomeEvaluated:
			records[o.Symbol] = o.Result
		case OutcomeInsufficient:
			insufficient++
		case OutcomeFailed:
			failed++
			logger.Warn().Err(o.Err).Str("symbol", o.Symbol).Msg("fetch failed")
		}
	}

	tiers := scoring.SelectTiers(records, m.TopN)
	d := &tiers.Diagnostics
	d.MarketTrendOK = trendOK
	d.LiquidSelected = len(liquid)
	d.FetchedOK = fetched
	d.InsufficientHistory = insufficient
	d.Failed = failed

	y, mo, day := s.now().Date()
	rep := scoring.Report{
		Market:        name,
		Date:          time.Date(y, mo, day, 0, 0, 0, 0, time.UTC),
		LiquidityTopN: m.LiquidityTopN,
		Tiers:         tiers,
	}

	s.metrics.SetTiers(name, len(rep.A), len(rep.B))
	s.metrics.ObserveRun("daily", time.Since(started))
	logger.Info().
		Int("evaluated", d.Evaluated).
		Int("insufficient", insufficient).
		Int("failed", failed).
		Int("a", len(rep.A)).
		Int("b", len(rep.B)).
		Dur("took", time.Since(started)).
		Msg("market scanned")
	return rep, nil
}

// RunDaily scans every enabled market.
func (s *Screener) RunDaily(ctx context.Context) ([]scoring.Report, error) {
	return s.RunMarkets(ctx, s.cfg.EnabledMarkets())
}

// RunMarkets scans the named markets in order. A market that fails is logged
// and left out; the error is returned only when no market succeeded. A
// config error or a cancelled context aborts the whole run.
func (s *Screener) RunMarkets(ctx context.Context, names []string) ([]scoring.Report, error) {
	var reports []scoring.Report
	var errs []error
	for _, name := range names {
		rep, err := s.RunMarket(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, config.ErrInvalid) {
				return nil, err
			}
			log.Error().Err(err).Str("market", name).Msg("market scan failed")
			errs = append(errs, err)
			continue
		}
		reports = append(reports, rep)
	}
	if len(reports) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reports, nil
}
