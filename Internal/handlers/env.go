package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	datafeed "github.com/fazecat/breakoutscan/Internal/database"
	"github.com/fazecat/breakoutscan/Internal/strategy/metrics"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
	"github.com/fazecat/breakoutscan/Internal/utils/scanner"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
	"github.com/fazecat/breakoutscan/Internal/utils/telemetry"
)

// ResultStore persists finished runs.
type ResultStore interface {
	SaveMarketReport(ctx context.Context, rep scoring.Report) (uuid.UUID, error)
	SaveParamScan(ctx context.Context, symbols []string, rows []metrics.Row) (uuid.UUID, error)
}

// Env is everything a command needs. Store is nil unless results are
// persisted.
type Env struct {
	Cfg     *config.Config
	Metrics *telemetry.Metrics
	Bars    scanner.BarSource
	Batch   scanner.BatchBarSource
	Assets  scanner.AssetLister
	Store   ResultStore
	Out     io.Writer
	Now     func() time.Time

	DataSource string

	closers []func() error
}

type EnvOptions struct {
	Persist bool
	Out     io.Writer
}

// NewEnv connects to Alpaca, Redis when REDIS_ADDR is set, and Postgres
// when persisting.
func NewEnv(ctx context.Context, cfg *config.Config, m *telemetry.Metrics, opts EnvOptions) (*Env, error) {
	provider, err := datafeed.NewAlpacaProvider(datafeed.AlpacaConfigFromEnv(), m)
	if err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	env := &Env{
		Cfg:        cfg,
		Metrics:    m,
		Bars:       provider,
		Batch:      provider,
		Assets:     provider,
		Out:        out,
		Now:        time.Now,
		DataSource: "Alpaca market data (split-adjusted daily bars)",
	}

	if rdb := datafeed.NewRedisClientFromEnv(); rdb != nil {
		ttl := time.Duration(cfg.Runtime.CacheTTLMinutes) * time.Minute
		env.Bars = datafeed.NewCachedBars(provider, rdb, ttl, m)
		env.closers = append(env.closers, rdb.Close)
		log.Info().Str("addr", rdb.Options().Addr).Dur("ttl", ttl).Msg("bar cache enabled")
	}

	if opts.Persist {
		db, err := OpenStore(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Store = datafeed.NewStore(db)
		env.closers = append(env.closers, db.Close)
	}
	return env, nil
}

// OpenStore connects to Postgres and applies the schema.
func OpenStore(ctx context.Context) (*sqlx.DB, error) {
	db, err := datafeed.OpenDatabase(ctx, datafeed.DatabaseConfigFromEnv())
	if err != nil {
		return nil, err
	}
	if err := datafeed.InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

func (e *Env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Screener builds the market scanner over the env's sources.
func (e *Env) Screener() *scanner.Screener {
	return scanner.NewScreener(e.Cfg, e.Bars, e.Batch, e.Assets,
		scanner.WithClock(e.now),
		scanner.WithMetrics(e.Metrics),
		scanner.WithNoData(IsNoData),
	)
}

// IsNoData matches an empty reply from either the provider or the scanner.
func IsNoData(err error) bool {
	return errors.Is(err, datafeed.ErrNoData) || errors.Is(err, scanner.ErrNoData)
}
