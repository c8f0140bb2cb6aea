package datafeed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils"
	"github.com/fazecat/breakoutscan/Internal/utils/telemetry"
)

// ErrNoData is returned when the feed has no bars for a symbol in range.
var ErrNoData = errors.New("no data")

const sourceAlpaca = "alpaca"

// BarsClient is the subset of the Alpaca market data client used here.
type BarsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// AssetsClient lists the tradable asset universe.
type AssetsClient interface {
	GetAssets(req alpaca.GetAssetsRequest) ([]alpaca.Asset, error)
}

type AlpacaConfig struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	Feed              string
	RequestsPerSecond float64
	Retry             utils.RetryConfig
}

// AlpacaConfigFromEnv reads ALPACA_API_KEY, ALPACA_API_SECRET and the
// optional ALPACA_BASE_URL and ALPACA_FEED.
func AlpacaConfigFromEnv() AlpacaConfig {
	return AlpacaConfig{
		APIKey:            os.Getenv("ALPACA_API_KEY"),
		APISecret:         os.Getenv("ALPACA_API_SECRET"),
		BaseURL:           getEnvOrDefault("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		Feed:              getEnvOrDefault("ALPACA_FEED", string(marketdata.IEX)),
		RequestsPerSecond: 3,
		Retry:             utils.DefaultRetryConfig(),
	}
}

// AlpacaProvider serves daily bars and the asset list. Calls are rate
// limited, retried with backoff and guarded by a circuit breaker.
type AlpacaProvider struct {
	bars    BarsClient
	assets  AssetsClient
	feed    marketdata.Feed
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retry   utils.RetryConfig
	metrics *telemetry.Metrics
}

// NewAlpacaProvider builds real clients from cfg.
func NewAlpacaProvider(cfg AlpacaConfig, m *telemetry.Metrics) (*AlpacaProvider, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("ALPACA_API_KEY or ALPACA_API_SECRET not set")
	}
	bars := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})
	assets := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return NewAlpacaProviderWithClients(bars, assets, cfg, m), nil
}

func NewAlpacaProviderWithClients(bars BarsClient, assets AssetsClient, cfg AlpacaConfig, m *telemetry.Metrics) *AlpacaProvider {
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	var feed marketdata.Feed = marketdata.IEX
	if cfg.Feed != "" {
		feed = marketdata.Feed(cfg.Feed)
	}

	st := gobreaker.Settings{Name: sourceAlpaca}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 5 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
	}

	return &AlpacaProvider{
		bars:    bars,
		assets:  assets,
		feed:    feed,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		retry:   cfg.Retry,
		metrics: m,
	}
}

func (p *AlpacaProvider) barsRequest(start, end time.Time) marketdata.GetBarsRequest {
	return marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.Split,
		Start:      start,
		End:        end,
		Feed:       p.feed,
	}
}

// call runs fn behind the limiter, the retry loop and the breaker. An open
// breaker is not retried.
func (p *AlpacaProvider) call(ctx context.Context, fn func() error) error {
	started := time.Now()
	err := utils.RetryWithBackoff(ctx, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", utils.ErrPermanent, err)
		}
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w", utils.ErrPermanent, err)
		}
		return err
	}, p.retry)
	p.metrics.ObserveFetch(sourceAlpaca, started, err)
	return err
}

// DailyBars returns split-adjusted daily bars for symbol, oldest first.
func (p *AlpacaProvider) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	var raw []marketdata.Bar
	err := p.call(ctx, func() error {
		var err error
		raw, err = p.bars.GetBars(symbol, p.barsRequest(start, end))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}
	return convertBars(raw), nil
}

// DailyBarsBatch fetches many symbols in one paged request. Symbols with no
// bars are absent from the result.
func (p *AlpacaProvider) DailyBarsBatch(ctx context.Context, symbols []string, start, end time.Time) (map[string][]types.Bar, error) {
	var raw map[string][]marketdata.Bar
	err := p.call(ctx, func() error {
		var err error
		raw, err = p.bars.GetMultiBars(symbols, p.barsRequest(start, end))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %d symbols: %w", len(symbols), err)
	}
	out := make(map[string][]types.Bar, len(raw))
	for symbol, bars := range raw {
		if len(bars) > 0 {
			out[symbol] = convertBars(bars)
		}
	}
	return out, nil
}

// TradableSymbols lists active, tradable US equities, sorted.
func (p *AlpacaProvider) TradableSymbols(ctx context.Context) ([]string, error) {
	var assets []alpaca.Asset
	err := p.call(ctx, func() error {
		var err error
		assets, err = p.assets.GetAssets(alpaca.GetAssetsRequest{
			Status:     "active",
			AssetClass: "us_equity",
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.Tradable {
			symbols = append(symbols, a.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

var newYork = loadLocation("America/New_York")

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// convertBars keys each bar by its exchange-local trading date.
func convertBars(raw []marketdata.Bar) []types.Bar {
	out := make([]types.Bar, 0, len(raw))
	for _, b := range raw {
		y, m, d := b.Timestamp.In(newYork).Date()
		out = append(out, types.Bar{
			Date:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
