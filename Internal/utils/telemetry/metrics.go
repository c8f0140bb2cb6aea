// Package telemetry exposes Prometheus metrics for screener and backtest runs.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	FetchRequests *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter

	SymbolOutcomes *prometheus.CounterVec
	TierSize       *prometheus.GaugeVec
	MarketTrend    *prometheus.GaugeVec
	RunDuration    *prometheus.HistogramVec

	BacktestCombinations prometheus.Counter
}

// New builds the metrics on a private registry so tests and multiple
// instances never collide on the default one.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		FetchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakoutscan_fetch_requests_total",
				Help: "Market data requests by source and result",
			},
			[]string{"source", "result"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "breakoutscan_fetch_duration_seconds",
				Help:    "Market data request latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutscan_cache_hits_total",
			Help: "History cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutscan_cache_misses_total",
			Help: "History cache misses",
		}),
		SymbolOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakoutscan_symbol_outcomes_total",
				Help: "Per-symbol evaluation outcomes by market",
			},
			[]string{"market", "outcome"},
		),
		TierSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "breakoutscan_tier_size",
				Help: "Symbols selected into each tier on the last run",
			},
			[]string{"market", "tier"},
		),
		MarketTrend: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "breakoutscan_market_trend_ok",
				Help: "1 when the benchmark trend filter passed on the last run",
			},
			[]string{"market"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "breakoutscan_run_duration_seconds",
				Help:    "Wall time of a market run or parameter scan",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"kind"},
		),
		BacktestCombinations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "breakoutscan_backtest_combinations_total",
			Help: "Parameter combinations evaluated",
		}),
	}

	m.Registry.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.CacheHits,
		m.CacheMisses,
		m.SymbolOutcomes,
		m.TierSize,
		m.MarketTrend,
		m.RunDuration,
		m.BacktestCombinations,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(source string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FetchRequests.WithLabelValues(source, result).Inc()
	m.FetchDuration.WithLabelValues(source).Observe(time.Since(started).Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) RecordOutcome(market, outcome string) {
	if m != nil {
		m.SymbolOutcomes.WithLabelValues(market, outcome).Inc()
	}
}

func (m *Metrics) SetTiers(market string, a, b int) {
	if m == nil {
		return
	}
	m.TierSize.WithLabelValues(market, "a").Set(float64(a))
	m.TierSize.WithLabelValues(market, "b").Set(float64(b))
}

func (m *Metrics) SetMarketTrend(market string, ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.MarketTrend.WithLabelValues(market).Set(v)
}

func (m *Metrics) ObserveRun(kind string, d time.Duration) {
	if m != nil {
		m.RunDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *Metrics) AddCombinations(n int) {
	if m != nil {
		m.BacktestCombinations.Add(float64(n))
	}
}
