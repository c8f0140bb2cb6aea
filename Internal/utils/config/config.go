package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fazecat/breakoutscan/Internal/strategy/indicators"
	"github.com/fazecat/breakoutscan/Internal/types"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	ReportTime string            `yaml:"report_time"`
	Strategy   Strategy          `yaml:"strategy"`
	Scoring    Weights           `yaml:"scoring"`
	Markets    map[string]Market `yaml:"markets"`
	Backtest   Backtest          `yaml:"backtest"`
	Runtime    Runtime           `yaml:"runtime"`
	Reports    Reports           `yaml:"reports"`
}

// Strategy holds the signal evaluator's parameters.
type Strategy struct {
	ShortChannel         int     `yaml:"short_channel"`
	LongChannel          int     `yaml:"long_channel"`
	VolumeRatioThreshold float64 `yaml:"volume_ratio_threshold"`
	VolumeWindow         int     `yaml:"volume_window"`
	ATRPeriod            int     `yaml:"atr_period"`
	ATRPctMin            float64 `yaml:"atr_pct_min"`
	MACDFast             int     `yaml:"macd_fast"`
	MACDSlow             int     `yaml:"macd_slow"`
	MACDSignal           int     `yaml:"macd_signal"`
	MinHistoryDays       int     `yaml:"min_history_days"`
}

// IndicatorParams maps the strategy onto indicator lookbacks.
func (s *Strategy) IndicatorParams() indicators.Params {
	return indicators.Params{
		ShortChannel: s.ShortChannel,
		LongChannel:  s.LongChannel,
		VolumeWindow: s.VolumeWindow,
		ATRPeriod:    s.ATRPeriod,
		MACDFast:     s.MACDFast,
		MACDSlow:     s.MACDSlow,
		MACDSignal:   s.MACDSignal,
	}
}

// Weights are the points awarded per passing rule. They are not normalised;
// keep the total at 100 for a percentage score.
type Weights struct {
	Breakout              int `yaml:"rule_1_breakout"`
	Volume                int `yaml:"rule_2_volume"`
	HoldAbove             int `yaml:"rule_3_hold_above"`
	MACD                  int `yaml:"rule_4_macd"`
	ATRFilter             int `yaml:"rule_5_atr_filter"`
	TrendFilter           int `yaml:"rule_6_trend_filter"`
	NotFallBack           int `yaml:"rule_7_not_fall_back"`
	NotBearCrossShrinking int `yaml:"rule_8_not_bear_cross_shrink"`
}

// All returns the weights in rule order.
func (w Weights) All() [types.NumRules]int {
	return [types.NumRules]int{
		w.Breakout,
		w.Volume,
		w.HoldAbove,
		w.MACD,
		w.ATRFilter,
		w.TrendFilter,
		w.NotFallBack,
		w.NotBearCrossShrinking,
	}
}

func (w Weights) Total() int {
	total := 0
	for _, v := range w.All() {
		total += v
	}
	return total
}

// Universe sources.
const (
	UniverseAlpaca = "alpaca"
	UniverseStatic = "static"
)

type Market struct {
	Enabled       bool     `yaml:"enabled"`
	Benchmark     string   `yaml:"benchmark"`
	TopN          int      `yaml:"top_n"`
	MaxSymbols    int      `yaml:"max_symbols"`
	LiquidityTopN int      `yaml:"liquidity_top_n"`
	Universe      string   `yaml:"universe"` // "alpaca" or "static"
	Symbols       []string `yaml:"symbols"`
}

type Backtest struct {
	Symbols           []string  `yaml:"symbols"`
	HistoryYears      int       `yaml:"history_years"`
	MinBars           int       `yaml:"min_bars"`
	HorizonDays       int       `yaml:"horizon_days"`
	ShortChannels     []int     `yaml:"short_channels"`
	LongChannels      []int     `yaml:"long_channels"`
	VolumeMultipliers []float64 `yaml:"volume_multipliers"`
	ATRPctMins        []float64 `yaml:"atr_pct_mins"`
	LowSampleWarning  int       `yaml:"low_sample_warning"`
}

type Runtime struct {
	Workers              int `yaml:"workers"`
	HistoryMonths        int `yaml:"history_months"`
	LiquidityLookbackDay int `yaml:"liquidity_lookback_days"`
	LiquidityChunkSize   int `yaml:"liquidity_chunk_size"`
	LiquidityMinBars     int `yaml:"liquidity_min_bars"`
	TrendMinBars         int `yaml:"trend_min_bars"`
	CacheTTLMinutes      int `yaml:"cache_ttl_minutes"`
}

type Reports struct {
	Dir string `yaml:"dir"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		ReportTime: "08:30",
		Strategy: Strategy{
			ShortChannel:         20,
			LongChannel:          55,
			VolumeRatioThreshold: 1.5,
			VolumeWindow:         20,
			ATRPeriod:            14,
			ATRPctMin:            0.012,
			MACDFast:             12,
			MACDSlow:             26,
			MACDSignal:           9,
			MinHistoryDays:       80,
		},
		Scoring: Weights{
			Breakout:              20,
			Volume:                15,
			HoldAbove:             15,
			MACD:                  10,
			ATRFilter:             10,
			TrendFilter:           10,
			NotFallBack:           10,
			NotBearCrossShrinking: 10,
		},
		Markets: map[string]Market{
			"us": {
				Enabled:       true,
				Benchmark:     "SPY",
				TopN:          5,
				MaxSymbols:    2500,
				LiquidityTopN: 100,
				Universe:      UniverseAlpaca,
			},
			"hk": {
				Enabled:       false,
				Benchmark:     "2800.HK",
				TopN:          5,
				MaxSymbols:    2600,
				LiquidityTopN: 100,
				Universe:      UniverseStatic,
			},
		},
		Backtest: Backtest{
			Symbols:           []string{"AAPL", "MSFT", "NVDA", "AMZN", "META", "TSLA", "JPM", "XOM", "UNH", "AVGO"},
			HistoryYears:      5,
			MinBars:           300,
			HorizonDays:       10,
			ShortChannels:     []int{18, 20, 22},
			LongChannels:      []int{50, 55, 60},
			VolumeMultipliers: []float64{1.3, 1.5, 1.8},
			ATRPctMins:        []float64{0.01, 0.012, 0.015},
			LowSampleWarning:  5,
		},
		Runtime: Runtime{
			Workers:              8,
			HistoryMonths:        18,
			LiquidityLookbackDay: 90,
			LiquidityChunkSize:   150,
			LiquidityMinBars:     25,
			TrendMinBars:         70,
			CacheTTLMinutes:      720,
		},
		Reports: Reports{Dir: "reports"},
	}
}

// LoadConfig finds config.yaml next to this package, under the working
// directory, or in the current directory.
func LoadConfig() (*Config, error) {
	_, filePath, _, ok := runtime.Caller(0)
	var basePath string
	if ok {
		basePath = filepath.Dir(filePath)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	possiblePaths := []string{}
	if basePath != "" {
		possiblePaths = append(possiblePaths, filepath.Join(basePath, "config.yaml"))
	}
	possiblePaths = append(possiblePaths,
		filepath.Join(cwd, "Internal", "utils", "config", "config.yaml"),
		"config.yaml",
	)

	for _, path := range possiblePaths {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadConfigFromPath(path)
		}
	}
	return nil, fmt.Errorf("config.yaml not found in %v", possiblePaths)
}

// LoadConfigFromPath overlays the YAML file on Default and validates it.
func LoadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	s := c.Strategy
	switch {
	case s.ShortChannel < 1 || s.LongChannel < 1:
		return fmt.Errorf("%w: channel lengths must be positive", ErrInvalid)
	case s.ShortChannel >= s.LongChannel:
		return fmt.Errorf("%w: short_channel (%d) must be below long_channel (%d)", ErrInvalid, s.ShortChannel, s.LongChannel)
	case s.VolumeWindow < 1 || s.ATRPeriod < 1:
		return fmt.Errorf("%w: volume_window and atr_period must be positive", ErrInvalid)
	case s.MACDFast < 1 || s.MACDSignal < 1 || s.MACDFast >= s.MACDSlow:
		return fmt.Errorf("%w: macd spans must satisfy 0 < fast < slow and signal > 0", ErrInvalid)
	case s.MinHistoryDays < 2:
		return fmt.Errorf("%w: min_history_days must be at least 2", ErrInvalid)
	case s.VolumeRatioThreshold <= 0:
		return fmt.Errorf("%w: volume_ratio_threshold must be positive", ErrInvalid)
	}

	for _, w := range c.Scoring.All() {
		if w < 0 {
			return fmt.Errorf("%w: scoring weights must not be negative", ErrInvalid)
		}
	}

	for name, m := range c.Markets {
		if !m.Enabled {
			continue
		}
		if m.Benchmark == "" {
			return fmt.Errorf("%w: market %s has no benchmark", ErrInvalid, name)
		}
		if m.Universe != UniverseAlpaca && m.Universe != UniverseStatic {
			return fmt.Errorf("%w: market %s universe must be alpaca or static, got %q", ErrInvalid, name, m.Universe)
		}
		if m.Universe == UniverseStatic && len(m.Symbols) == 0 {
			return fmt.Errorf("%w: market %s uses a static universe with no symbols", ErrInvalid, name)
		}
	}

	b := c.Backtest
	if b.HorizonDays < 1 || b.MinBars < 2 {
		return fmt.Errorf("%w: backtest horizon_days and min_bars must be positive", ErrInvalid)
	}
	if c.Runtime.Workers < 1 {
		return fmt.Errorf("%w: runtime workers must be at least 1", ErrInvalid)
	}
	return nil
}

// Market returns the named market settings.
func (c *Config) Market(name string) (Market, error) {
	m, ok := c.Markets[name]
	if !ok {
		return Market{}, fmt.Errorf("%w: unknown market %q", ErrInvalid, name)
	}
	return m, nil
}

// EnabledMarkets returns enabled market names in a stable order.
func (c *Config) EnabledMarkets() []string {
	names := make([]string, 0, len(c.Markets))
	for name, m := range c.Markets {
		if m.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
