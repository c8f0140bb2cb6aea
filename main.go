package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fazecat/breakoutscan/Internal/handlers"
	"github.com/fazecat/breakoutscan/Internal/strategy/metrics"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
	"github.com/fazecat/breakoutscan/Internal/utils/formatting"
	"github.com/fazecat/breakoutscan/Internal/utils/telemetry"
)

const appName = "breakoutscan"

type rootFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
	timeout    time.Duration
	workers    int
	persist    bool
}

func main() {
	_ = godotenv.Load()

	var flags rootFlags
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Breakout trend screener and parameter backtester",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flags.logLevel, flags.logJSON)
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to config.yaml (default: search the usual locations)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	pf.BoolVar(&flags.logJSON, "log-json", false, "Log as JSON instead of console text")
	pf.DurationVar(&flags.timeout, "timeout", 30*time.Minute, "Abort the command after this long")
	pf.IntVar(&flags.workers, "workers", 0, "Override runtime.workers")
	pf.BoolVar(&flags.persist, "persist", false, "Store results in Postgres")

	rootCmd.AddCommand(
		dailyCmd(&flags),
		scheduleCmd(&flags),
		validateParamsCmd(&flags),
		explainCmd(&flags),
		configCmd(&flags),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setupLogging(level string, asJSON bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("bad --log-level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	if !asJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return nil
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.LoadConfigFromPath(flags.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}
	if flags.workers > 0 {
		cfg.Runtime.Workers = flags.workers
	}
	return cfg, nil
}

// withEnv loads config, wires the data sources and runs fn under the
// command timeout and SIGINT/SIGTERM.
func withEnv(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, env *handlers.Env) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	env, err := handlers.NewEnv(ctx, cfg, telemetry.New(), handlers.EnvOptions{Persist: flags.persist, Out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func dailyCmd(flags *rootFlags) *cobra.Command {
	var markets []string
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Scan markets and write today's report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, env *handlers.Env) error {
				_, err := handlers.HandleDaily(ctx, env, markets)
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&markets, "market", nil, "Markets to scan (default: every enabled market)")
	return cmd
}

func scheduleCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily scan every day at report_time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = handlers.RunSchedule(ctx, cfg.ReportTime, func(ctx context.Context) error {
				if flags.timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, flags.timeout)
					defer cancel()
				}
				env, err := handlers.NewEnv(ctx, cfg, telemetry.New(), handlers.EnvOptions{Persist: flags.persist, Out: cmd.OutOrStdout()})
				if err != nil {
					return err
				}
				defer env.Close()
				_, err = handlers.HandleDaily(ctx, env, nil)
				return err
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func validateParamsCmd(flags *rootFlags) *cobra.Command {
	var (
		opts      handlers.ValidateOptions
		single    metrics.Params
		useSingle bool
		endDate   string
	)
	cmd := &cobra.Command{
		Use:   "validate-params",
		Short: "Backtest the parameter grid over the configured basket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if useSingle {
				opts.Single = &single
			}
			return withEnv(cmd, flags, func(ctx context.Context, env *handlers.Env) error {
				if endDate != "" {
					end, err := formatting.ParseDate(endDate)
					if err != nil {
						return err
					}
					env.Now = func() time.Time { return end }
				}
				return handlers.HandleValidateParams(ctx, env, opts)
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&useSingle, "single", false, "Evaluate one parameter set instead of the grid")
	f.IntVar(&single.Short, "short", 20, "Short channel length (with --single)")
	f.IntVar(&single.Long, "long", 55, "Long channel length (with --single)")
	f.Float64Var(&single.VolumeMultiplier, "vol", 1.5, "Volume multiplier (with --single)")
	f.Float64Var(&single.ATRPctMin, "atr-min", 0.012, "ATR% floor (with --single)")
	f.BoolVar(&opts.PerSymbol, "per-symbol", false, "Break a --single run down per symbol")
	f.IntVar(&opts.Limit, "top", 20, "Rows to print; 0 prints all")
	f.StringVar(&endDate, "end", "", "Last history date (default: today)")
	return cmd
}

func explainCmd(flags *rootFlags) *cobra.Command {
	var market string
	cmd := &cobra.Command{
		Use:   "explain SYMBOL",
		Short: "Show the indicator readings and rules behind a symbol's score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, env *handlers.Env) error {
				return handlers.HandleExplain(ctx, env, args[0], market)
			})
		},
	}
	cmd.Flags().StringVar(&market, "market", "us", "Market whose benchmark sets the trend rule")
	return cmd
}

func configCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	var asYAML bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return handlers.HandleConfigShow(&handlers.Env{Cfg: cfg, Out: cmd.OutOrStdout()}, asYAML)
		},
	}
	show.Flags().BoolVar(&asYAML, "yaml", false, "Print as YAML")
	cmd.AddCommand(show)
	return cmd
}
