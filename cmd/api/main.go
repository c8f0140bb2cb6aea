package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	datafeed "github.com/fazecat/breakoutscan/Internal/database"
	"github.com/fazecat/breakoutscan/Internal/handlers"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
	"github.com/fazecat/breakoutscan/Internal/utils/telemetry"
	"github.com/fazecat/breakoutscan/cmd/api/internal"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../../.env")
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := handlers.OpenStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	jwtManager, err := internal.NewJWTManager(os.Getenv("JWT_SECRET_KEY"), 24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("JWT setup failed")
	}

	m := telemetry.New()
	apiServer := &internal.API{
		Store:       datafeed.NewStore(db),
		JWTManager:  jwtManager,
		Credentials: internal.Credentials{User: os.Getenv("API_USER"), Password: os.Getenv("API_PASSWORD")},
		Markets:     cfg.EnabledMarkets(),
		RunTimeout:  30 * time.Minute,
		Health:      func(ctx context.Context) error { return datafeed.HealthCheck(ctx, db) },
	}

	// Runs can only be triggered when market data is reachable.
	env, err := handlers.NewEnv(ctx, cfg, m, handlers.EnvOptions{})
	if err != nil {
		log.Warn().Err(err).Msg("market data unavailable, POST /api/runs disabled")
	} else {
		defer env.Close()
		apiServer.Runner = env.Screener()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(internal.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(internal.CorsMiddleware)

	r.Handle("/metrics", m.Handler())
	apiServer.Routes(r)

	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("starting API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("BREAKOUTSCAN_CONFIG"); path != "" {
		return config.LoadConfigFromPath(path)
	}
	return config.LoadConfig()
}
