package datafeed

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DatabaseConfigFromEnv reads the DB_* variables. DB_PASSWORD has no default.
func DatabaseConfigFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   getEnvOrDefault("DB_NAME", "breakoutscan"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// OpenDatabase connects and pings Postgres.
func OpenDatabase(ctx context.Context, cfg DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS market_runs (
	id UUID PRIMARY KEY,
	market TEXT NOT NULL,
	run_date DATE NOT NULL,
	market_trend_ok BOOLEAN NOT NULL,
	liquidity_top_n INTEGER NOT NULL,
	diagnostics JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tier_entries (
	run_id UUID NOT NULL REFERENCES market_runs(id) ON DELETE CASCADE,
	tier TEXT NOT NULL,
	rank INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	score INTEGER NOT NULL,
	eligible BOOLEAN NOT NULL,
	rules BOOLEAN[] NOT NULL,
	PRIMARY KEY (run_id, tier, rank)
);

CREATE TABLE IF NOT EXISTS param_scans (
	id UUID PRIMARY KEY,
	symbols TEXT[] NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS param_scan_rows (
	scan_id UUID NOT NULL REFERENCES param_scans(id) ON DELETE CASCADE,
	rank INTEGER NOT NULL,
	short_channel INTEGER NOT NULL,
	long_channel INTEGER NOT NULL,
	volume_multiplier DOUBLE PRECISION NOT NULL,
	atr_pct_min DOUBLE PRECISION NOT NULL,
	trades INTEGER NOT NULL,
	avg_ret_10d DOUBLE PRECISION NOT NULL,
	win_rate DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (scan_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_market_runs_market_date ON market_runs(market, run_date DESC, created_at DESC);
`

// InitSchema creates the result tables if they don't exist.
func InitSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func HealthCheck(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.PingContext(ctx)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
