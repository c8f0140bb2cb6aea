package datafeed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fazecat/breakoutscan/Internal/strategy/metrics"
	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
)

// ErrNotFound is returned when no stored run matches.
var ErrNotFound = errors.New("not found")

// Store persists market runs and parameter scans in Postgres.
type Store struct {
	db    *sqlx.DB
	newID func() uuid.UUID
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, newID: uuid.New}
}

// StoredReport is a market run as read back from the store.
type StoredReport struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	scoring.Report
}

// ParamScan is one stored backtest grid, rows in rank order.
type ParamScan struct {
	ID        uuid.UUID     `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Symbols   []string      `json:"symbols"`
	Rows      []metrics.Row `json:"rows"`
}

// SaveMarketReport writes the run and both tiers in one transaction.
func (s *Store) SaveMarketReport(ctx context.Context, rep scoring.Report) (uuid.UUID, error) {
	diag, err := json.Marshal(rep.Diagnostics)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode diagnostics: %w", err)
	}
	id := s.newID()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO market_runs (id, market, run_date, market_trend_ok, liquidity_top_n, diagnostics)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, rep.Market, rep.Date, rep.Diagnostics.MarketTrendOK, rep.LiquidityTopN, diag)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to save market run: %w", err)
	}

	tiers := []struct {
		name    string
		records []types.RuleResult
	}{{"A", rep.A}, {"B", rep.B}}
	for _, tier := range tiers {
		for rank, r := range tier.records {
			rules := r.All()
			_, err = tx.ExecContext(ctx,
				`INSERT INTO tier_entries (run_id, tier, rank, symbol, score, eligible, rules)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				id, tier.name, rank+1, r.Symbol, r.Score, r.Eligible, pq.Array(rules[:]))
			if err != nil {
				return uuid.Nil, fmt.Errorf("failed to save %s-tier entry %s: %w", tier.name, r.Symbol, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit market run: %w", err)
	}
	return id, nil
}

type runRow struct {
	ID            uuid.UUID `db:"id"`
	Market        string    `db:"market"`
	RunDate       time.Time `db:"run_date"`
	LiquidityTopN int       `db:"liquidity_top_n"`
	Diagnostics   []byte    `db:"diagnostics"`
	CreatedAt     time.Time `db:"created_at"`
}

type tierRow struct {
	Tier     string       `db:"tier"`
	Rank     int          `db:"rank"`
	Symbol   string       `db:"symbol"`
	Score    int          `db:"score"`
	Eligible bool         `db:"eligible"`
	Rules    pq.BoolArray `db:"rules"`
}

// LatestMarketReport returns the most recent run for market.
func (s *Store) LatestMarketReport(ctx context.Context, market string) (*StoredReport, error) {
	var run runRow
	err := s.db.GetContext(ctx, &run,
		`SELECT id, market, run_date, liquidity_top_n, diagnostics, created_at
		 FROM market_runs WHERE market = $1
		 ORDER BY run_date DESC, created_at DESC LIMIT 1`, market)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market run for %s: %w", market, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch market run: %w", err)
	}

	out := &StoredReport{ID: run.ID, CreatedAt: run.CreatedAt}
	out.Market = run.Market
	out.Date = run.RunDate
	out.LiquidityTopN = run.LiquidityTopN
	if err := json.Unmarshal(run.Diagnostics, &out.Diagnostics); err != nil {
		return nil, fmt.Errorf("failed to decode diagnostics: %w", err)
	}

	var entries []tierRow
	err = s.db.SelectContext(ctx, &entries,
		`SELECT tier, rank, symbol, score, eligible, rules
		 FROM tier_entries WHERE run_id = $1 ORDER BY tier, rank`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tier entries: %w", err)
	}

	out.A = []types.RuleResult{}
	out.B = []types.RuleResult{}
	for _, e := range entries {
		r := types.RuleResult{
			Symbol:   e.Symbol,
			Date:     run.RunDate,
			Score:    e.Score,
			Eligible: e.Eligible,
			Rules:    types.RulesFrom(e.Rules),
		}
		switch e.Tier {
		case "A":
			out.A = append(out.A, r)
		case "B":
			out.B = append(out.B, r)
		}
	}
	return out, nil
}

// SaveParamScan writes a ranked grid. Row order is stored as rank.
func (s *Store) SaveParamScan(ctx context.Context, symbols []string, rows []metrics.Row) (uuid.UUID, error) {
	id := s.newID()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO param_scans (id, symbols) VALUES ($1, $2)`,
		id, pq.Array(symbols)); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save param scan: %w", err)
	}

	for rank, r := range rows {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO param_scan_rows
			 (scan_id, rank, short_channel, long_channel, volume_multiplier, atr_pct_min, trades, avg_ret_10d, win_rate)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, rank+1, r.Short, r.Long, r.VolumeMultiplier, r.ATRPctMin, r.Trades, r.AvgForwardReturn, r.WinRate)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to save param scan row %s: %w", r.Params, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit param scan: %w", err)
	}
	return id, nil
}

type scanRow struct {
	ID        uuid.UUID      `db:"id"`
	Symbols   pq.StringArray `db:"symbols"`
	CreatedAt time.Time      `db:"created_at"`
}

type scanLine struct {
	Short            int     `db:"short_channel"`
	Long             int     `db:"long_channel"`
	VolumeMultiplier float64 `db:"volume_multiplier"`
	ATRPctMin        float64 `db:"atr_pct_min"`
	Trades           int     `db:"trades"`
	AvgForwardReturn float64 `db:"avg_ret_10d"`
	WinRate          float64 `db:"win_rate"`
}

// LatestParamScan returns the most recent grid.
func (s *Store) LatestParamScan(ctx context.Context) (*ParamScan, error) {
	var scan scanRow
	err := s.db.GetContext(ctx, &scan,
		`SELECT id, symbols, created_at FROM param_scans ORDER BY created_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("param scan: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch param scan: %w", err)
	}

	var lines []scanLine
	err = s.db.SelectContext(ctx, &lines,
		`SELECT short_channel, long_channel, volume_multiplier, atr_pct_min, trades, avg_ret_10d, win_rate
		 FROM param_scan_rows WHERE scan_id = $1 ORDER BY rank`, scan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch param scan rows: %w", err)
	}

	out := &ParamScan{ID: scan.ID, CreatedAt: scan.CreatedAt, Symbols: scan.Symbols, Rows: make([]metrics.Row, len(lines))}
	for i, l := range lines {
		out.Rows[i] = metrics.Row{
			Params:  metrics.Params{Short: l.Short, Long: l.Long, VolumeMultiplier: l.VolumeMultiplier, ATRPctMin: l.ATRPctMin},
			Outcome: metrics.Outcome{Trades: l.Trades, AvgForwardReturn: l.AvgForwardReturn, WinRate: l.WinRate},
		}
	}
	return out, nil
}
