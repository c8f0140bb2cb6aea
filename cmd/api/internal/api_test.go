package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	datafeed "github.com/fazecat/breakoutscan/Internal/database"
	"github.com/fazecat/breakoutscan/Internal/strategy/metrics"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
)

type fakeStore struct {
	mu      sync.Mutex
	reports map[string]*datafeed.StoredReport
	scan    *datafeed.ParamScan
	saved   []scoring.Report
	err     error
}

func (f *fakeStore) LatestMarketReport(_ context.Context, market string) (*datafeed.StoredReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	rep, ok := f.reports[market]
	if !ok {
		return nil, datafeed.ErrNotFound
	}
	return rep, nil
}

func (f *fakeStore) LatestParamScan(context.Context) (*datafeed.ParamScan, error) {
	if f.scan == nil {
		return nil, datafeed.ErrNotFound
	}
	return f.scan, nil
}

func (f *fakeStore) SaveMarketReport(_ context.Context, rep scoring.Report) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rep)
	return uuid.MustParse("11111111-2222-3333-4444-555555555555"), nil
}

type fakeRunner struct {
	err error
}

func (f fakeRunner) RunMarket(_ context.Context, market string) (scoring.Report, error) {
	return scoring.Report{Market: market}, f.err
}

func newTestAPI(t *testing.T) (*API, *fakeStore, http.Handler) {
	t.Helper()
	jwtMgr, err := NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	store := &fakeStore{reports: map[string]*datafeed.StoredReport{}}
	api := &API{
		Store:       store,
		Runner:      fakeRunner{},
		JWTManager:  jwtMgr,
		Credentials: Credentials{User: "ops", Password: "hunter2"},
		Markets:     []string{"us", "hk"},
	}
	r := chi.NewRouter()
	api.Routes(r)
	return api, store, r
}

func do(t *testing.T, h http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestHandleHealth(t *testing.T) {
	api, _, h := newTestAPI(t)

	rec, env := do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "healthy", env.Data)

	api.Health = func(context.Context) error { return errors.New("db down") }
	rec, env = do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
}

func TestHandleLatestRun(t *testing.T) {
	_, store, h := newTestAPI(t)
	stored := &datafeed.StoredReport{}
	stored.Market = "us"
	stored.Diagnostics.Evaluated = 42
	store.reports["us"] = stored

	rec, env := do(t, h, http.MethodGet, "/api/runs/latest?market=us", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := env.Data.(map[string]any)
	assert.Equal(t, "us", data["market"])
	assert.Equal(t, 42.0, data["diagnostics"].(map[string]any)["evaluated"])

	rec, _ = do(t, h, http.MethodGet, "/api/runs/latest?market=hk", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store.err = errors.New("connection reset")
	rec, _ = do(t, h, http.MethodGet, "/api/runs/latest", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleLatestBacktest(t *testing.T) {
	_, store, h := newTestAPI(t)

	rec, _ := do(t, h, http.MethodGet, "/api/backtest/latest", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store.scan = &datafeed.ParamScan{
		Symbols: []string{"AAPL"},
		Rows: []metrics.Row{{
			Params:  metrics.Params{Short: 20, Long: 55, VolumeMultiplier: 1.5, ATRPctMin: 0.012},
			Outcome: metrics.Outcome{Trades: 4, AvgForwardReturn: 0.01, WinRate: 0.5},
		}},
	}
	rec, env := do(t, h, http.MethodGet, "/api/backtest/latest", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := env.Data.(map[string]any)["rows"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, 20.0, row["short"])
	assert.Equal(t, 4.0, row["trades"])
	assert.Equal(t, 0.01, row["avg_ret_10d"])
}

func token(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, "/api/token", `{"username":"ops","password":"hunter2"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	return env.Data.(map[string]any)["token"].(string)
}

func TestHandleGenerateToken(t *testing.T) {
	api, _, h := newTestAPI(t)

	tok := token(t, h)
	claims, err := api.JWTManager.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.UserID)

	rec, _ := do(t, h, http.MethodPost, "/api/token", `{"username":"ops","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/token", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStartRun_RequiresToken(t *testing.T) {
	_, _, h := newTestAPI(t)

	rec, _ := do(t, h, http.MethodPost, "/api/runs", `{"market":"us"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/runs", `{"market":"us"}`, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleStartRun(t *testing.T) {
	_, store, h := newTestAPI(t)
	tok := token(t, h)

	rec, env := do(t, h, http.MethodPost, "/api/runs", `{"market":"us"}`, tok)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := env.Data.(map[string]any)["id"].(string)

	assert.Eventually(t, func() bool {
		_, env := do(t, h, http.MethodGet, "/api/runs/jobs/"+id, "", tok)
		return env.Data.(map[string]any)["status"] == string(JobDone)
	}, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 1)
	assert.Equal(t, "us", store.saved[0].Market)
}

func TestHandleStartRun_Failure(t *testing.T) {
	api, _, h := newTestAPI(t)
	api.Runner = fakeRunner{err: errors.New("alpaca unreachable")}
	tok := token(t, h)

	_, env := do(t, h, http.MethodPost, "/api/runs", `{"market":"hk"}`, tok)
	id := env.Data.(map[string]any)["id"].(string)

	assert.Eventually(t, func() bool {
		_, env := do(t, h, http.MethodGet, "/api/runs/jobs/"+id, "", tok)
		job := env.Data.(map[string]any)
		return job["status"] == string(JobFailed) && job["error"] == "alpaca unreachable"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleStartRun_BadRequests(t *testing.T) {
	api, _, h := newTestAPI(t)
	tok := token(t, h)

	rec, _ := do(t, h, http.MethodPost, "/api/runs", `{"market":"jp"}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/runs", `{}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/runs/jobs/not-a-uuid", "", tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/runs/jobs/"+uuid.NewString(), "", tok)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	api.Runner = nil
	rec, _ = do(t, h, http.MethodPost, "/api/runs", `{"market":"us"}`, tok)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCredentials_Match(t *testing.T) {
	c := Credentials{User: "ops", Password: "pw"}
	assert.True(t, c.Match("ops", "pw"))
	assert.False(t, c.Match("ops", "PW"))
	assert.False(t, Credentials{}.Match("", ""))
}

func TestNewJWTManager_RequiresSecret(t *testing.T) {
	_, err := NewJWTManager("", time.Hour)
	assert.Error(t, err)
}

func TestJobTracker_ExpiresFinishedJobs(t *testing.T) {
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	tr := &jobTracker{now: func() time.Time { return now }}

	done := tr.start("us")
	tr.update(done.ID, func(j *Job) { j.Status = JobDone })
	running := tr.start("hk")
	tr.update(running.ID, func(j *Job) { j.Status = JobRunning })

	got, ok := tr.get(done.ID)
	require.True(t, ok)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, now, *got.FinishedAt)

	now = now.Add(jobRetention + time.Minute)
	tr.start("us")

	_, ok = tr.get(done.ID)
	assert.False(t, ok, "finished job past retention is dropped")
	_, ok = tr.get(running.ID)
	assert.True(t, ok, "unfinished jobs are kept")
	assert.Len(t, tr.jobs, 2)
}
