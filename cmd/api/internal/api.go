package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	datafeed "github.com/fazecat/breakoutscan/Internal/database"
	"github.com/fazecat/breakoutscan/Internal/utils/scoring"
)

// Store is the part of the results store the API reads and writes.
type Store interface {
	LatestMarketReport(ctx context.Context, market string) (*datafeed.StoredReport, error)
	LatestParamScan(ctx context.Context) (*datafeed.ParamScan, error)
	SaveMarketReport(ctx context.Context, rep scoring.Report) (uuid.UUID, error)
}

// MarketRunner scans one market.
type MarketRunner interface {
	RunMarket(ctx context.Context, market string) (scoring.Report, error)
}

type API struct {
	Store       Store
	Runner      MarketRunner
	JWTManager  *JWTManager
	Credentials Credentials
	// Markets lists the names accepted by HandleStartRun.
	Markets    []string
	RunTimeout time.Duration
	Health     func(ctx context.Context) error

	jobs jobTracker
}

// Routes wires every handler onto a chi router.
func (api *API) Routes(r chi.Router) {
	r.Get("/health", api.HandleHealth)
	r.Get("/api/runs/latest", api.HandleLatestRun)
	r.Get("/api/backtest/latest", api.HandleLatestBacktest)
	r.Post("/api/token", api.HandleGenerateToken)

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(api.JWTManager))
		r.Post("/api/runs", api.HandleStartRun)
		r.Get("/api/runs/jobs/{id}", api.HandleJobStatus)
	})
}

func (api *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if api.Health != nil {
		if err := api.Health(r.Context()); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	WriteJSON(w, http.StatusOK, "healthy")
}

func (api *API) HandleLatestRun(w http.ResponseWriter, r *http.Request) {
	market := r.URL.Query().Get("market")
	if market == "" {
		market = "us"
	}
	rep, err := api.Store.LatestMarketReport(r.Context(), market)
	if errors.Is(err, datafeed.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "No stored run for market "+market)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("market", market).Msg("failed to load market run")
		writeRequestError(w, r, http.StatusInternalServerError, "Failed to load market run")
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}

func (api *API) HandleLatestBacktest(w http.ResponseWriter, r *http.Request) {
	scan, err := api.Store.LatestParamScan(r.Context())
	if errors.Is(err, datafeed.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "No stored parameter scan")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load parameter scan")
		writeRequestError(w, r, http.StatusInternalServerError, "Failed to load parameter scan")
		return
	}
	WriteJSON(w, http.StatusOK, scan)
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (api *API) HandleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !api.Credentials.Match(req.Username, req.Password) {
		WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token, expires, err := api.JWTManager.GenerateToken(req.Username)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate token")
		writeRequestError(w, r, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires.UTC(),
	})
}

type runRequest struct {
	Market string `json:"market"`
}

// HandleStartRun scans a market in the background and stores the result.
// It answers 202 with a job id at once.
func (api *API) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	if api.Runner == nil {
		WriteError(w, http.StatusServiceUnavailable, "Market data source not configured")
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Market == "" {
		WriteError(w, http.StatusBadRequest, "Request body must name a market")
		return
	}
	if !api.knownMarket(req.Market) {
		WriteError(w, http.StatusBadRequest, "Unknown market "+req.Market)
		return
	}

	job := api.jobs.start(req.Market)
	go api.runJob(job.ID, req.Market)

	WriteJSON(w, http.StatusAccepted, job)
}

func (api *API) knownMarket(market string) bool {
	for _, m := range api.Markets {
		if m == market {
			return true
		}
	}
	return false
}

func (api *API) runJob(id uuid.UUID, market string) {
	timeout := api.RunTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	api.jobs.update(id, func(j *Job) { j.Status = JobRunning })
	rep, err := api.Runner.RunMarket(ctx, market)
	if err == nil {
		var runID uuid.UUID
		runID, err = api.Store.SaveMarketReport(ctx, rep)
		if err == nil {
			api.jobs.update(id, func(j *Job) {
				j.Status = JobDone
				j.RunID = &runID
			})
			return
		}
	}
	log.Error().Err(err).Str("job", id.String()).Str("market", market).Msg("background run failed")
	api.jobs.update(id, func(j *Job) {
		j.Status = JobFailed
		j.Error = err.Error()
	})
}

func (api *API) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid job id")
		return
	}
	job, ok := api.jobs.get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "Unknown job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

type Job struct {
	ID         uuid.UUID  `json:"id"`
	Market     string     `json:"market"`
	Status     JobStatus  `json:"status"`
	RunID      *uuid.UUID `json:"run_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (j *Job) finished() bool {
	return j.Status == JobDone || j.Status == JobFailed
}

// jobRetention is how long a finished job stays queryable.
const jobRetention = time.Hour

type jobTracker struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	now  func() time.Time
}

func (t *jobTracker) clock() time.Time {
	if t.now == nil {
		return time.Now().UTC()
	}
	return t.now()
}

// start registers a queued job and drops finished jobs past retention.
func (t *jobTracker) start(market string) Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobs == nil {
		t.jobs = make(map[uuid.UUID]*Job)
	}
	now := t.clock()
	for id, j := range t.jobs {
		if j.FinishedAt != nil && now.Sub(*j.FinishedAt) > jobRetention {
			delete(t.jobs, id)
		}
	}
	j := &Job{ID: uuid.New(), Market: market, Status: JobQueued, StartedAt: now}
	t.jobs[j.ID] = j
	return *j
}

func (t *jobTracker) update(id uuid.UUID, fn func(*Job)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[id]; ok {
		fn(j)
		if j.finished() && j.FinishedAt == nil {
			at := t.clock()
			j.FinishedAt = &at
		}
	}
}

func (t *jobTracker) get(id uuid.UUID) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}
