package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"durable-queue/internal/models"
	"durable-queue/internal/ratelimit"
	"durable-queue/internal/store"
)

// JobStore is the queue surface exposed over HTTP.
type JobStore interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts models.EnqueueOptions) (models.Job, error)
	QueryJobs(ctx context.Context, filter models.JobFilter) (models.JobPage, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	DeleteJob(ctx context.Context, id string) (bool, error)
	RetryJob(ctx context.Context, id string) (models.Job, error)
	GetStats(ctx context.Context, queue string) ([]models.QueueStats, error)
	PurgeJobs(ctx context.Context, olderThan time.Duration, status models.Status) (int64, error)
	RecoverStalledJobs(ctx context.Context) (int64, error)
}

// Limiter throttles enqueues per queue.
type Limiter interface {
	Allow(ctx context.Context, queue string) (ratelimit.Decision, error)
}

// Notifier wakes idle workers after an enqueue.
type Notifier interface {
	Ring(ctx context.Context, queue string) error
}

// Options holds the optional collaborators of a Server.
type Options struct {
	Limiter  Limiter
	Notifier Notifier
	Metrics  http.Handler
	Logger   *zap.Logger
}

// Server wires HTTP handlers for producers and operators.
type Server struct {
	store    JobStore
	limiter  Limiter
	notifier Notifier
	metrics  http.Handler
	log      *zap.Logger
}

// New constructs the API server.
func New(st JobStore, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:    st,
		limiter:  opts.Limiter,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Mount("/metrics", s.metrics)
	}

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleEnqueue)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Delete("/{id}", s.handleDeleteJob)
		r.Post("/{id}/retry", s.handleRetryJob)
	})
	r.Get("/stats", s.handleStats)
	r.Post("/maintenance/purge", s.handlePurge)
	r.Post("/maintenance/recover", s.handleRecover)
	return r
}

type enqueueRequest struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Queue      string          `json:"queue"`
	Priority   *int            `json:"priority"`
	MaxRetries *int            `json:"max_retries"`
	Backoff    *models.Backoff `json:"backoff"`
	TimeoutMS  int64           `json:"timeout_ms"`
	UniqueKey  string          `json:"unique_key"`
	RunAt      *time.Time      `json:"run_at"`
	DelayMS    int64           `json:"delay_ms"`
	Metadata   json.RawMessage `json:"metadata"`
}

func (req enqueueRequest) options(now time.Time) models.EnqueueOptions {
	opts := models.EnqueueOptions{
		Queue:      req.Queue,
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
		Backoff:    req.Backoff,
		TimeoutMS:  req.TimeoutMS,
		UniqueKey:  req.UniqueKey,
		RunAt:      req.RunAt,
	}
	if req.DelayMS > 0 {
		runAt := now.Add(time.Duration(req.DelayMS) * time.Millisecond)
		opts.RunAt = &runAt
	}
	if len(req.Metadata) > 0 {
		opts.Metadata = req.Metadata
	}
	return opts
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}
	queue := req.Queue
	if queue == "" {
		queue = models.DefaultQueue
	}

	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), queue)
		if err != nil {
			s.log.Error("rate limit", zap.String("queue", queue), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	job, err := s.store.Enqueue(r.Context(), req.Type, req.Payload, req.options(time.Now()))
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	if s.notifier != nil {
		if err := s.notifier.Ring(r.Context(), job.Queue); err != nil {
			s.log.Warn("wake workers", zap.String("queue", job.Queue), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.JobFilter{
		Queue:  q.Get("queue"),
		Type:   q.Get("type"),
		Status: models.Status(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status))
		return
	}
	var err error
	if filter.Page, err = intParam(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	page, err := s.store.QueryJobs(r.Context(), filter)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.RetryJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if s.notifier != nil {
		_ = s.notifier.Ring(r.Context(), job.Queue)
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

type purgeRequest struct {
	OlderThanMS int64         `json:"older_than_ms"`
	Status      models.Status `json:"status"`
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OlderThanMS < 0 {
		writeError(w, http.StatusBadRequest, "older_than_ms must be >= 0")
		return
	}
	n, err := s.store.PurgeJobs(r.Context(), time.Duration(req.OlderThanMS)*time.Millisecond, req.Status)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	s.log.Info("purged jobs", zap.String("status", string(req.Status)), zap.Int64("count", n))
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.RecoverStalledJobs(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"recovered": n})
}

// storeError maps store sentinels to status codes. Anything unrecognised is
// logged and reported as a 500 without leaking details.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidJob):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, store.ErrJobNotDead):
		writeError(w, http.StatusConflict, "job is not dead")
	case errors.Is(err, store.ErrDedupExhausted):
		writeError(w, http.StatusConflict, "unique key contention, retry the request")
	default:
		s.log.Error("store error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := math.Ceil(d.Seconds())
	if secs < 1 {
		return 1
	}
	if secs > 3600 {
		return 3600
	}
	return int(secs)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
