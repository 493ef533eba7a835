// Package server exposes the pipeline over HTTP: one endpoint to run
// requests plus read-only dashboard endpoints and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipforge/clipforge/pkg/alert"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/prefetch"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Pipeline is the orchestrator surface the server needs.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	Metrics(window time.Duration) []metrics.Summary
	Alerts() []alert.Alert
	CacheStats() []models.CacheStats
	RateLimitStatus(provider string) pipeline.RateLimitStatus
}

// Prefetcher accepts warm-up requests.
type Prefetcher interface {
	Warm(categories []string, p prefetch.Priority) []prefetch.Job
}

// BudgetReporter reports spend against limits.
type BudgetReporter interface {
	Statuses() []models.BudgetStatus
}

// Options configures a Server. Pipeline is required.
type Options struct {
	Listen   string
	Pipeline Pipeline
	Prefetch Prefetcher
	Budget   BudgetReporter
	// Collectors are registered on the server's Prometheus registry.
	Collectors []prometheus.Collector
	Logger     *log.Logger
}

// Server is the clipforge HTTP API.
type Server struct {
	opts   Options
	logger *log.Logger
	mux    *http.ServeMux

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates a Server with all routes registered.
func New(opts Options) (*Server, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("server: pipeline is required")
	}
	if opts.Listen == "" {
		opts.Listen = ":8080"
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "server"),
		mux:    http.NewServeMux(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipforge_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clipforge_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.requests,
		s.latency,
	)
	for _, c := range opts.Collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("server: register collector: %w", err)
		}
	}

	s.handle("POST /v1/pipeline/run", s.handleRun)
	s.handle("GET /v1/metrics", s.handleMetrics)
	s.handle("GET /v1/alerts", s.handleAlerts)
	s.handle("GET /v1/cache/stats", s.handleCacheStats)
	s.handle("GET /v1/ratelimit/{provider}", s.handleRateLimit)
	s.handle("GET /v1/budget", s.handleBudget)
	s.handle("POST /v1/prefetch", s.handlePrefetch)
	s.handle("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("clipforge listening", "addr", s.opts.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.opts.Pipeline.Run(r.Context(), req)
	var rej *pipeline.RejectionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.As(err, &rej):
		w.Header().Set("Retry-After", "60")
		writeJSONError(w, http.StatusTooManyRequests, rej.Reason)
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, "category or source_text is required")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("pipeline run failed", "request_id", requestID(r.Context()), "err", err)
		writeJSONError(w, http.StatusInternalServerError, "pipeline run failed")
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	window := 5 * time.Minute
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window":  window.String(),
		"metrics": emptyIfNil(s.opts.Pipeline.Metrics(window)),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": emptyIfNil(s.opts.Pipeline.Alerts())})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"caches": s.opts.Pipeline.CacheStats()})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Pipeline.RateLimitStatus(r.PathValue("provider")))
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if s.opts.Budget == nil {
		writeJSON(w, http.StatusOK, map[string]any{"budgets": []models.BudgetStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"budgets": emptyIfNil(s.opts.Budget.Statuses())})
}

type prefetchRequest struct {
	Categories []string          `json:"categories"`
	Priority   prefetch.Priority `json:"priority"`
}

func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Prefetch == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "prefetch is disabled")
		return
	}
	req := prefetchRequest{Priority: prefetch.Medium}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Categories) == 0 {
		writeJSONError(w, http.StatusBadRequest, "categories is required")
		return
	}
	jobs := s.opts.Prefetch.Warm(req.Categories, req.Priority)
	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": jobs})
}

func emptyIfNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"clipforge_error","code":%d}}`, message, code)
}
