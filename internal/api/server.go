package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/alert"
	"github.com/JakeFAU/eld-roster-crawler/internal/config"
	"github.com/JakeFAU/eld-roster-crawler/internal/metrics"
	"github.com/JakeFAU/eld-roster-crawler/internal/pipeline"
	"github.com/JakeFAU/eld-roster-crawler/internal/roster"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage"
)

// quickRouteTimeout bounds every route except the pipeline triggers, whose
// duration grows with the number of companies.
const quickRouteTimeout = 30 * time.Second

// Runner is the pipeline surface the server triggers.
type Runner interface {
	Run(ctx context.Context) (pipeline.Summary, error)
	FetchCompaniesSummary(ctx context.Context) (pipeline.CompaniesSummary, error)
	Results(ctx context.Context) (roster.AggregateResult, error)
}

// AlertLister reads the alert log.
type AlertLister interface {
	List(ctx context.Context) ([]alert.Record, error)
}

// ReadinessCheck reports whether downstream dependencies are usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the pipeline and the alert log.
type Server struct {
	router chi.Router
	runner Runner
	alerts AlertLister
	ready  ReadinessCheck
	logger *zap.Logger

	// runs are detached from the triggering request and end with the server
	runCtx    context.Context
	cancelRun context.CancelFunc
	running   sync.Mutex
}

// Option customises a Server.
type Option func(*Server)

// WithReadinessCheck installs the /readyz probe.
func WithReadinessCheck(check ReadinessCheck) Option {
	return func(s *Server) {
		s.ready = check
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, alerts AlertLister, cfg config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:    runner,
		alerts:    alerts,
		logger:    logger,
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(quickRouteTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Handle("/metrics", metrics.Handler())
	})

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/v1", func(r chi.Router) {
			r.Post("/aggregate", s.aggregate)
			r.Post("/companies/fetch", s.fetchCompanies)
			r.With(timeoutMiddleware(quickRouteTimeout)).Get("/alerts", s.listAlerts)
			r.With(timeoutMiddleware(quickRouteTimeout)).Get("/results", s.results)
		})
		// routes kept for existing schedulers
		r.Get("/fetch-all-drivers", s.aggregate)
		r.Get("/fetch-companies", s.fetchCompanies)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close cancels any pipeline run still in flight.
func (s *Server) Close() {
	s.cancelRun()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type failureResponse struct {
	Success         bool   `json:"success"`
	Error           string `json:"error"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

func (s *Server) aggregate(w http.ResponseWriter, _ *http.Request) {
	if !s.running.TryLock() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.running.Unlock()

	summary, err := s.runner.Run(s.runCtx)
	if err != nil {
		s.logger.Error("pipeline run failed", zap.Error(err), zap.Int64("execution_ms", summary.ExecutionTimeMs))
		writeJSON(w, http.StatusInternalServerError, failureResponse{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: summary.ExecutionTimeMs,
		})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) fetchCompanies(w http.ResponseWriter, _ *http.Request) {
	if !s.running.TryLock() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.running.Unlock()

	summary, err := s.runner.FetchCompaniesSummary(s.runCtx)
	if err != nil {
		s.logger.Error("fetch companies failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	records, err := s.alerts.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	results, err := s.runner.Results(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no aggregate results yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
