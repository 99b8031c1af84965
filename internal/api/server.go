package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/scraperhose/internal/admission"
	"github.com/JakeFAU/scraperhose/internal/metrics"
	"github.com/JakeFAU/scraperhose/internal/orchestrator"
	"github.com/JakeFAU/scraperhose/internal/sampler"
	"github.com/JakeFAU/scraperhose/internal/stats"
)

// Tiers reads and switches the admission tier.
type Tiers interface {
	Tier() admission.Tier
	SetTier(admission.Tier) error
	Ceiling() int
	InFlight() int
}

// StatsSource returns the rolling counters.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// ResourceSource returns the latest resource sample.
type ResourceSource interface {
	Snapshot() sampler.Resources
}

// StatusSource returns run progress.
type StatusSource interface {
	Status() orchestrator.Status
}

// Deps are the read models behind the routes. Resources, Metrics and Logger are optional.
type Deps struct {
	Tiers     Tiers
	Stats     StatsSource
	Resources ResourceSource
	Status    StatusSource
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	// APIKey protects /v1 when non-empty.
	APIKey string
}

// Server wires HTTP handlers to the running pipeline.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/healthz", s.healthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Route("/v1", func(r chi.Router) {
		if deps.APIKey != "" {
			r.Use(apiKeyMiddleware(deps.APIKey))
		}
		r.Get("/stats", s.getStats)
		r.Get("/tier", s.getTier)
		r.Put("/tier/{name}", s.putTier)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Stats          stats.Snapshot       `json:"stats"`
	ElapsedSeconds float64              `json:"elapsed_seconds"`
	Resources      *sampler.Resources   `json:"resources,omitempty"`
	Run            *orchestrator.Status `json:"run,omitempty"`
	Tier           tierResponse         `json:"tier"`
}

type tierResponse struct {
	Name     string `json:"name"`
	Ceiling  int    `json:"ceiling"`
	InFlight int    `json:"in_flight"`
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Stats.Snapshot()
	resp := statsResponse{
		Stats:          snap,
		ElapsedSeconds: snap.Elapsed.Seconds(),
		Tier:           s.tier(),
	}
	if s.deps.Resources != nil {
		res := s.deps.Resources.Snapshot()
		resp.Resources = &res
	}
	if s.deps.Status != nil {
		st := s.deps.Status.Status()
		resp.Run = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getTier(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tier())
}

func (s *Server) putTier(w http.ResponseWriter, r *http.Request) {
	tier, err := admission.ParseTier(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Tiers.SetTier(tier); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("tier changed via api", zap.String("tier", tier.String()))
	writeJSON(w, http.StatusOK, s.tier())
}

func (s *Server) tier() tierResponse {
	return tierResponse{
		Name:     s.deps.Tiers.Tier().String(),
		Ceiling:  s.deps.Tiers.Ceiling(),
		InFlight: s.deps.Tiers.InFlight(),
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
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
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
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
