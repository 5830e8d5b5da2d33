package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/fireworks-tonight/internal/domain"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ResultProvider exposes the most recent aggregation. Latest returns nil
// until the first refresh cycle completes.
type ResultProvider interface {
	Latest() *domain.AggregatedResult
}

// Server exposes health, readiness, metrics, and event query HTTP endpoints.
type Server struct {
	httpServer *http.Server
	results    ResultProvider
	logger     *slog.Logger
}

// NewServer creates an HTTP server with operational and event query routes.
func NewServer(addr string, ready ReadinessChecker, results ResultProvider, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		results: results,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/events/count", s.handleCount)
	mux.HandleFunc("GET /api/events/closest", s.handleClosest)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	result := s.results.Latest()
	if result == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no aggregation available yet",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCount(w http.ResponseWriter, _ *http.Request) {
	result := s.results.Latest()
	if result == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no aggregation available yet",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":        result.Count,
		"generated_at": result.GeneratedAt,
	})
}

func (s *Server) handleClosest(w http.ResponseWriter, _ *http.Request) {
	result := s.results.Latest()
	if result == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no aggregation available yet",
		})
		return
	}
	if result.Closest == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no events within range",
		})
		return
	}
	writeJSON(w, http.StatusOK, result.Closest)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
