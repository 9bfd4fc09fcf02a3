// Package api exposes the harness status surface: liveness, readiness,
// Prometheus metrics and the recorded stress runs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/events"
	"github.com/muzarski/scylla-cluster-tests/internal/results"
)

// Server serves the status endpoints while stress runs are in flight.
type Server struct {
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	registry   *prometheus.Registry
	store      results.Store
	bus        *events.SimpleBus
	startTime  time.Time
}

// NewServer wires the router. Store and bus may be nil; the matching
// endpoints then serve empty lists.
func NewServer(port int, registry *prometheus.Registry, store results.Store, bus *events.SimpleBus, logger *zap.Logger) *Server {
	s := &Server{
		logger:    logger,
		router:    chi.NewRouter(),
		registry:  registry,
		store:     store,
		bus:       bus,
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Get("/runs", s.handleRuns)
	s.router.Get("/events", s.handleEvents)
	s.router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// Router returns the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ready": true,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	records := []*results.RunRecord{}
	if s.store != nil {
		var err error
		records, err = s.store.ListRuns(r.Context())
		if err != nil {
			s.logger.Error("listing runs failed", zap.Error(err))
			s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error": "listing runs failed",
			})
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  records,
		"count": len(records),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	history := []events.Event{}
	if s.bus != nil {
		history = s.bus.History()
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": history,
		"count":  len(history),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("status server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
