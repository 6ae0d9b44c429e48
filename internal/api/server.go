// Package api exposes a small REST surface for controlling and observing the
// scrape workflow from outside the process.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/feedwrap/feedwrap/internal/observability"
	"github.com/feedwrap/feedwrap/internal/run"
	"github.com/feedwrap/feedwrap/internal/state"
	"github.com/feedwrap/feedwrap/internal/types"
)

// RunController is the interface the API uses to drive scrape runs.
type RunController interface {
	Start(ctx context.Context, handle string) error
	Resume(ctx context.Context) error
}

// Server provides a REST API over the workflow state and runner.
type Server struct {
	mux     *http.ServeMux
	port    int
	store   state.Store
	runner  RunController
	metrics *observability.Metrics
	logger  *slog.Logger

	running atomic.Bool
}

// NewServer creates an API server. The runner may be set later via SetRunner.
func NewServer(port int, store state.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		port:    port,
		store:   store,
		metrics: metrics,
		logger:  logger.With("component", "api_server"),
	}

	s.registerRoutes()
	return s
}

// SetRunner sets the run controller.
func (s *Server) SetRunner(r RunController) {
	s.runner = r
}

// Start starts the API server in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)

	go func() {
		if err := http.ListenAndServe(addr, s.mux); err != nil {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the underlying mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/results", s.handleResults)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	s.mux.HandleFunc("POST /api/scrape", s.handleScrape)
	s.mux.HandleFunc("POST /api/resume", s.handleResume)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"storage": s.store.Name(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.LoadState(r.Context())
	if err != nil {
		if errors.Is(err, types.ErrNoState) {
			s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": "no scrape state"})
			return
		}
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, st)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.LoadResults(r.Context())
	if err != nil {
		if errors.Is(err, types.ErrNoResults) {
			s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": "no results yet"})
			return
		}
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Handle string `json:"handle"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}

	s.launch(w, body.Handle, func(ctx context.Context) error {
		return s.runner.Start(ctx, body.Handle)
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.launch(w, "", func(ctx context.Context) error {
		return s.runner.Resume(ctx)
	})
}

// launch runs one workflow invocation in the background. Only one run may be
// in flight at a time.
func (s *Server) launch(w http.ResponseWriter, handle string, fn func(context.Context) error) {
	if s.runner == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "runner not initialized"})
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.jsonResponse(w, http.StatusConflict, map[string]string{"error": "a run is already in flight"})
		return
	}

	go func() {
		defer s.running.Store(false)
		if err := fn(context.Background()); err != nil {
			if run.IsDeclined(err) {
				s.logger.Info("run declined by operator")
				return
			}
			s.logger.Error("run failed", "error", err)
		}
	}()

	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"handle": handle,
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
