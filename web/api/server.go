// Package api serves checkpointed results, live attempt progress and
// Prometheus metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/swe-orchestrator/internal/checkpoint"
	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/observer"
)

// ResultStore is the read side of the checkpoint store
type ResultStore interface {
	Get(strategy domain.Strategy, instanceID string) (domain.SolveResult, bool, error)
	All(strategy domain.Strategy) ([]domain.SolveResult, error)
}

// RunLister is implemented by stores that keep batch run history
type RunLister interface {
	ListRuns(limit int) ([]checkpoint.RunRecord, error)
}

// Server is the HTTP API server
type Server struct {
	store    ResultStore
	observer *observer.Observer
	addr     string
	mux      *http.ServeMux
	hub      *Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer creates a new API server. obs may be nil when no batch runs in-process.
func NewServer(store ResultStore, obs *observer.Observer, addr string) *Server {
	s := &Server{
		store:    store,
		observer: obs,
		addr:     addr,
		mux:      http.NewServeMux(),
		hub:      NewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: slog.Default().With("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/results", s.listResultsHandler())
	s.mux.HandleFunc("/api/results/", s.getResultHandler())
	s.mux.HandleFunc("/api/strategies", s.strategiesHandler())
	s.mux.HandleFunc("/api/attempts", s.attemptsHandler())
	s.mux.HandleFunc("/api/runs", s.runsHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
	s.mux.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the routes, mostly for tests
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Broadcast sends an event to all stream clients
func (s *Server) Broadcast(event Event) {
	s.hub.Broadcast(event)
}

// OnResult publishes a finished attempt; it has the runner.ResultCallback shape
func (s *Server) OnResult(res domain.SolveResult) {
	s.Broadcast(Event{Type: EventResult, Data: resultToResponse(res, false)})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
