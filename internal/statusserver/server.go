package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/birrulwldain/jobwrap/pkg/logging"
)

// Phases published by the job runner
const (
	PhaseProvisioning = "provisioning"
	PhaseRunning      = "running"
	PhaseReporting    = "reporting"
	PhaseDone         = "done"
)

// Server exposes the run's metrics and phase while the job runs
type Server struct {
	jobID    string
	logger   *logging.Logger
	srv      *http.Server
	listener net.Listener
	phase    atomic.Value
	started  time.Time
}

// New creates a status server for addr. Nothing listens until Start.
func New(addr, jobID string, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	s := &Server{
		jobID:   jobID,
		logger:  logger,
		started: time.Now(),
	}
	s.phase.Store(PhaseProvisioning)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router(gatherer),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "healthy",
		"job_id":         s.jobID,
		"phase":          s.Phase(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// SetPhase publishes the runner's current phase
func (s *Server) SetPhase(phase string) {
	s.phase.Store(phase)
}

// Phase returns the last published phase
func (s *Server) Phase() string {
	return s.phase.Load().(string)
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("Status server berhenti", logging.Fields{"error": err.Error()})
		}
	}()

	s.logger.Info("Status server aktif", logging.Fields{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

// Shutdown stops the server, waiting for in-flight scrapes
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
