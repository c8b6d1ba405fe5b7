// Package health provides HTTP endpoints for health checks, connection
// status, and Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health status values.
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// Checker is a function that checks the health of a component.
// Returns an error if the component is unhealthy.
type Checker func(ctx context.Context) error

// ComponentStatus represents the health status of a component.
type ComponentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Response represents a health check response.
type Response struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// ConnectionStatus is one active connection as reported by /connections.
type ConnectionStatus struct {
	Name        string `json:"name"`
	Home        string `json:"home"`
	Filesystems int    `json:"filesystems"`
	Terminals   int    `json:"terminals"`
}

// Status is the payload of the /connections endpoint.
type Status struct {
	Active  []ConnectionStatus `json:"active"`
	Pending []string           `json:"pending"`
}

// StatusFunc supplies the current connection status; wired to the
// connection manager by the daemon.
type StatusFunc func() Status

// Server provides /health, /ready, /connections, and /metrics endpoints.
type Server struct {
	port    int
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	timeout time.Duration
	status  StatusFunc

	mu       sync.RWMutex
	checkers map[string]Checker
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout sets the timeout for health checks.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// WithStatus wires the /connections endpoint to a status source.
func WithStatus(fn StatusFunc) Option {
	return func(s *Server) {
		s.status = fn
	}
}

// New creates a new health server on the specified port.
func New(port int, opts ...Option) *Server {
	s := &Server{
		port:     port,
		mux:      http.NewServeMux(),
		logger:   slog.Default(),
		timeout:  5 * time.Second,
		checkers: make(map[string]Checker),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// RegisterChecker adds a health checker for the /ready endpoint.
func (s *Server) RegisterChecker(name string, checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
	s.logger.Debug("registered health checker", slog.String("name", name))
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/connections", s.handleConnections)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Response{Status: "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var components []ComponentStatus
	allHealthy := true

	for name, checker := range checkers {
		status := ComponentStatus{Name: name, Healthy: true}
		if err := checker(ctx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			allHealthy = false
			s.logger.Warn("health check failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
		}
		components = append(components, status)
	}

	w.Header().Set("Content-Type", "application/json")

	resp := Response{Components: components}
	if allHealthy {
		resp.Status = StatusReady
		w.WriteHeader(http.StatusOK)
	} else {
		resp.Status = StatusNotReady
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.status == nil {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(Status{})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s.status())
}

// Start starts the health server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("health server starting", slog.Int("port", s.port))
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("health server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
