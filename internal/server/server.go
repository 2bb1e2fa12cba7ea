// Package server exposes the diagnostics HTTP endpoints: liveness,
// connection status, and Prometheus metrics. It is optional and serves no
// provider-facing traffic.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/HerbHall/pushlink/internal/listener"
	"github.com/HerbHall/pushlink/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatusSource reports the listener's current state. Satisfied by
// *listener.Listener.
type StatusSource interface {
	Status() listener.Status
}

// Server is the diagnostics HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New creates the diagnostics server on addr.
func New(addr string, source StatusSource, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /status", handleStatus(source))
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving. Blocks until Shutdown or a listen failure.
func (s *Server) Start() error {
	s.logger.Info("diagnostics server listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Short(),
	})
}

// handleStatus reports the connection state machine. A fatal diagnostic
// (credentials or registration failure needing operator action) is
// reported as 503 so orchestrators surface it.
func handleStatus(source StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := source.Status()
		w.Header().Set("Content-Type", "application/json")
		if status.Fatal {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	}
}
