package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/internal/metrics"
)

// Server represents the health check HTTP server
type Server struct {
	checker *Checker
	logger  logger.Logger
	port    int
	server  *http.Server
}

// NewServer creates a new health check server
func NewServer(checker *Checker, log logger.Logger, port int) *Server {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Server{
		checker: checker,
		logger:  log,
		port:    port,
	}
}

// Start starts the health check server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/health/stats", s.handleStats)
	mux.Handle("/metrics", metrics.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("Starting health check server", logger.Int("port", s.port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health check server error", logger.Error(err))
		}
	}()

	return nil
}

// Stop stops the health check server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth handles the main health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.checker.CheckAll()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// handleLiveness handles the liveness probe endpoint
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// handleReadiness handles the readiness probe endpoint. The bridge is
// ready when every peer link is connected.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := s.checker.CheckAll()

	ready := len(status.PeerStatus) > 0
	peers := make([]map[string]interface{}, 0, len(status.PeerStatus))
	for _, ph := range status.PeerStatus {
		if !ph.Connected {
			ready = false
		}
		peers = append(peers, map[string]interface{}{
			"name":      ph.Name,
			"connected": ph.Connected,
			"status":    ph.Status,
		})
	}

	response := map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"peers":     peers,
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		response["errors"] = status.Errors
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// handleStats serves the human-readable rolling summary of handshake,
// routing, and validation activity, distinct from the Prometheus scrape
// surface on /metrics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot := metrics.GetGlobalCollector().GetSnapshot()

	response := map[string]interface{}{
		"timestamp": snapshot.Timestamp.UTC().Format(time.RFC3339),
		"uptime":    snapshot.Uptime.String(),
		"counters": map[string]int64{
			"handshakes":         snapshot.HandshakeCount,
			"handshakes_failed":  snapshot.HandshakeFailed,
			"routed":             snapshot.RoutedCount,
			"routed_failed":      snapshot.RoutedFailed,
			"validations":        snapshot.ValidationCount,
			"validations_failed": snapshot.ValidationFailed,
		},
		"timings": map[string]interface{}{
			"avg_handshake_time_us": snapshot.AvgHandshakeTime,
			"avg_routing_time_us":   snapshot.AvgRoutingTime,
			"avg_validate_time_us":  snapshot.AvgValidateTime,
			"p95_handshake_time_us": snapshot.P95HandshakeTime,
			"p95_routing_time_us":   snapshot.P95RoutingTime,
			"p95_validate_time_us":  snapshot.P95ValidateTime,
		},
		"rates": map[string]float64{
			"routing_success_rate": snapshot.RoutingSuccessRate(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
