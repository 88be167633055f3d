// Package api exposes the coordinator over HTTP.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crewmesh/crewmesh/internal/auth"
	"github.com/crewmesh/crewmesh/internal/coordinator"
	"github.com/crewmesh/crewmesh/internal/metrics"
	"github.com/crewmesh/crewmesh/pkg/config"
)

// Server is the HTTP API server
type Server struct {
	coordinator *coordinator.Coordinator
	config      *config.Config
	auth        *auth.Manager
	metrics     *metrics.Metrics
	events      *eventHub
}

// NewServer creates an API server wired to the coordinator.
func NewServer(coord *coordinator.Coordinator, cfg *config.Config) *Server {
	s := &Server{
		coordinator: coord,
		config:      cfg,
		auth:        auth.NewManager(cfg.Server.AuthSecret),
		metrics:     metrics.NewMetrics(),
		events:      newEventHub(),
	}
	coord.Trail().AddHandler(s.events.broadcast)
	return s
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	// Tasks and outcomes
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/tasks/batch", s.handleTaskBatch)
	mux.HandleFunc("/api/v1/outcomes", s.handleOutcomes)

	// Agents
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agents/", s.handleAgent)

	// Reports
	mux.HandleFunc("/api/v1/workload", s.handleWorkload)
	mux.HandleFunc("/api/v1/insights", s.handleInsights)

	// Learning
	mux.HandleFunc("/api/v1/patterns", s.handlePatterns)
	mux.HandleFunc("/api/v1/failures", s.handleFailures)
	mux.HandleFunc("/api/v1/improvements", s.handleImprovements)
	mux.HandleFunc("/api/v1/improvements/generate", s.handleGenerateImprovements)

	// Messaging
	mux.HandleFunc("/api/v1/messages", s.handleSendMessage)
	mux.HandleFunc("/api/v1/messages/", s.handleReadMessages)

	// Audit trail
	mux.HandleFunc("/api/v1/audit", s.handleAudit)

	// Observability
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/events", s.handleEvents)

	handler := s.loggingMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.authMiddleware(handler)
	return handler
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware records request metrics and logs failures.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/events" {
			// The websocket upgrade hijacks the connection.
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path,
			strconv.Itoa(rec.status), time.Since(start).Seconds())
		if rec.status >= http.StatusInternalServerError {
			log.Printf("[API] %s %s -> %d", r.Method, r.URL.Path, rec.status)
		}
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces bearer-token auth when a secret is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() ||
			r.URL.Path == "/api/v1/health" ||
			r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := s.auth.ValidateToken(token); err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses JSON request body
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractID extracts the trailing path element after prefix.
func (s *Server) extractID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.Trim(id, "/")
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i]
	}
	return id
}
