package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - live tail of one session
	mux.HandleFunc(tailPath, s.app.TailHandler.HandleWebSocket)

	// API routes - Client log ingestion (disabled in production)
	mux.HandleFunc("/api/logs", s.app.ClientLogsHandler.IngestHandler) // POST

	// API routes - Sessions
	mux.HandleFunc("/api/logs/sessions", s.app.ClientLogsHandler.ListSessionsHandler) // GET
	mux.HandleFunc("/api/logs/sessions/", s.handleSessionRoutes)                      // GET/DELETE /{id}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	// 404 handler for everything else
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleSessionRoutes routes /api/logs/sessions/{id} requests
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	RouteResourceItem(w, r,
		s.app.ClientLogsHandler.SessionLinesHandler,
		s.app.ClientLogsHandler.EvictSessionHandler,
	)
}
