// Package api provides the HTTP API server for the webhook gateway.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hookgate-io/hookgate/internal/api/middleware"
	"github.com/hookgate-io/hookgate/internal/metrics"
)

const (
	healthCheckTimeout     = 2 * time.Second
	expectedURLParts       = 2
	contentTypeProblemJSON = "application/problem+json"
	contentTypeJSON        = "application/json"

	serviceName    = "hookgate"
	serviceVersion = "v1.0.0" // TODO: inject via ldflags once release builds exist
	versionHeader  = "X-Hookgate-Version"
)

type (
	// Version represents the API version response structure.
	Version struct {
		Version     string `json:"version"`
		ServiceName string `json:"serviceName"`
		BuildInfo   string `json:"buildInfo,omitempty"`
	}
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with middleware bypass support.
	Route struct {
		Path    string           // The URL path for this route (e.g., "/ping", "/webhooks")
		Handler http.HandlerFunc // The HTTP handler function for this route
	}
)

// setupRoutes sets up all HTTP routes for the API server.
//
// Three route classes share the mux. Public health endpoints bypass
// authentication and rate limiting. Admin endpoints carry the operator API
// key. Everything else falling into the POST catch-all is webhook ingress,
// resolved against registered source paths; literal admin patterns win
// precedence over the catch-all under Go 1.22 routing rules.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /ready", s.handleReady},   // K8s readiness probe
		Route{"GET /health", s.handleHealth}, // Basic health check - status, uptime, version
		Route{"/", s.handleNotFound},         // Catch-all handler for 404 responses
	)

	// Prometheus scrape endpoint
	mux.Handle("GET /metrics", metrics.Handler())
	middleware.RegisterPublicEndpoint("/metrics")

	// Webhook definition endpoints
	s.registerAdminRoutes(
		mux,
		Route{"POST /register", s.handleRegisterWebhook},
		Route{"GET /webhooks", s.handleListWebhooks},
		Route{"GET /webhook/{id}", s.handleGetWebhook},
		Route{"PUT /webhook/{id}", s.handleUpdateWebhook},
		Route{"PATCH /webhook/{id}/status", s.handleSetWebhookStatus},
		Route{"DELETE /webhook/{id}", s.handleDeleteWebhook},
	)

	// Artifact endpoints: reference tables and user-defined functions
	s.registerAdminRoutes(
		mux,
		Route{"POST /upload_table", s.handleUploadTable},
		Route{"GET /reference_tables", s.handleListReferenceTables},
		Route{"GET /reference_tables/{webhookID}", s.handleListReferenceTables},
		Route{"DELETE /reference_table/{id}", s.handleDeleteReferenceTable},
		Route{"POST /register_udf", s.handleRegisterUDF},
		Route{"GET /udfs", s.handleListUDFs},
		Route{"GET /udfs/{webhookID}", s.handleListUDFs},
		Route{"DELETE /udf/{id}", s.handleDeleteUDF},
	)

	// Observability and tooling endpoints
	s.registerAdminRoutes(
		mux,
		Route{"GET /stats", s.handleStats},
		Route{"GET /events", s.handleListEvents},
		Route{"GET /event/{id}/transformed", s.handleEventDetail},
		Route{"POST /query", s.handleQuery},
	)

	// The echo destination is deliberately unauthenticated: the dispatcher
	// sends no API key, and the whole point is serving as a destination_url.
	// It classifies as ingress, so per-path rate limiting still applies. The
	// path segment is reserved at webhook registration.
	mux.HandleFunc("POST /echo-webhook", s.handleEchoWebhook)

	// Ingress catch-all: any POST not claimed by a literal pattern above is
	// resolved against registered webhook source paths.
	mux.HandleFunc("POST /{path...}", s.handleIngress)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and rate limiting.
// This is a convenience method that:
//  1. Registers the route handler with the HTTP mux
//  2. Automatically registers the path as a public endpoint (bypasses auth middleware)
//
// Public routes should only be used for health check endpoints that need to be accessible
// without authentication (e.g., K8s liveness/readiness probes, monitoring tools).
//
// Security Warning: Never register business logic endpoints as public routes.
//
// Example:
//
//	s.registerPublicRoutes(
//	    mux,
//	    Route{"/ping", s.handlePing},
//	    Route{"/health", s.handleHealth},
//	)
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		path := routePath(route.Path)
		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		// Always register (handles both "GET /ping" and "/" formats)
		middleware.RegisterPublicEndpoint(path)
	}
}

// registerAdminRoutes registers HTTP routes that require the operator API
// key. The first path segment of each route is recorded with the middleware
// so the auth and rate-limit layers classify requests to it as admin traffic;
// the same segments are reserved at webhook registration, which keeps ingress
// paths and admin paths from ever overlapping.
func (s *Server) registerAdminRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		path := routePath(route.Path)
		if path == "" || path == "/" {
			s.logger.Warn("Malformed admin route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		segment := strings.TrimPrefix(path, "/")
		if idx := strings.IndexByte(segment, '/'); idx != -1 {
			segment = segment[:idx]
		}

		middleware.RegisterAdminSegment(segment)
	}
}

// routePath strips the method prefix from a Go 1.22 route pattern.
// Registration patterns use "GET /path" format but r.URL.Path is just
// "/path", so middleware bookkeeping needs the bare path.
func routePath(pattern string) string {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	parts := strings.Fields(pattern)
	if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
		return strings.TrimSpace(parts[1])
	}

	return pattern
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set(versionHeader, serviceVersion)
	w.WriteHeader(http.StatusOK)

	_, err := w.Write([]byte("pong"))
	if err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to Kubernetes readiness probes with a storage engine health check.
//
// Response codes:
//   - 200 OK: The engine answers queries and the pod can accept traffic
//   - 503 Service Unavailable: The engine is unhealthy or unreachable
//
// K8s readiness probes use this endpoint to determine if the pod should receive traffic.
// If this endpoint returns 503, K8s will stop routing requests to the pod until it recovers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	// If no engine is wired, report ready so the pod is not restart-looped
	// while running degraded (tests construct servers without storage)
	if s.engine == nil {
		s.logger.Warn("Storage engine not configured - readiness check disabled",
			slog.String("correlation_id", correlationID),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)

		_, err := w.Write([]byte("ready"))
		if err != nil {
			s.logger.Error("Failed to write ready response",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	// Create context with 2-second timeout for storage health check
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.engine.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		// Return 503 Service Unavailable if the engine is unhealthy
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)

		_, writeErr := w.Write([]byte("storage unavailable"))
		if writeErr != nil {
			s.logger.Error("Failed to write unavailable response",
				slog.String("correlation_id", correlationID),
				slog.String("error", writeErr.Error()),
			)
		}

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	_, err := w.Write([]byte("ready"))
	if err != nil {
		s.logger.Error("Failed to write ready response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	// Calculate uptime if server has started
	var uptime string

	if !s.startTime.IsZero() {
		duration := time.Since(s.startTime)
		uptime = duration.Round(time.Second).String()
	}

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     serviceVersion,
		Uptime:      uptime,
	}

	data, err := json.Marshal(health)
	if err != nil {
		s.logger.Error("Failed to encode health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode health response"))

		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set(versionHeader, serviceVersion)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals a response body and writes it with the given status.
// Marshal failures become RFC 7807 500 responses; write failures after the
// header is sent can only be logged.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
