package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hookgate-io/hookgate/internal/api/middleware"
	"github.com/hookgate-io/hookgate/internal/catalog"
)

// handleRegisterWebhook handles webhook registration.
// POST /register - Register a new webhook endpoint
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body, invalid JSON, or a rejected definition
//     (bad source path, bad destination URL, missing {{payload}} placeholder,
//     SQL that fails dry validation)
//   - 409 Conflict: Another webhook already claims the source path
//
// Success response:
//   - 200 OK: The stored definition, active by default
func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	req, problem := s.parseRegistrationRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	webhook, err := s.catalog.RegisterWebhook(r.Context(), catalog.Registration{
		SourcePath:     req.SourcePath,
		DestinationURL: req.DestinationURL,
		TransformQuery: req.TransformQuery,
		FilterQuery:    req.FilterQuery,
		Owner:          req.Owner,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "register webhook")

		return
	}

	s.writeJSON(w, r, http.StatusOK, RegisterWebhookResponse{
		Status:  "success",
		Webhook: mapWebhookToDetail(webhook),
	})

	s.logger.Info("Webhook registration processed",
		slog.String("correlation_id", correlationID),
		slog.String("webhook_id", webhook.ID),
		slog.String("source_path", webhook.SourcePath),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// parseRegistrationRequest parses and validates the shared request body of
// POST /register and PUT /webhook/{id}. Returns the decoded request or a
// ProblemDetail if parsing fails. Field-level validation is the catalog's
// job; this only gets the JSON off the wire.
func (s *Server) parseRegistrationRequest(r *http.Request) (*RegisterWebhookRequest, *ProblemDetail) {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return nil, UnsupportedMediaType("Content-Type must be application/json")
	}

	// Request size check (optimization: fail fast for known oversized requests)
	// Allow unknown sizes (-1) or 0 (empty, caught later)
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	// Empty body check (better UX: specific error message)
	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var req RegisterWebhookRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&req); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	return &req, nil
}
