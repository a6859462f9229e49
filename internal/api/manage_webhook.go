package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/hookgate-io/hookgate/internal/api/middleware"
	"github.com/hookgate-io/hookgate/internal/catalog"
)

// handleUpdateWebhook handles webhook replacement.
// PUT /webhook/{id} - Replace the mutable fields of an existing webhook
//
// The request body is the same shape as POST /register and runs the same
// validation pipeline, including dry validation of the new SQL. The Active
// flag is not touched here; use PATCH /webhook/{id}/status.
//
// Responses:
//   - 200 OK: The updated definition
//   - 400 Bad Request: Rejected definition
//   - 404 Not Found: No webhook with the given id
//   - 409 Conflict: The new source path belongs to a different webhook
func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	req, problem := s.parseRegistrationRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	webhook, err := s.catalog.UpdateWebhook(r.Context(), r.PathValue("id"), catalog.Registration{
		SourcePath:     req.SourcePath,
		DestinationURL: req.DestinationURL,
		TransformQuery: req.TransformQuery,
		FilterQuery:    req.FilterQuery,
		Owner:          req.Owner,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "update webhook")

		return
	}

	s.logger.Info("Webhook updated",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("webhook_id", webhook.ID),
		slog.String("source_path", webhook.SourcePath),
	)

	s.writeJSON(w, r, http.StatusOK, mapWebhookToDetail(webhook))
}

// handleSetWebhookStatus handles delivery toggling.
// PATCH /webhook/{id}/status - Switch a webhook's delivery on or off
//
// Request body: {"active": true|false}. Inactive webhooks refuse ingress
// traffic with 404 but stay fully visible to admin calls.
//
// Responses:
//   - 200 OK: The definition with the new Active value
//   - 400 Bad Request: Missing or malformed active field
//   - 404 Not Found: No webhook with the given id
func (s *Server) handleSetWebhookStatus(w http.ResponseWriter, r *http.Request) {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var req SetStatusRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	if req.Active == nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("The active field is required"))

		return
	}

	webhook, err := s.catalog.SetActive(r.Context(), r.PathValue("id"), *req.Active)
	if err != nil {
		s.writeDomainError(w, r, err, "update webhook status")

		return
	}

	s.writeJSON(w, r, http.StatusOK, mapWebhookToDetail(webhook))
}

// handleDeleteWebhook handles webhook removal.
// DELETE /webhook/{id} - Delete a webhook and everything attached to it
//
// The installer drops the webhook's physical reference tables, unbinds its
// scalar functions, removes the artifact metadata, and finally deletes the
// webhook row. Recorded events are retained; their webhook_id keeps pointing
// at the deleted id for the audit trail.
//
// Responses:
//   - 200 OK: Deleted
//   - 404 Not Found: No webhook with the given id
func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.installer.DeleteWebhook(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err, "delete webhook")

		return
	}

	s.logger.Info("Webhook deleted",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("webhook_id", id),
	)

	s.writeJSON(w, r, http.StatusOK, DeleteResponse{
		Status:  "success",
		Message: "Webhook deleted",
	})
}
