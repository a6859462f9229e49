package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hookgate-io/hookgate/internal/api/middleware"
	"github.com/hookgate-io/hookgate/internal/catalog"
	"github.com/hookgate-io/hookgate/internal/evaluate"
	"github.com/hookgate-io/hookgate/internal/metrics"
)

// handleIngress handles webhook event ingestion.
// POST /{path...} - Accept an event on a registered source path
//
// The pipeline runs synchronously: resolve the webhook, record the raw
// event, evaluate the filter and transform, dispatch, record the outcome.
// The raw event is durable before any operator SQL runs, so replay and audit
// survive bad transforms and dead destinations.
//
// Request validation:
//   - 404 Not Found: No active webhook on this path. Inactive webhooks are
//     indistinguishable from unregistered paths on purpose.
//   - 413 Payload Too Large: Body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body or a body that is not valid JSON
//
// Accepted events always return 200 with an outcome body:
//   - {"status":"success","event_id":...} - evaluated and delivery attempted
//     (the delivery outcome itself lives in the audit log)
//   - {"status":"filtered","event_id":...} - the filter rejected the event,
//     nothing was dispatched
//   - {"status":"error","event_id":...,"detail":...} - the operator's SQL
//     failed; the raw event is retained and a failure outcome recorded
func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())
	sourcePath := r.URL.Path

	webhook, err := s.catalog.GetWebhookByPath(r.Context(), sourcePath)
	if err != nil {
		if errors.Is(err, catalog.ErrWebhookNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("No webhook is registered for this path"))

			return
		}

		s.writeDomainError(w, r, err, "resolve ingress path")

		return
	}

	if !webhook.Active {
		WriteErrorResponse(w, r, s.logger, NotFound("No webhook is registered for this path"))

		return
	}

	payload, problem := s.readEventPayload(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	// The raw event is recorded before evaluation; everything after this
	// point answers 200 because the event has been accepted.
	eventID := uuid.NewString()

	if err := s.audit.RecordRawEvent(r.Context(), eventID, sourcePath, payload, flattenHeaders(r.Header)); err != nil {
		s.writeDomainError(w, r, err, "record event")

		return
	}

	metrics.EventsReceived.WithLabelValues(sourcePath).Inc()

	result, err := s.evaluator.Evaluate(r.Context(), webhook.TransformQuery, webhook.FilterQuery, payload)
	if err != nil {
		if !errors.Is(err, evaluate.ErrEvaluation) {
			// Engine trouble, not a bad webhook definition
			s.writeDomainError(w, r, err, "evaluate event")

			return
		}

		s.finishFailedEvaluation(w, r, webhook, eventID, err)

		return
	}

	if result.Filtered {
		metrics.EventsFiltered.WithLabelValues(sourcePath).Inc()

		s.logger.Info("Event filtered",
			slog.String("correlation_id", correlationID),
			slog.String("event_id", eventID),
			slog.String("source_path", sourcePath),
			slog.Duration("duration", time.Since(startTime)),
		)

		s.writeJSON(w, r, http.StatusOK, IngressResponse{Status: "filtered", EventID: eventID})

		return
	}

	outcome := s.dispatcher.Dispatch(r.Context(), webhook.DestinationURL, result.Payload)

	err = s.audit.RecordTransformedEvent(
		r.Context(), eventID, webhook.ID, webhook.DestinationURL,
		result.Payload, outcome.Success, outcome.StatusCode, outcome.ResponseBody,
	)
	if err != nil {
		// The delivery already happened; losing its record is log-worthy but
		// not a reason to fail the sender
		s.logger.Error("Failed to record delivery outcome",
			slog.String("correlation_id", correlationID),
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Event processed",
		slog.String("correlation_id", correlationID),
		slog.String("event_id", eventID),
		slog.String("source_path", sourcePath),
		slog.String("webhook_id", webhook.ID),
		slog.Bool("delivered", outcome.Success),
		slog.Int("destination_status", outcome.StatusCode),
		slog.Duration("dispatch_duration", outcome.Duration),
		slog.Duration("duration", time.Since(startTime)),
	)

	s.writeJSON(w, r, http.StatusOK, IngressResponse{Status: "success", EventID: eventID})
}

// finishFailedEvaluation records the failure outcome for an event whose
// filter or transform SQL raised an error: a transformed row with success
// false, response code 0, the engine's message in the response-body column,
// and no payload.
func (s *Server) finishFailedEvaluation(w http.ResponseWriter, r *http.Request, webhook *catalog.Webhook, eventID string, evalErr error) {
	metrics.EventsFailed.WithLabelValues(webhook.SourcePath).Inc()

	err := s.audit.RecordTransformedEvent(
		r.Context(), eventID, webhook.ID, webhook.DestinationURL,
		nil, false, 0, evalErr.Error(),
	)
	if err != nil {
		s.logger.Error("Failed to record evaluation failure",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Warn("Event evaluation failed",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("event_id", eventID),
		slog.String("source_path", webhook.SourcePath),
		slog.String("webhook_id", webhook.ID),
		slog.String("error", evalErr.Error()),
	)

	s.writeJSON(w, r, http.StatusOK, IngressResponse{
		Status:  "error",
		EventID: eventID,
		Detail:  evalErr.Error(),
	})
}

// readEventPayload reads and validates an ingress request body.
//
// Senders set all kinds of Content-Type values, so the header is not
// enforced; what matters is that the body parses as JSON, because the
// evaluator feeds it to the engine's JSON functions.
func (s *Server) readEventPayload(r *http.Request) ([]byte, *ProblemDetail) {
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		return nil, BadRequest("Failed to read request body: " + err.Error())
	}

	if len(payload) == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	if !json.Valid(payload) {
		return nil, BadRequest("Request body must be valid JSON")
	}

	return payload, nil
}

// flattenHeaders converts request headers to the single-value map stored in
// the audit log. Multi-valued headers are joined with a comma, matching how
// proxies merge them.
func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))

	for name, values := range header {
		flat[name] = strings.Join(values, ", ")
	}

	return flat
}

// handleEchoWebhook handles the built-in test destination.
// POST /echo-webhook - Reflect a payload back with a receipt timestamp
//
// Operators point a webhook's destination_url at this endpoint to exercise
// the full pipeline without standing up a receiver. The body is echoed
// verbatim when it is valid JSON.
func (s *Server) handleEchoWebhook(w http.ResponseWriter, r *http.Request) {
	payload, problem := s.readEventPayload(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	s.writeJSON(w, r, http.StatusOK, EchoResponse{
		Status:     "success",
		Message:    "Echo webhook received your payload",
		ReceivedAt: time.Now().UTC(),
		Payload:    payload,
	})
}
