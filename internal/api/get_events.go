package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hookgate-io/hookgate/internal/audit"
)

// handleListEvents handles the recent event listing.
// GET /events?limit=N - Recent raw events joined to their latest delivery outcome
//
// Query parameters:
//   - limit: maximum rows to return, clamped to [1, 1000], default 100
//
// Events are listed newest first. Success and response_code are null for
// events without a recorded delivery (filtered events).
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, problem := parseLimitParam(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	events, err := s.audit.RecentEvents(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err, "list events")

		return
	}

	summaries := make([]EventSummaryResponse, 0, len(events))
	for i := range events {
		summaries = append(summaries, EventSummaryResponse{
			ID:           events[i].ID,
			Timestamp:    events[i].ReceivedAt,
			SourcePath:   events[i].SourcePath,
			Success:      events[i].Success,
			ResponseCode: events[i].ResponseCode,
		})
	}

	s.writeJSON(w, r, http.StatusOK, EventListResponse{
		Status: "success",
		Events: summaries,
	})
}

// handleEventDetail handles the single-event audit view.
// GET /event/{id}/transformed - One raw event with its delivery outcome
//
// The raw payload is returned exactly as it arrived. Transformed is null for
// filtered events; for failed evaluations it carries success=false, response
// code 0, and the engine's error text in response_body with a null payload.
//
// Responses:
//   - 200 OK: The event detail
//   - 404 Not Found: No raw event with the given id
func (s *Server) handleEventDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.audit.EventTransforms(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err, "load event")

		return
	}

	response := EventDetailResponse{
		ID:         detail.Raw.ID,
		Timestamp:  detail.Raw.ReceivedAt,
		SourcePath: detail.Raw.SourcePath,
		RawPayload: rawJSON(detail.Raw.Payload),
	}

	// Transforms are ordered oldest first; show the latest attempt
	if n := len(detail.Transforms); n > 0 {
		response.Transformed = mapTransformedEvent(&detail.Transforms[n-1])
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

// handleStats handles the gateway-wide rollup.
// GET /stats - Counts and per-webhook delivery success rates
//
// Webhook ids in the rollup may belong to deleted webhooks; event history
// survives deletion.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.audit.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err, "load stats")

		return
	}

	rates := make([]WebhookRateSummary, 0, len(stats.Webhooks))
	for i := range stats.Webhooks {
		rates = append(rates, WebhookRateSummary{
			WebhookID:    stats.Webhooks[i].WebhookID,
			TotalEvents:  stats.Webhooks[i].TotalEvents,
			SuccessCount: stats.Webhooks[i].Successes,
			FailureCount: stats.Webhooks[i].Failures,
			SuccessRate:  stats.Webhooks[i].SuccessRate,
			LastEventAt:  stats.Webhooks[i].LastEventAt,
		})
	}

	s.writeJSON(w, r, http.StatusOK, StatsResponse{
		Status:                "success",
		WebhookCount:          stats.WebhookCount,
		RawEventCount:         stats.RawEventCount,
		TransformedEventCount: stats.TransformedEventCount,
		WebhookSuccessRates:   rates,
	})
}

// parseLimitParam extracts the optional limit query parameter. Zero means
// "not supplied"; the audit store applies its default and clamps the range.
func parseLimitParam(r *http.Request) (int, *ProblemDetail) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, BadRequest("The limit parameter must be an integer")
	}

	return limit, nil
}

// mapTransformedEvent converts a recorded delivery attempt to its API
// representation.
func mapTransformedEvent(transform *audit.TransformedEvent) *TransformedEventResponse {
	return &TransformedEventResponse{
		ID:             transform.ID,
		WebhookID:      transform.WebhookID,
		Timestamp:      transform.CreatedAt,
		Payload:        rawJSON(transform.Payload),
		DestinationURL: transform.DestinationURL,
		Success:        transform.Success,
		ResponseCode:   transform.ResponseCode,
		ResponseBody:   transform.ResponseBody,
	}
}

// rawJSON embeds a stored JSON document verbatim, mapping the empty document
// to JSON null so failed evaluations serialize as "payload": null.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}

	return json.RawMessage(b)
}
