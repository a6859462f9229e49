package api

import (
	"net/http"
	"sort"

	"github.com/hookgate-io/hookgate/internal/catalog"
)

// handleListWebhooks handles the webhook list view.
// GET /webhooks - List all webhooks, active and inactive
//
// The SQL queries are omitted from the list; GET /webhook/{id} returns the
// full definition. Results are ordered most recently updated first.
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := s.catalog.ListWebhooks(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err, "list webhooks")

		return
	}

	// Most recently updated first
	sort.Slice(webhooks, func(i, j int) bool {
		return webhooks[i].UpdatedAt.After(webhooks[j].UpdatedAt)
	})

	summaries := make([]WebhookSummary, 0, len(webhooks))
	for i := range webhooks {
		summaries = append(summaries, mapWebhookToSummary(&webhooks[i]))
	}

	s.writeJSON(w, r, http.StatusOK, WebhookListResponse{
		Status:   "success",
		Webhooks: summaries,
	})
}

// handleGetWebhook handles the webhook detail view.
// GET /webhook/{id} - Full definition of one webhook
//
// Responses:
//   - 200 OK: The webhook definition including both SQL queries
//   - 404 Not Found: No webhook with the given id
func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := s.catalog.GetWebhook(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err, "load webhook")

		return
	}

	s.writeJSON(w, r, http.StatusOK, mapWebhookToDetail(webhook))
}

// mapWebhookToDetail converts a domain webhook to the full API representation.
func mapWebhookToDetail(webhook *catalog.Webhook) WebhookDetail {
	return WebhookDetail{
		ID:             webhook.ID,
		SourcePath:     webhook.SourcePath,
		DestinationURL: webhook.DestinationURL,
		TransformQuery: webhook.TransformQuery,
		FilterQuery:    webhook.FilterQuery,
		Owner:          webhook.Owner,
		Active:         webhook.Active,
		CreatedAt:      webhook.CreatedAt,
		UpdatedAt:      webhook.UpdatedAt,
	}
}

// mapWebhookToSummary converts a domain webhook to the list representation.
func mapWebhookToSummary(webhook *catalog.Webhook) WebhookSummary {
	return WebhookSummary{
		ID:             webhook.ID,
		SourcePath:     webhook.SourcePath,
		DestinationURL: webhook.DestinationURL,
		Owner:          webhook.Owner,
		Active:         webhook.Active,
		CreatedAt:      webhook.CreatedAt,
		UpdatedAt:      webhook.UpdatedAt,
	}
}
