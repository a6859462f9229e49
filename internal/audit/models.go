// Package audit persists the append-only event history.
//
// Every accepted event writes exactly one raw row before evaluation starts.
// Each attempted delivery writes exactly one transformed row after the
// dispatch completes, successful or not. Filtered-out events write no
// transformed row. Rows are never updated or deleted; deleting a webhook
// keeps its history.
package audit

import "time"

type (
	// RawEvent - Domain Model
	//
	// RawEvent is the payload exactly as it arrived on an ingress path,
	// recorded before any evaluation runs.
	RawEvent struct {
		// ID uniquely identifies the event and is returned to the caller.
		ID string

		// ReceivedAt is when the gateway accepted the event (UTC).
		ReceivedAt time.Time

		// SourcePath is the ingress path the event arrived on.
		SourcePath string

		// Payload is the raw JSON document as received.
		Payload []byte

		// Headers holds the inbound request headers kept for audit. They
		// are never forwarded to the destination.
		Headers map[string]string
	}

	// TransformedEvent - Domain Model
	//
	// TransformedEvent is the outcome record of one delivery attempt.
	TransformedEvent struct {
		// ID uniquely identifies the record.
		ID string

		// RawEventID references the raw event this attempt belongs to.
		RawEventID string

		// WebhookID names the webhook that handled the event. The webhook
		// may have been deleted since; the reference is not enforced.
		WebhookID string

		// DestinationURL is where the payload was sent.
		DestinationURL string

		// Payload is the transformed JSON document. Empty when evaluation
		// failed before a payload existed.
		Payload []byte

		// Success is true when the destination answered with a 2xx status.
		Success bool

		// ResponseCode is the HTTP status returned, or 0 when the request
		// never completed or evaluation failed.
		ResponseCode int

		// ResponseBody holds the truncated destination response, or the
		// error text for failed attempts.
		ResponseBody string

		// CreatedAt is when the attempt finished (UTC).
		CreatedAt time.Time
	}

	// EventSummary - Query Model
	//
	// EventSummary is one line of the recent-events listing: a raw event
	// joined to its latest delivery outcome. Success and ResponseCode are
	// nil when no delivery was attempted, which covers filtered events and
	// events still in flight.
	EventSummary struct {
		// ID is the raw event id.
		ID string

		// ReceivedAt is when the gateway accepted the event (UTC).
		ReceivedAt time.Time

		// SourcePath is the ingress path the event arrived on.
		SourcePath string

		// Success reports the latest delivery outcome, nil when none exists.
		Success *bool

		// ResponseCode is the latest delivery's HTTP status, nil when no
		// delivery exists.
		ResponseCode *int
	}

	// EventDetail - Query Model
	//
	// EventDetail pairs a raw event with every delivery attempt recorded
	// for it.
	EventDetail struct {
		// Raw is the stored raw event.
		Raw RawEvent

		// Transforms lists the delivery attempts, oldest first. Empty for
		// filtered events.
		Transforms []TransformedEvent
	}

	// Stats - Query Model
	//
	// Stats is the gateway-wide rollup served to operators.
	Stats struct {
		// WebhookCount is the number of registered webhooks.
		WebhookCount int

		// RawEventCount is the number of events ever accepted.
		RawEventCount int

		// TransformedEventCount is the number of delivery attempts ever
		// recorded.
		TransformedEventCount int

		// Webhooks holds the per-webhook delivery rollups.
		Webhooks []WebhookStats
	}

	// WebhookStats - Query Model
	//
	// WebhookStats aggregates the delivery history of one webhook.
	WebhookStats struct {
		// WebhookID names the webhook, possibly deleted since.
		WebhookID string

		// TotalEvents is the number of delivery attempts recorded.
		TotalEvents int

		// Successes is the number of attempts with a 2xx response.
		Successes int

		// Failures is TotalEvents minus Successes.
		Failures int

		// SuccessRate is Successes over TotalEvents, in [0, 1].
		SuccessRate float64

		// LastEventAt is when the most recent attempt finished (UTC).
		LastEventAt time.Time
	}
)
