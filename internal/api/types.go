// Package api provides the HTTP API server for the webhook gateway.
package api

import (
	"encoding/json"
	"time"
)

type (
	// RegisterWebhookRequest represents the request body for POST /register
	// and PUT /webhook/{id}. FilterQuery and Owner are optional.
	RegisterWebhookRequest struct {
		SourcePath     string `json:"source_path"`               //nolint:tagliatelle
		DestinationURL string `json:"destination_url"`           //nolint:tagliatelle
		TransformQuery string `json:"transform_query"`           //nolint:tagliatelle
		FilterQuery    string `json:"filter_query,omitempty"`    //nolint:tagliatelle
		Owner          string `json:"owner,omitempty"`
	}

	// WebhookDetail represents a full webhook definition. It is the response
	// body for GET /webhook/{id}, PUT /webhook/{id}, and
	// PATCH /webhook/{id}/status, and the "webhook" field of the register
	// response.
	WebhookDetail struct {
		ID             string    `json:"id"`
		SourcePath     string    `json:"source_path"`      //nolint:tagliatelle
		DestinationURL string    `json:"destination_url"`  //nolint:tagliatelle
		TransformQuery string    `json:"transform_query"`  //nolint:tagliatelle
		FilterQuery    string    `json:"filter_query"`     //nolint:tagliatelle
		Owner          string    `json:"owner"`
		Active         bool      `json:"active"`
		CreatedAt      time.Time `json:"created_at"` //nolint:tagliatelle
		UpdatedAt      time.Time `json:"updated_at"` //nolint:tagliatelle
	}

	// RegisterWebhookResponse represents the response for POST /register.
	RegisterWebhookResponse struct {
		Status  string        `json:"status"`
		Webhook WebhookDetail `json:"webhook"`
	}

	// WebhookSummary represents a single webhook in the list view. The SQL
	// queries are omitted; use GET /webhook/{id} for the full definition.
	WebhookSummary struct {
		ID             string    `json:"id"`
		SourcePath     string    `json:"source_path"`     //nolint:tagliatelle
		DestinationURL string    `json:"destination_url"` //nolint:tagliatelle
		Owner          string    `json:"owner"`
		Active         bool      `json:"active"`
		CreatedAt      time.Time `json:"created_at"` //nolint:tagliatelle
		UpdatedAt      time.Time `json:"updated_at"` //nolint:tagliatelle
	}

	// WebhookListResponse represents the response for GET /webhooks,
	// most recently updated first.
	WebhookListResponse struct {
		Status   string           `json:"status"`
		Webhooks []WebhookSummary `json:"webhooks"`
	}

	// SetStatusRequest represents the request body for
	// PATCH /webhook/{id}/status. Active is a pointer so a missing field can
	// be told apart from an explicit false.
	SetStatusRequest struct {
		Active *bool `json:"active"`
	}

	// DeleteResponse represents the response for the DELETE endpoints.
	DeleteResponse struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
)

type (
	// UploadTableResponse represents the response for POST /upload_table.
	// SQLTableName is the engine-visible name callers write in their
	// transform and filter SQL.
	UploadTableResponse struct {
		Status       string `json:"status"`
		TableID      string `json:"table_id"`       //nolint:tagliatelle
		TableName    string `json:"table_name"`     //nolint:tagliatelle
		SQLTableName string `json:"sql_table_name"` //nolint:tagliatelle
		RowCount     int    `json:"row_count"`      //nolint:tagliatelle
	}

	// ReferenceTableSummary represents a single reference table in the list
	// view. Only metadata is returned; the rows live in the engine.
	ReferenceTableSummary struct {
		ID          string    `json:"id"`
		WebhookID   string    `json:"webhook_id"` //nolint:tagliatelle
		TableName   string    `json:"table_name"` //nolint:tagliatelle
		Description string    `json:"description"`
		CreatedAt   time.Time `json:"created_at"` //nolint:tagliatelle
	}

	// ReferenceTableListResponse represents the response for
	// GET /reference_tables and GET /reference_tables/{webhook_id}.
	ReferenceTableListResponse struct {
		Status          string                  `json:"status"`
		ReferenceTables []ReferenceTableSummary `json:"reference_tables"` //nolint:tagliatelle
	}

	// RegisterUDFResponse represents the response for POST /register_udf.
	// SQLFunctionName is the engine-visible name callers write in their
	// transform and filter SQL.
	RegisterUDFResponse struct {
		Status          string `json:"status"`
		UDFID           string `json:"udf_id"`            //nolint:tagliatelle
		FunctionName    string `json:"function_name"`     //nolint:tagliatelle
		SQLFunctionName string `json:"sql_function_name"` //nolint:tagliatelle
	}

	// UDFSummary represents a single user-defined function in the list view.
	UDFSummary struct {
		ID        string    `json:"id"`
		WebhookID string    `json:"webhook_id"` //nolint:tagliatelle
		Name      string    `json:"name"`
		Code      string    `json:"code"`
		CreatedAt time.Time `json:"created_at"` //nolint:tagliatelle
	}

	// UDFListResponse represents the response for GET /udfs and
	// GET /udfs/{webhook_id}.
	UDFListResponse struct {
		Status string       `json:"status"`
		UDFs   []UDFSummary `json:"udfs"`
	}
)

type (
	// IngressResponse represents the response for an accepted ingress event.
	// Status is "success" when the event was evaluated and a delivery attempt
	// recorded, "filtered" when the webhook's filter rejected it, and "error"
	// when evaluation failed (Detail carries the engine's message).
	IngressResponse struct {
		Status  string `json:"status"`
		EventID string `json:"event_id"` //nolint:tagliatelle
		Detail  string `json:"detail,omitempty"`
	}

	// EventSummaryResponse represents a single event in GET /events. Success
	// and ResponseCode are null when no delivery was attempted (filtered
	// events).
	EventSummaryResponse struct {
		ID           string    `json:"id"`
		Timestamp    time.Time `json:"timestamp"`
		SourcePath   string    `json:"source_path"` //nolint:tagliatelle
		Success      *bool     `json:"success"`
		ResponseCode *int      `json:"response_code"` //nolint:tagliatelle
	}

	// EventListResponse represents the response for GET /events, newest
	// first.
	EventListResponse struct {
		Status string                 `json:"status"`
		Events []EventSummaryResponse `json:"events"`
	}

	// EventDetailResponse represents the response for
	// GET /event/{id}/transformed. RawPayload is the stored document embedded
	// verbatim; Transformed is null when the event was filtered out.
	EventDetailResponse struct {
		ID          string                    `json:"id"`
		Timestamp   time.Time                 `json:"timestamp"`
		SourcePath  string                    `json:"source_path"` //nolint:tagliatelle
		RawPayload  json.RawMessage           `json:"raw_payload"` //nolint:tagliatelle
		Transformed *TransformedEventResponse `json:"transformed"`
	}

	// TransformedEventResponse represents the recorded outcome of one
	// delivery attempt. Payload is null when evaluation failed before a
	// payload existed.
	TransformedEventResponse struct {
		ID             string          `json:"id"`
		WebhookID      string          `json:"webhook_id"` //nolint:tagliatelle
		Timestamp      time.Time       `json:"timestamp"`
		Payload        json.RawMessage `json:"payload"`
		DestinationURL string          `json:"destination_url"` //nolint:tagliatelle
		Success        bool            `json:"success"`
		ResponseCode   int             `json:"response_code"` //nolint:tagliatelle
		ResponseBody   string          `json:"response_body"` //nolint:tagliatelle
	}

	// StatsResponse represents the response for GET /stats.
	StatsResponse struct {
		Status                string               `json:"status"`
		WebhookCount          int                  `json:"webhook_count"`           //nolint:tagliatelle
		RawEventCount         int                  `json:"raw_event_count"`         //nolint:tagliatelle
		TransformedEventCount int                  `json:"transformed_event_count"` //nolint:tagliatelle
		WebhookSuccessRates   []WebhookRateSummary `json:"webhook_success_rates"`   //nolint:tagliatelle
	}

	// WebhookRateSummary aggregates the delivery history of one webhook.
	// SuccessRate is in [0, 1]. The webhook may have been deleted since its
	// events were recorded; the id is kept for the audit trail.
	WebhookRateSummary struct {
		WebhookID    string    `json:"webhook_id"`    //nolint:tagliatelle
		TotalEvents  int       `json:"total_events"`  //nolint:tagliatelle
		SuccessCount int       `json:"success_count"` //nolint:tagliatelle
		FailureCount int       `json:"failure_count"` //nolint:tagliatelle
		SuccessRate  float64   `json:"success_rate"`  //nolint:tagliatelle
		LastEventAt  time.Time `json:"last_event_at"` //nolint:tagliatelle
	}

	// QueryResponse represents the response for POST /query.
	QueryResponse struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}

	// EchoResponse represents the response for POST /echo-webhook, the
	// destination stand-in operators point test webhooks at.
	EchoResponse struct {
		Status     string          `json:"status"`
		Message    string          `json:"message"`
		ReceivedAt time.Time       `json:"received_at"` //nolint:tagliatelle
		Payload    json.RawMessage `json:"payload"`
	}
)
