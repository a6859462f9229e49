// Package catalog manages webhook definitions and the metadata rows for their
// attached artifacts (reference tables and user-defined functions).
//
// The catalog owns metadata only. Physical reference tables and scalar
// functions inside the engine belong to the artifact installer; event history
// belongs to the audit log.
package catalog

import "time"

type (
	// Webhook represents a registered webhook endpoint - Domain Model.
	// Each webhook binds an ingress path to a destination URL and carries the
	// operator-supplied SQL that shapes every event flowing between them.
	//
	// This is a pure domain model without JSON tags. The API layer defines
	// request/response types for JSON marshaling and maps to this type.
	Webhook struct {
		// ID is a server-generated UUID that uniquely identifies this webhook.
		// Physical artifact names (ref_*/udf_*) are derived from it.
		ID string

		// SourcePath is the ingress path events are POSTed to (e.g. "/github").
		// Must start with "/" and is unique across all webhooks.
		SourcePath string

		// DestinationURL is where transformed payloads are delivered.
		DestinationURL string

		// TransformQuery is a SELECT template containing the {{payload}}
		// placeholder. Its result rows become the outgoing payload.
		TransformQuery string

		// FilterQuery is an optional boolean SQL expression evaluated before
		// the transform. Empty means no filter; every event passes.
		FilterQuery string

		// Owner is a free-text label identifying who operates this webhook.
		Owner string

		// Active controls delivery. Inactive webhooks refuse ingress traffic
		// but remain fully visible to admin calls.
		Active bool

		// CreatedAt is when the webhook was registered (UTC).
		CreatedAt time.Time

		// UpdatedAt is when the definition last changed (UTC).
		UpdatedAt time.Time
	}

	// Registration carries the operator-supplied fields for creating or
	// replacing a webhook definition. Validation rules live in Validator.
	Registration struct {
		// SourcePath is the ingress path to register (must start with "/").
		SourcePath string

		// DestinationURL is the delivery target (http or https).
		DestinationURL string

		// TransformQuery is the SELECT template (must contain {{payload}}).
		TransformQuery string

		// FilterQuery is the optional filter expression ("" = no filter).
		FilterQuery string

		// Owner is a free-text label ("" allowed).
		Owner string
	}

	// ReferenceTable represents an operator-uploaded lookup table attached to
	// one webhook - Domain Model. The CSV contents live in the engine under
	// PhysicalName; this row records only where they came from.
	ReferenceTable struct {
		// ID is a server-generated UUID for this metadata row.
		ID string

		// WebhookID is the owning webhook.
		WebhookID string

		// TableName is the logical name the operator writes in SQL intent
		// (e.g. "users"). Unique per webhook.
		TableName string

		// Description is free text supplied at upload time.
		Description string

		// PhysicalName is the engine table actually holding the rows,
		// ref_<webhook_id with dashes as underscores>_<TableName>.
		PhysicalName string

		// CreatedAt is when the table was first uploaded (UTC).
		CreatedAt time.Time
	}

	// UDF represents an operator-registered scalar function attached to one
	// webhook - Domain Model. SourceCode is the authoritative copy: engine
	// registrations are process-local, so every start re-compiles from here.
	UDF struct {
		// ID is a server-generated UUID for this metadata row.
		ID string

		// WebhookID is the owning webhook.
		WebhookID string

		// FunctionName is the top-level function defined in SourceCode.
		// Unique per webhook.
		FunctionName string

		// SourceCode is the Lua chunk defining the function.
		SourceCode string

		// PhysicalName is the SQL-visible function name,
		// udf_<webhook_id with dashes as underscores>_<FunctionName>.
		PhysicalName string

		// CreatedAt is when the function was first registered (UTC).
		CreatedAt time.Time
	}
)
