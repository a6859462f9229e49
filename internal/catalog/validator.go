package catalog

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hookgate-io/hookgate/internal/evaluate"
)

// Sentinel errors for registration validation failures.
var (
	ErrSourcePathEmpty       = newValidationError("source_path is required")
	ErrSourcePathNoSlash     = newValidationError("source_path must start with '/'")
	ErrSourcePathControlChar = newValidationError("source_path must not contain control characters")
	ErrSourcePathReserved    = newValidationError("source_path collides with a gateway endpoint")
	ErrDestinationEmpty      = newValidationError("destination_url is required")
	ErrDestinationScheme     = newValidationError("destination_url must be an absolute http or https URL")
	ErrTransformEmpty        = newValidationError("transform_query is required")
	ErrTransformMissingToken = newValidationError("transform_query must contain the {{payload}} placeholder")
)

// reservedPathSegments are first path segments claimed by the gateway's own
// admin and health endpoints. A webhook registered under one of these would be
// shadowed by the router and never receive traffic, so registration rejects
// them up front.
var reservedPathSegments = map[string]struct{}{
	"register":         {},
	"webhooks":         {},
	"webhook":          {},
	"upload_table":     {},
	"reference_tables": {},
	"reference_table":  {},
	"register_udf":     {},
	"udfs":             {},
	"udf":              {},
	"stats":            {},
	"events":           {},
	"event":            {},
	"query":            {},
	"echo-webhook":     {},
	"ping":             {},
	"ready":            {},
	"health":           {},
	"metrics":          {},
}

// Validator performs field-level validation of webhook registrations.
// It checks shape only (paths, URLs, placeholder presence); whether the SQL
// fragments actually compile is established separately by dry validation
// against the engine.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRegistration validates the operator-supplied fields of a webhook
// registration.
//
// Rules:
//   - SourcePath: non-empty, starts with "/", no control characters, and the
//     first path segment must not collide with a gateway endpoint
//   - DestinationURL: non-empty, parses as an absolute http or https URL
//   - TransformQuery: non-empty and contains the {{payload}} placeholder
//   - FilterQuery, Owner: optional, no shape rules
//
// Returns nil if valid, a sentinel-wrapped error describing the first failed
// rule otherwise.
func (v *Validator) ValidateRegistration(reg Registration) error {
	if err := v.validateSourcePath(reg.SourcePath); err != nil {
		return err
	}

	if err := v.validateDestinationURL(reg.DestinationURL); err != nil {
		return err
	}

	return v.validateTransformQuery(reg.TransformQuery)
}

func (v *Validator) validateSourcePath(path string) error {
	if path == "" {
		return ErrSourcePathEmpty
	}

	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w, got: %q", ErrSourcePathNoSlash, path)
	}

	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return ErrSourcePathControlChar
		}
	}

	if _, reserved := reservedPathSegments[firstSegment(path)]; reserved {
		return fmt.Errorf("%w: %q", ErrSourcePathReserved, path)
	}

	return nil
}

func (v *Validator) validateDestinationURL(rawURL string) error {
	if rawURL == "" {
		return ErrDestinationEmpty
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDestinationScheme, err)
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w, got: %q", ErrDestinationScheme, rawURL)
	}

	return nil
}

func (v *Validator) validateTransformQuery(transform string) error {
	if strings.TrimSpace(transform) == "" {
		return ErrTransformEmpty
	}

	if !evaluate.ContainsPayloadToken(transform) {
		return ErrTransformMissingToken
	}

	return nil
}

// firstSegment returns the first path segment of a source path, e.g.
// "/webhook/extra" -> "webhook", "/gh" -> "gh", "/" -> "".
func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx != -1 {
		return trimmed[:idx]
	}

	return trimmed
}
