// Package artifact installs and removes the physical objects behind webhook
// artifacts: reference tables loaded from CSV and Lua scalar functions.
//
// The catalog owns the metadata rows; this package owns the engine-side
// objects and keeps the two in step. Physical names embed the owning webhook
// id so that artifacts of different webhooks can never collide.
package artifact

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches safe logical names for reference tables and UDFs:
// letters, digits, and underscores, not starting with a digit. Physical names
// are built by plain string concatenation, so anything outside this set is
// rejected before it gets near the engine.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects logical artifact names that are not safe SQL
// identifiers.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}

// PhysicalTableName derives the engine table holding a webhook's reference
// table: ref_<webhook id, dashes as underscores>_<logical name>.
func PhysicalTableName(webhookID, tableName string) string {
	return "ref_" + underscored(webhookID) + "_" + tableName
}

// PhysicalFunctionName derives the SQL-visible name of a webhook's scalar
// function: udf_<webhook id, dashes as underscores>_<logical name>.
func PhysicalFunctionName(webhookID, functionName string) string {
	return "udf_" + underscored(webhookID) + "_" + functionName
}

// ReferenceTablePrefix returns the physical-name prefix shared by all
// reference tables of one webhook.
func ReferenceTablePrefix(webhookID string) string {
	return "ref_" + underscored(webhookID) + "_"
}

// FunctionPrefix returns the physical-name prefix shared by all scalar
// functions of one webhook.
func FunctionPrefix(webhookID string) string {
	return "udf_" + underscored(webhookID) + "_"
}

// underscored rewrites a UUID so it can appear inside a SQL identifier.
func underscored(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}
