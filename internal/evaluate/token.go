package evaluate

import "regexp"

// payloadTokenPattern matches the {{payload}} placeholder in operator SQL.
// Whitespace inside the braces is tolerated: {{payload}}, {{ payload }}, and
// {{  payload}} all match. This is compiled once at package initialization
// because the pattern runs on every incoming event.
var payloadTokenPattern = regexp.MustCompile(`\{\{\s*payload\s*\}\}`)

// ContainsPayloadToken reports whether a SQL fragment references the incoming
// event through the {{payload}} placeholder. Transform queries must contain
// the placeholder at least once; filter queries may omit it.
func ContainsPayloadToken(query string) bool {
	return payloadTokenPattern.MatchString(query)
}

// RewritePayloadToken replaces every occurrence of the {{payload}} placeholder
// with the given view name. This is literal text substitution; the SQL is not
// parsed, so placeholders inside string literals are replaced too.
func RewritePayloadToken(query, viewName string) string {
	return payloadTokenPattern.ReplaceAllLiteralString(query, viewName)
}
