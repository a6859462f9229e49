// Package middleware provides the HTTP middleware stack for the gateway API.
package middleware

import "strings"

// PathClass says how the middleware stack treats a request path.
type PathClass int

const (
	// PathPublic endpoints bypass authentication and rate limiting
	// (health probes, metrics scrapes).
	PathPublic PathClass = iota

	// PathAdmin endpoints require the operator API key.
	PathAdmin

	// PathIngress covers every other path: webhook event delivery from
	// external senders, which carries no API key.
	PathIngress
)

// publicEndpoints lists exact paths that bypass authentication and rate
// limiting. Only health and metrics endpoints belong here.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// adminSegments lists first path segments owned by the admin surface. Any
// path starting with one of these requires the operator API key; everything
// else is webhook ingress.
var adminSegments = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint marks an exact path as public. Called during route
// setup only.
//
// Security Warning: never register admin endpoints as public.
func RegisterPublicEndpoint(path string) {
	publicEndpoints[path] = true
}

// RegisterAdminSegment marks a first path segment as admin-owned. Called
// during route setup only. Admin segments are also reserved at webhook
// registration time, so an ingress path can never start with one.
func RegisterAdminSegment(segment string) {
	adminSegments[segment] = true
}

// Classify reports how the middleware stack should treat the request path.
func Classify(path string) PathClass {
	if publicEndpoints[path] {
		return PathPublic
	}

	if adminSegments[firstSegment(path)] {
		return PathAdmin
	}

	return PathIngress
}

// firstSegment returns the first path segment without slashes; "/a/b" yields
// "a".
func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")

	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}

	return trimmed
}
