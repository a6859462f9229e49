package audit

import "errors"

var (
	// ErrEventNotFound indicates the requested raw event id has no row.
	ErrEventNotFound = errors.New("event not found")

	// ErrNilEngine indicates the store was constructed without an engine.
	ErrNilEngine = errors.New("storage engine cannot be nil")
)
