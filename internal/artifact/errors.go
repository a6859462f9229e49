package artifact

import (
	"errors"
	"fmt"
)

// Classification sentinels. Every rejection of operator input wraps
// ErrInvalid so API handlers can map the whole family to one status with
// errors.Is.
var (
	// ErrInvalid marks a rejected artifact: a bad logical name, Lua that does
	// not compile, or a chunk that does not define the promised function.
	ErrInvalid = errors.New("invalid artifact")

	// ErrInvalidName is returned for logical names that are not safe SQL
	// identifiers.
	ErrInvalidName = fmt.Errorf("%w: name must contain only letters, digits, and underscores and must not start with a digit", ErrInvalid)

	// ErrCompileFailed is returned when the Lua chunk has syntax or runtime
	// errors at load time.
	ErrCompileFailed = fmt.Errorf("%w: lua compilation failed", ErrInvalid)

	// ErrFunctionNotDefined is returned when the chunk loads but defines no
	// top-level function with the registered name.
	ErrFunctionNotDefined = fmt.Errorf("%w: source does not define a top-level function with the given name", ErrInvalid)

	// ErrNoParameters is returned for functions taking zero parameters; a
	// scalar function must accept at least one argument.
	ErrNoParameters = fmt.Errorf("%w: function must take at least one parameter", ErrInvalid)

	// ErrNilEngine and ErrNilCatalog are returned by NewInstaller when a
	// dependency is missing.
	ErrNilEngine  = errors.New("engine cannot be nil")
	ErrNilCatalog = errors.New("catalog store cannot be nil")
)
