package storage

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"sync"

	"modernc.org/sqlite"
)

// ScalarFunc is the implementation of a scalar function callable from user
// SQL. Arguments and the return value use driver types (int64, float64,
// string, []byte, nil).
type ScalarFunc func(args []driver.Value) (driver.Value, error)

// scalarFuncs is the process-wide binding registry. The SQLite driver only
// accepts function registration once per name for the life of the process and
// offers no unregister, so the driver-visible entry is a trampoline that
// resolves the current binding on every call. Dropping a function removes the
// binding; the trampoline then fails calls to that name.
var scalarFuncs = newScalarRegistry()

type scalarRegistry struct {
	mu        sync.RWMutex
	bindings  map[string]ScalarFunc
	installed map[string]bool // names already registered with the driver
}

func newScalarRegistry() *scalarRegistry {
	return &scalarRegistry{
		bindings:  make(map[string]ScalarFunc),
		installed: make(map[string]bool),
	}
}

// bind installs fn under name, registering the trampoline with the driver on
// first use of the name. fresh reports whether a driver-level registration
// happened, which requires the caller to reopen its connection.
func (r *scalarRegistry) bind(name string, fn ScalarFunc) (fresh bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.installed[name] {
		// nArg -1 accepts any argument count; arity is enforced by the
		// bound implementation so rebinding never needs re-registration.
		err := sqlite.RegisterScalarFunction(name, -1, r.trampoline(name))
		if err != nil {
			return false, err
		}

		r.installed[name] = true
		fresh = true
	}

	r.bindings[name] = fn

	return fresh, nil
}

// unbind removes the binding for name. Unknown names are ignored.
func (r *scalarRegistry) unbind(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.bindings, name)
}

// has reports whether name currently has a live binding.
func (r *scalarRegistry) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.bindings[name]

	return ok
}

// lookup returns the current binding for name.
func (r *scalarRegistry) lookup(name string) (ScalarFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.bindings[name]

	return fn, ok
}

// withPrefix returns the bound names starting with prefix, sorted.
func (r *scalarRegistry) withPrefix(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string

	for name := range r.bindings {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}

// trampoline builds the driver-visible function for name. It resolves the
// live binding at call time.
func (r *scalarRegistry) trampoline(name string) func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error) {
	return func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		fn, ok := r.lookup(name)
		if !ok {
			return nil, fmt.Errorf("no such function: %s", name)
		}

		return fn(args)
	}
}
