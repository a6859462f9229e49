// Package storage provides the single point of access to the embedded SQL
// engine backing the gateway: schema bootstrap, statement execution, scalar
// function registration, and CSV bulk loading. Every operation serializes
// through one mutex; correctness over throughput.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hookgate-io/hookgate/migrations"
)

var (
	// ErrEngineClosed is returned when an operation is attempted on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrNilConfig is returned when the engine is constructed without configuration.
	ErrNilConfig = errors.New("engine config cannot be nil")
)

// EngineError wraps an underlying SQL engine failure. The original engine
// message is preserved verbatim for operator display.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// engineErr wraps err as an EngineError unless it already is one.
func engineErr(op string, err error) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}

	return &EngineError{Op: op, Err: err}
}

// Engine is the handle to the embedded SQLite database. One connection,
// one mutex: every statement (schema work, catalog reads, artifact
// installation, evaluator views, audit writes, admin queries) acquires the
// lock on entry and releases it on all exit paths.
type Engine struct {
	mu     sync.Mutex
	db     *sql.DB
	dsn    string
	path   string
	logger *slog.Logger
	closed bool
}

// Session issues statements while the engine lock is held. All statements in
// one session land on the same connection, so temp views created inside a
// session stay visible until it ends.
type Session struct {
	db  *sql.DB
	ctx context.Context
}

// NewEngine opens (creating if necessary) the database file, applies the
// embedded schema migrations, and returns a ready engine. Construction is
// idempotent with respect to schema state.
func NewEngine(cfg *Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	runner, err := migrations.NewRunner(cfg.DSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	if err := runner.Apply(); err != nil {
		_ = runner.Close()

		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := runner.Close(); err != nil {
		logger.Warn("migration runner close failed", "error", err)
	}

	e := &Engine{
		dsn:    cfg.DSN(),
		path:   cfg.Path,
		logger: logger,
	}

	if err := e.open(); err != nil {
		return nil, err
	}

	logger.Info("engine ready", "path", cfg.Path)

	return e, nil
}

// open establishes the single long-lived connection. Caller must hold the
// mutex or be the constructor.
func (e *Engine) open() error {
	db, err := sql.Open("sqlite", e.dsn)
	if err != nil {
		return engineErr("open", err)
	}

	// Pin a single connection so temp views and registered functions behave
	// like one session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return engineErr("ping", err)
	}

	e.db = db

	return nil
}

// reopen cycles the connection. SQLite scalar functions registered with the
// driver only become visible on connections opened afterwards, so the first
// registration of a new physical name forces a reconnect. Caller must hold
// the mutex.
func (e *Engine) reopen() error {
	if e.db != nil {
		_ = e.db.Close()
		e.db = nil
	}

	return e.open()
}

// Do runs fn while holding the engine lock, giving it a session for issuing
// statements. This is the only way multi-statement sequences (ephemeral view
// setup, CSV loads) stay atomic with respect to other engine users.
func (e *Engine) Do(ctx context.Context, fn func(s *Session) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	return fn(&Session{db: e.db, ctx: ctx})
}

// Exec executes a single statement that returns no rows.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) error {
	return e.Do(ctx, func(s *Session) error {
		return s.Exec(query, args...)
	})
}

// Query executes a statement and returns column names plus all rows, decoded
// to JSON-friendly values.
func (e *Engine) Query(ctx context.Context, query string, args ...any) (*ResultSet, error) {
	var rs *ResultSet

	err := e.Do(ctx, func(s *Session) error {
		var err error
		rs, err = s.Query(query, args...)

		return err
	})
	if err != nil {
		return nil, err
	}

	return rs, nil
}

// Exec executes a statement within the session.
func (s *Session) Exec(query string, args ...any) error {
	if _, err := s.db.ExecContext(s.ctx, query, args...); err != nil {
		return engineErr("exec", err)
	}

	return nil
}

// Query executes a statement within the session and collects the full result.
func (s *Session) Query(query string, args ...any) (*ResultSet, error) {
	rows, err := s.db.QueryContext(s.ctx, query, args...)
	if err != nil {
		return nil, engineErr("query", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	rs, err := collectRows(rows)
	if err != nil {
		return nil, engineErr("scan", err)
	}

	return rs, nil
}

// Prepare compiles a statement without executing it and discards it. Used for
// dry validation of operator SQL.
func (s *Session) Prepare(query string) error {
	stmt, err := s.db.PrepareContext(s.ctx, query)
	if err != nil {
		return engineErr("prepare", err)
	}

	return stmt.Close()
}

// RegisterScalarFunction binds fn under the given physical name so user SQL
// can call it. Rebinding an existing name replaces the implementation in
// place; binding a name this process has never seen reconnects the engine so
// SQLite picks the function up.
func (e *Engine) RegisterScalarFunction(name string, fn ScalarFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	fresh, err := scalarFuncs.bind(name, fn)
	if err != nil {
		return engineErr("register function", err)
	}

	if fresh {
		if err := e.reopen(); err != nil {
			return err
		}

		e.logger.Debug("scalar function installed", "name", name)
	}

	return nil
}

// DropScalarFunction removes the implementation bound to the physical name.
// The name stays known to SQLite for the life of the process; calls to it
// fail once the binding is gone. Dropping an absent name is a no-op.
func (e *Engine) DropScalarFunction(name string) {
	scalarFuncs.unbind(name)
}

// FunctionExists reports whether a scalar function is currently bound under
// the physical name. The binding registry is authoritative: SQLite itself
// never forgets a name once registered.
func (e *Engine) FunctionExists(name string) bool {
	return scalarFuncs.has(name)
}

// FunctionsWithPrefix returns the bound physical function names starting with
// prefix, sorted.
func (e *Engine) FunctionsWithPrefix(prefix string) []string {
	return scalarFuncs.withPrefix(prefix)
}

// TableExists reports whether a physical table is present in the database.
func (e *Engine) TableExists(ctx context.Context, name string) (bool, error) {
	rs, err := e.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err != nil {
		return false, err
	}

	return len(rs.Rows) > 0, nil
}

// TablesWithPrefix returns the physical table names starting with prefix.
func (e *Engine) TablesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rs, err := e.Query(
		ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ORDER BY name",
		prefix+"%",
	)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(rs.Rows))

	for _, row := range rs.Rows {
		if name, ok := row[0].(string); ok {
			names = append(names, name)
		}
	}

	return names, nil
}

// DropTable removes a physical table if it exists.
func (e *Engine) DropTable(ctx context.Context, name string) error {
	return e.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(name)))
}

// HealthCheck verifies the engine can execute a statement.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.Do(ctx, func(s *Session) error {
		var one int
		if err := s.db.QueryRowContext(s.ctx, "SELECT 1").Scan(&one); err != nil {
			return engineErr("health check", err)
		}

		return nil
	})
}

// Path returns the database file path the engine was opened with.
func (e *Engine) Path() string {
	return e.path
}

// Close releases the engine connection. Further operations fail with
// ErrEngineClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	e.closed = true

	if e.db != nil {
		err := e.db.Close()
		e.db = nil

		if err != nil {
			return engineErr("close", err)
		}
	}

	e.logger.Info("engine closed", "path", e.path)

	return nil
}

// QuoteIdentifier quotes a SQL identifier for safe interpolation into DDL.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string value as a SQL literal. View definitions
// cannot carry bound parameters, so payload text is inlined this way.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
