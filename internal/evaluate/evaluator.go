// Package evaluate runs operator-supplied SQL against incoming events.
//
// Each event gets an ephemeral single-row view holding the raw JSON payload
// in a column named payload. The {{payload}} placeholder in the webhook's
// filter and transform is rewritten to that view's name, the statements run,
// and the view is dropped again. The whole sequence executes inside one
// engine session, so nothing else can touch the connection while the view is
// alive.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hookgate-io/hookgate/internal/storage"
)

// ErrEvaluation marks filter or transform failures at event time. When one of
// these surfaces the raw event is already stored; the pipeline records a
// failed transform row carrying the error text instead of failing the
// request.
var ErrEvaluation = errors.New("evaluation failed")

// ErrNilEngine is returned by NewEvaluator when no engine is supplied.
var ErrNilEngine = errors.New("engine cannot be nil")

// Evaluator applies a webhook's filter and transform SQL to one event at a
// time.
type Evaluator struct {
	engine *storage.Engine
	logger *slog.Logger
}

// NewEvaluator creates an evaluator on top of the storage engine.
func NewEvaluator(engine *storage.Engine, logger *slog.Logger) (*Evaluator, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Evaluator{engine: engine, logger: logger}, nil
}

// Result is the outcome of evaluating one event.
type Result struct {
	// Filtered reports that the filter rejected the event. Payload is nil
	// and nothing is dispatched.
	Filtered bool

	// Payload is the transformed JSON to deliver: a single object for
	// one-row results, an array of objects for multi-row results, and {}
	// when the transform returns no rows.
	Payload []byte
}

// Evaluate runs the filter (when present) and then the transform against the
// payload.
//
// The payload must already be validated JSON; ingress rejects non-JSON bodies
// before this point. Errors from the operator's SQL come back wrapped in
// ErrEvaluation with the engine's message preserved verbatim; errors from the
// evaluator's own view management do not carry that mark and indicate engine
// trouble rather than a bad webhook definition.
func (e *Evaluator) Evaluate(ctx context.Context, transform, filter string, payload []byte) (*Result, error) {
	result := &Result{}

	err := e.engine.Do(ctx, func(sess *storage.Session) error {
		viewName, err := createPayloadView(sess, string(payload))
		if err != nil {
			return err
		}

		defer dropPayloadView(sess, viewName, e.logger)

		if filter != "" {
			pass, err := runFilter(sess, filter, viewName)
			if err != nil {
				return err
			}

			if !pass {
				result.Filtered = true

				return nil
			}
		}

		rs, err := sess.Query(RewritePayloadToken(transform, viewName))
		if err != nil {
			return fmt.Errorf("%w: transform: %w", ErrEvaluation, err)
		}

		result.Payload, err = resultJSON(rs)
		if err != nil {
			return fmt.Errorf("%w: transform: %w", ErrEvaluation, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CheckTransform dry-validates a transform template without executing it: the
// placeholder is rewritten against a synthetic one-row view built from the
// empty object and the statement is prepared.
//
// Only definite rejections fail the check. References to tables, functions,
// or columns the engine does not know yet are tolerated, because reference
// tables and UDFs are installed after the webhook is registered.
func (e *Evaluator) CheckTransform(ctx context.Context, transform string) error {
	return e.dryCheck(ctx, func(viewName string) string {
		return RewritePayloadToken(transform, viewName)
	})
}

// CheckFilter dry-validates a filter expression the same way, wrapped in the
// SELECT that evaluation will use.
func (e *Evaluator) CheckFilter(ctx context.Context, filter string) error {
	return e.dryCheck(ctx, func(viewName string) string {
		return "SELECT (" + RewritePayloadToken(filter, viewName) + ") FROM " + viewName
	})
}

func (e *Evaluator) dryCheck(ctx context.Context, statement func(viewName string) string) error {
	err := e.engine.Do(ctx, func(sess *storage.Session) error {
		viewName, err := createPayloadView(sess, "{}")
		if err != nil {
			return err
		}

		defer dropPayloadView(sess, viewName, e.logger)

		return sess.Prepare(statement(viewName))
	})
	if err == nil {
		return nil
	}

	if missingObjectError(err) {
		return nil
	}

	return err
}

// missingObjectError recognizes engine complaints about objects that may
// simply not be installed yet.
func missingObjectError(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such function") ||
		strings.Contains(msg, "no such column")
}

// createPayloadView builds the ephemeral single-row view for one event. View
// definitions cannot carry bound parameters, so the JSON text is inlined as a
// quoted literal.
func createPayloadView(sess *storage.Session, payload string) (string, error) {
	viewName := "payload_" + strings.ReplaceAll(uuid.NewString(), "-", "_")

	err := sess.Exec("CREATE TEMP VIEW " + viewName + " AS SELECT " + storage.QuoteLiteral(payload) + " AS payload")
	if err != nil {
		return "", fmt.Errorf("failed to create payload view: %w", err)
	}

	return viewName, nil
}

// dropPayloadView removes the ephemeral view. Runs on every exit path while
// the session still holds the engine; a failed drop is logged, not fatal,
// since temp views die with the connection anyway.
func dropPayloadView(sess *storage.Session, viewName string, logger *slog.Logger) {
	if err := sess.Exec("DROP VIEW IF EXISTS " + viewName); err != nil {
		logger.Warn("failed to drop payload view",
			slog.String("view", viewName),
			slog.String("error", err.Error()),
		)
	}
}

// runFilter evaluates the filter expression against the view and coerces the
// result to a verdict. NULL means false; SQLite represents booleans as
// integers, so 0/1 are accepted; everything else is an evaluation error.
func runFilter(sess *storage.Session, filter, viewName string) (bool, error) {
	rs, err := sess.Query("SELECT (" + RewritePayloadToken(filter, viewName) + ") FROM " + viewName)
	if err != nil {
		return false, fmt.Errorf("%w: filter: %w", ErrEvaluation, err)
	}

	if len(rs.Rows) == 0 {
		return false, nil
	}

	if len(rs.Rows) > 1 || len(rs.Rows[0]) != 1 {
		return false, fmt.Errorf("%w: filter must produce a single value, got %d row(s)", ErrEvaluation, len(rs.Rows))
	}

	switch v := rs.Rows[0][0].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("%w: filter produced %T, want a boolean", ErrEvaluation, v)
	}
}

// resultJSON maps a transform result set to the outgoing payload: one row
// becomes an object keyed by column name, several rows become an array of
// such objects, no rows become the empty object.
func resultJSON(rs *storage.ResultSet) ([]byte, error) {
	switch len(rs.Rows) {
	case 0:
		return []byte("{}"), nil
	case 1:
		return json.Marshal(rowObject(rs.Columns, rs.Rows[0]))
	default:
		objects := make([]map[string]any, len(rs.Rows))

		for i, row := range rs.Rows {
			objects[i] = rowObject(rs.Columns, row)
		}

		return json.Marshal(objects)
	}
}

func rowObject(columns []string, row []any) map[string]any {
	object := make(map[string]any, len(columns))

	for i, column := range columns {
		if i < len(row) {
			object[column] = row[i]
		}
	}

	return object
}
