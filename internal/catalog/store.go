package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hookgate-io/hookgate/internal/storage"
)

// QueryChecker dry-validates operator SQL fragments against a synthetic
// one-row payload before they are persisted. Implemented by the evaluator.
type QueryChecker interface {
	// CheckTransform rejects transform templates the engine cannot compile.
	CheckTransform(ctx context.Context, transform string) error

	// CheckFilter rejects filter expressions the engine cannot compile.
	CheckFilter(ctx context.Context, filter string) error
}

// Column lists for each metadata table, in the order the scan helpers decode.
const (
	webhookColumns        = "id, source_path, destination_url, transform_query, filter_query, owner, active, created_at, updated_at"
	referenceTableColumns = "id, webhook_id, table_name, description, physical_name, created_at"
	udfColumns            = "id, webhook_id, function_name, source_code, physical_name, created_at"
)

// Store persists webhook, reference table, and UDF metadata.
//
// All access goes through the storage engine, so every operation serializes
// on the engine mutex. Multi-statement operations (uniqueness check plus
// insert, existence check plus update) run inside a single engine session,
// which keeps them atomic with respect to concurrent requests.
type Store struct {
	engine    *storage.Engine
	checker   QueryChecker
	validator *Validator
	logger    *slog.Logger
}

// NewStore creates a metadata store on top of the storage engine.
//
// Parameters:
//   - engine: the storage engine handle (required)
//   - checker: dry-validates transform and filter SQL at registration and
//     update; nil skips dry validation (tests only, the server always wires
//     the evaluator here)
//   - logger: structured logger (nil falls back to slog.Default)
func NewStore(engine *storage.Engine, checker QueryChecker, logger *slog.Logger) (*Store, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		engine:    engine,
		checker:   checker,
		validator: NewValidator(),
		logger:    logger,
	}, nil
}

// RegisterWebhook validates and persists a new webhook definition.
//
// The function performs the following operations in order:
//  1. Field validation (source path, destination URL, {{payload}} placeholder)
//  2. Dry validation of transform and filter SQL against a synthetic payload
//  3. Uniqueness check on source_path plus insert, atomically in one session
//
// Returns the stored webhook (active by default), ErrInvalid-wrapped errors
// for rejected definitions, or ErrDuplicateSourcePath when another webhook
// already claims the path.
func (s *Store) RegisterWebhook(ctx context.Context, reg Registration) (*Webhook, error) {
	if err := s.validate(ctx, reg); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	webhook := &Webhook{
		ID:             uuid.NewString(),
		SourcePath:     reg.SourcePath,
		DestinationURL: reg.DestinationURL,
		TransformQuery: reg.TransformQuery,
		FilterQuery:    reg.FilterQuery,
		Owner:          reg.Owner,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		taken, err := s.sourcePathTaken(sess, reg.SourcePath, "")
		if err != nil {
			return err
		}

		if taken {
			return fmt.Errorf("%w: %s", ErrDuplicateSourcePath, reg.SourcePath)
		}

		err = sess.Exec(
			`INSERT INTO webhooks (`+webhookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			webhook.ID, webhook.SourcePath, webhook.DestinationURL, webhook.TransformQuery,
			nullable(webhook.FilterQuery), webhook.Owner, boolToInt(webhook.Active),
			storage.FormatTime(webhook.CreatedAt), storage.FormatTime(webhook.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert webhook: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("webhook registered",
		slog.String("webhook_id", webhook.ID),
		slog.String("source_path", webhook.SourcePath),
		slog.String("destination_url", webhook.DestinationURL),
	)

	return webhook, nil
}

// ListWebhooks returns all webhooks, active and inactive, oldest first.
func (s *Store) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	rs, err := s.engine.Query(ctx, "SELECT "+webhookColumns+" FROM webhooks ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}

	webhooks := make([]Webhook, 0, len(rs.Rows))

	for _, row := range rs.Rows {
		webhook, err := scanWebhook(row)
		if err != nil {
			return nil, err
		}

		webhooks = append(webhooks, *webhook)
	}

	return webhooks, nil
}

// GetWebhook returns the webhook with the given id, or ErrWebhookNotFound.
func (s *Store) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	var webhook *Webhook

	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		var err error
		webhook, err = s.loadWebhookWhere(sess, "id = ?", id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return webhook, nil
}

// GetWebhookByPath resolves a webhook by its ingress path. Both active and
// inactive webhooks resolve; ingress checks the Active flag itself so that it
// can distinguish "unknown path" from "known but switched off".
func (s *Store) GetWebhookByPath(ctx context.Context, path string) (*Webhook, error) {
	var webhook *Webhook

	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		var err error
		webhook, err = s.loadWebhookWhere(sess, "source_path = ?", path)

		return err
	})
	if err != nil {
		return nil, err
	}

	return webhook, nil
}

// UpdateWebhook replaces the mutable fields of an existing webhook and
// re-runs the full validation pipeline, including dry validation of the new
// SQL. The Active flag is not touched here; use SetActive.
//
// Returns ErrWebhookNotFound for unknown ids and ErrDuplicateSourcePath when
// the new path belongs to a different webhook.
func (s *Store) UpdateWebhook(ctx context.Context, id string, reg Registration) (*Webhook, error) {
	if err := s.validate(ctx, reg); err != nil {
		return nil, err
	}

	var updated *Webhook

	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		existing, err := s.loadWebhookWhere(sess, "id = ?", id)
		if err != nil {
			return err
		}

		taken, err := s.sourcePathTaken(sess, reg.SourcePath, id)
		if err != nil {
			return err
		}

		if taken {
			return fmt.Errorf("%w: %s", ErrDuplicateSourcePath, reg.SourcePath)
		}

		now := time.Now().UTC().Truncate(time.Millisecond)

		err = sess.Exec(
			`UPDATE webhooks
			 SET source_path = ?, destination_url = ?, transform_query = ?, filter_query = ?, owner = ?, updated_at = ?
			 WHERE id = ?`,
			reg.SourcePath, reg.DestinationURL, reg.TransformQuery,
			nullable(reg.FilterQuery), reg.Owner, storage.FormatTime(now), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update webhook: %w", err)
		}

		updated = &Webhook{
			ID:             id,
			SourcePath:     reg.SourcePath,
			DestinationURL: reg.DestinationURL,
			TransformQuery: reg.TransformQuery,
			FilterQuery:    reg.FilterQuery,
			Owner:          reg.Owner,
			Active:         existing.Active,
			CreatedAt:      existing.CreatedAt,
			UpdatedAt:      now,
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("webhook updated",
		slog.String("webhook_id", id),
		slog.String("source_path", updated.SourcePath),
	)

	return updated, nil
}

// SetActive flips delivery on or off without touching the definition.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (*Webhook, error) {
	var updated *Webhook

	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		existing, err := s.loadWebhookWhere(sess, "id = ?", id)
		if err != nil {
			return err
		}

		now := time.Now().UTC().Truncate(time.Millisecond)

		err = sess.Exec(
			"UPDATE webhooks SET active = ?, updated_at = ? WHERE id = ?",
			boolToInt(active), storage.FormatTime(now), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update webhook status: %w", err)
		}

		existing.Active = active
		existing.UpdatedAt = now
		updated = existing

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("webhook status changed",
		slog.String("webhook_id", id),
		slog.Bool("active", active),
	)

	return updated, nil
}

// DeleteWebhook removes the webhook metadata row only.
//
// It does not touch physical artifacts or historical events: the artifact
// installer drops ref_*/udf_* objects and their metadata before calling this
// (the foreign keys on reference_tables and udfs enforce that ordering), and
// audit rows are retained with a dangling webhook_id on purpose.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		if _, err := s.loadWebhookWhere(sess, "id = ?", id); err != nil {
			return err
		}

		if err := sess.Exec("DELETE FROM webhooks WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete webhook: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("webhook deleted", slog.String("webhook_id", id))

	return nil
}

// UpsertReferenceTable records an uploaded reference table. When the webhook
// already has a table with the same logical name the existing row is updated
// in place (re-upload replaces data, metadata keeps its id), otherwise a new
// row is inserted.
//
// Returns ErrWebhookNotFound when the owning webhook does not exist.
func (s *Store) UpsertReferenceTable(ctx context.Context, webhookID, tableName, description, physicalName string) (*ReferenceTable, error) {
	var stored *ReferenceTable

	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		if _, err := s.loadWebhookWhere(sess, "id = ?", webhookID); err != nil {
			return err
		}

		rs, err := sess.Query(
			"SELECT "+referenceTableColumns+" FROM reference_tables WHERE webhook_id = ? AND table_name = ?",
			webhookID, tableName,
		)
		if err != nil {
			return fmt.Errorf("failed to look up reference table: %w", err)
		}

		if len(rs.Rows) > 0 {
			existing, err := scanReferenceTable(rs.Rows[0])
			if err != nil {
				return err
			}

			err = sess.Exec(
				"UPDATE reference_tables SET description = ?, physical_name = ? WHERE id = ?",
				description, physicalName, existing.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to update reference table: %w", err)
			}

			existing.Description = description
			existing.PhysicalName = physicalName
			stored = existing

			return nil
		}

		table := &ReferenceTable{
			ID:           uuid.NewString(),
			WebhookID:    webhookID,
			TableName:    tableName,
			Description:  description,
			PhysicalName: physicalName,
			CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
		}

		err = sess.Exec(
			"INSERT INTO reference_tables ("+referenceTableColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			table.ID, table.WebhookID, table.TableName, table.Description,
			table.PhysicalName, storage.FormatTime(table.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert reference table: %w", err)
		}

		stored = table

		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// ListReferenceTables returns all reference table metadata, oldest first.
func (s *Store) ListReferenceTables(ctx context.Context) ([]ReferenceTable, error) {
	return s.listReferenceTablesWhere(ctx, "1=1")
}

// ListReferenceTablesByWebhook returns the reference tables attached to one
// webhook, oldest first.
func (s *Store) ListReferenceTablesByWebhook(ctx context.Context, webhookID string) ([]ReferenceTable, error) {
	return s.listReferenceTablesWhere(ctx, "webhook_id = ?", webhookID)
}

// GetReferenceTable returns one reference table metadata row by id, or
// ErrReferenceTableNotFound.
func (s *Store) GetReferenceTable(ctx context.Context, id string) (*ReferenceTable, error) {
	rs, err := s.engine.Query(ctx, "SELECT "+referenceTableColumns+" FROM reference_tables WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference table: %w", err)
	}

	if len(rs.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrReferenceTableNotFound, id)
	}

	return scanReferenceTable(rs.Rows[0])
}

// DeleteReferenceTable removes one reference table metadata row. The physical
// engine table is the installer's job and must already be dropped.
func (s *Store) DeleteReferenceTable(ctx context.Context, id string) error {
	return s.engine.Do(ctx, func(sess *storage.Session) error {
		rs, err := sess.Query("SELECT id FROM reference_tables WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to look up reference table: %w", err)
		}

		if len(rs.Rows) == 0 {
			return fmt.Errorf("%w: %s", ErrReferenceTableNotFound, id)
		}

		if err := sess.Exec("DELETE FROM reference_tables WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete reference table: %w", err)
		}

		return nil
	})
}

// UpsertUDF records a registered user-defined function. When the webhook
// already has one with the same logical name the row is updated in place
// (re-registration replaces the implementation), otherwise a new row is
// inserted.
//
// Returns ErrWebhookNotFound when the owning webhook does not exist.
func (s *Store) UpsertUDF(ctx context.Context, webhookID, functionName, sourceCode, physicalName string) (*UDF, error) {
	var stored *UDF

	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		if _, err := s.loadWebhookWhere(sess, "id = ?", webhookID); err != nil {
			return err
		}

		rs, err := sess.Query(
			"SELECT "+udfColumns+" FROM udfs WHERE webhook_id = ? AND function_name = ?",
			webhookID, functionName,
		)
		if err != nil {
			return fmt.Errorf("failed to look up udf: %w", err)
		}

		if len(rs.Rows) > 0 {
			existing, err := scanUDF(rs.Rows[0])
			if err != nil {
				return err
			}

			err = sess.Exec(
				"UPDATE udfs SET source_code = ?, physical_name = ? WHERE id = ?",
				sourceCode, physicalName, existing.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to update udf: %w", err)
			}

			existing.SourceCode = sourceCode
			existing.PhysicalName = physicalName
			stored = existing

			return nil
		}

		udf := &UDF{
			ID:           uuid.NewString(),
			WebhookID:    webhookID,
			FunctionName: functionName,
			SourceCode:   sourceCode,
			PhysicalName: physicalName,
			CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
		}

		err = sess.Exec(
			"INSERT INTO udfs ("+udfColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			udf.ID, udf.WebhookID, udf.FunctionName, udf.SourceCode,
			udf.PhysicalName, storage.FormatTime(udf.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert udf: %w", err)
		}

		stored = udf

		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// ListUDFs returns all UDF metadata rows, oldest first. The startup
// reconciler walks this list to re-register every function with the engine.
func (s *Store) ListUDFs(ctx context.Context) ([]UDF, error) {
	return s.listUDFsWhere(ctx, "1=1")
}

// ListUDFsByWebhook returns the UDFs attached to one webhook, oldest first.
func (s *Store) ListUDFsByWebhook(ctx context.Context, webhookID string) ([]UDF, error) {
	return s.listUDFsWhere(ctx, "webhook_id = ?", webhookID)
}

// GetUDF returns one UDF metadata row by id, or ErrUDFNotFound.
func (s *Store) GetUDF(ctx context.Context, id string) (*UDF, error) {
	rs, err := s.engine.Query(ctx, "SELECT "+udfColumns+" FROM udfs WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load udf: %w", err)
	}

	if len(rs.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUDFNotFound, id)
	}

	return scanUDF(rs.Rows[0])
}

// DeleteUDF removes one UDF metadata row. Unbinding the scalar function from
// the engine is the installer's job and must already have happened.
func (s *Store) DeleteUDF(ctx context.Context, id string) error {
	return s.engine.Do(ctx, func(sess *storage.Session) error {
		rs, err := sess.Query("SELECT id FROM udfs WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to look up udf: %w", err)
		}

		if len(rs.Rows) == 0 {
			return fmt.Errorf("%w: %s", ErrUDFNotFound, id)
		}

		if err := sess.Exec("DELETE FROM udfs WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete udf: %w", err)
		}

		return nil
	})
}

// validate runs field validation then dry validation. Dry-validation
// failures carry the engine's message so operators see what the engine
// rejected, wrapped in ErrInvalid for classification.
func (s *Store) validate(ctx context.Context, reg Registration) error {
	if err := s.validator.ValidateRegistration(reg); err != nil {
		return err
	}

	if s.checker == nil {
		return nil
	}

	if err := s.checker.CheckTransform(ctx, reg.TransformQuery); err != nil {
		return fmt.Errorf("%w: transform_query: %w", ErrInvalid, err)
	}

	if reg.FilterQuery != "" {
		if err := s.checker.CheckFilter(ctx, reg.FilterQuery); err != nil {
			return fmt.Errorf("%w: filter_query: %w", ErrInvalid, err)
		}
	}

	return nil
}

// sourcePathTaken reports whether a webhook other than excludeID already
// claims the path. Pass excludeID "" for registrations.
func (s *Store) sourcePathTaken(sess *storage.Session, path, excludeID string) (bool, error) {
	rs, err := sess.Query("SELECT COUNT(*) FROM webhooks WHERE source_path = ? AND id != ?", path, excludeID)
	if err != nil {
		return false, fmt.Errorf("failed to check source_path uniqueness: %w", err)
	}

	return firstInt(rs) > 0, nil
}

// loadWebhookWhere fetches a single webhook inside an open session.
func (s *Store) loadWebhookWhere(sess *storage.Session, where string, arg any) (*Webhook, error) {
	rs, err := sess.Query("SELECT "+webhookColumns+" FROM webhooks WHERE "+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook: %w", err)
	}

	if len(rs.Rows) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrWebhookNotFound, arg)
	}

	return scanWebhook(rs.Rows[0])
}

func (s *Store) listReferenceTablesWhere(ctx context.Context, where string, args ...any) ([]ReferenceTable, error) {
	rs, err := s.engine.Query(ctx, "SELECT "+referenceTableColumns+" FROM reference_tables WHERE "+where+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reference tables: %w", err)
	}

	tables := make([]ReferenceTable, 0, len(rs.Rows))

	for _, row := range rs.Rows {
		table, err := scanReferenceTable(row)
		if err != nil {
			return nil, err
		}

		tables = append(tables, *table)
	}

	return tables, nil
}

func (s *Store) listUDFsWhere(ctx context.Context, where string, args ...any) ([]UDF, error) {
	rs, err := s.engine.Query(ctx, "SELECT "+udfColumns+" FROM udfs WHERE "+where+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list udfs: %w", err)
	}

	udfs := make([]UDF, 0, len(rs.Rows))

	for _, row := range rs.Rows {
		udf, err := scanUDF(row)
		if err != nil {
			return nil, err
		}

		udfs = append(udfs, *udf)
	}

	return udfs, nil
}

// scanWebhook decodes one result row in webhookColumns order.
func scanWebhook(row []any) (*Webhook, error) {
	if len(row) != 9 {
		return nil, fmt.Errorf("webhook row has %d columns, want 9", len(row))
	}

	createdAt, err := scanTime(row[7])
	if err != nil {
		return nil, fmt.Errorf("webhook created_at: %w", err)
	}

	updatedAt, err := scanTime(row[8])
	if err != nil {
		return nil, fmt.Errorf("webhook updated_at: %w", err)
	}

	return &Webhook{
		ID:             scanString(row[0]),
		SourcePath:     scanString(row[1]),
		DestinationURL: scanString(row[2]),
		TransformQuery: scanString(row[3]),
		FilterQuery:    scanString(row[4]),
		Owner:          scanString(row[5]),
		Active:         scanInt(row[6]) != 0,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// scanReferenceTable decodes one result row in referenceTableColumns order.
func scanReferenceTable(row []any) (*ReferenceTable, error) {
	if len(row) != 6 {
		return nil, fmt.Errorf("reference table row has %d columns, want 6", len(row))
	}

	createdAt, err := scanTime(row[5])
	if err != nil {
		return nil, fmt.Errorf("reference table created_at: %w", err)
	}

	return &ReferenceTable{
		ID:           scanString(row[0]),
		WebhookID:    scanString(row[1]),
		TableName:    scanString(row[2]),
		Description:  scanString(row[3]),
		PhysicalName: scanString(row[4]),
		CreatedAt:    createdAt,
	}, nil
}

// scanUDF decodes one result row in udfColumns order.
func scanUDF(row []any) (*UDF, error) {
	if len(row) != 6 {
		return nil, fmt.Errorf("udf row has %d columns, want 6", len(row))
	}

	createdAt, err := scanTime(row[5])
	if err != nil {
		return nil, fmt.Errorf("udf created_at: %w", err)
	}

	return &UDF{
		ID:           scanString(row[0]),
		WebhookID:    scanString(row[1]),
		FunctionName: scanString(row[2]),
		SourceCode:   scanString(row[3]),
		PhysicalName: scanString(row[4]),
		CreatedAt:    createdAt,
	}, nil
}

// scanString converts an engine value to string; NULL becomes "".
func scanString(v any) string {
	s, _ := v.(string)

	return s
}

// scanInt converts an engine value to int64; NULL becomes 0.
func scanInt(v any) int64 {
	n, _ := v.(int64)

	return n
}

// scanTime decodes a timestamp column written by storage.FormatTime.
func scanTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp column is %T, want string", v)
	}

	return storage.ParseTime(s)
}

// firstInt returns the first column of the first row as an int64 (0 when the
// result set is empty). Used for COUNT(*) style queries.
func firstInt(rs *storage.ResultSet) int64 {
	if len(rs.Rows) == 0 || len(rs.Rows[0]) == 0 {
		return 0
	}

	n, _ := rs.Rows[0][0].(int64)

	return n
}

// nullable maps "" to nil so optional text columns store NULL rather than the
// empty string.
func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}
