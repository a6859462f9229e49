package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hookgate-io/hookgate/internal/catalog"
	"github.com/hookgate-io/hookgate/internal/storage"
)

// Installer keeps physical engine objects and catalog metadata in step.
//
// Install operations create the engine object first and roll it back if the
// metadata write fails; remove operations drop the engine object first
// (tolerating objects that are already gone) and then the metadata row, so a
// crash between the two steps leaves at worst an orphan metadata row that the
// next Reconcile sweeps up.
type Installer struct {
	engine  *storage.Engine
	catalog *catalog.Store
	logger  *slog.Logger

	// live holds the interpreter state behind every currently bound scalar
	// function, keyed by physical name, so removal can release it.
	mu   sync.Mutex
	live map[string]*Function
}

// NewInstaller creates an installer over the engine and catalog store.
func NewInstaller(engine *storage.Engine, cat *catalog.Store, logger *slog.Logger) (*Installer, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}

	if cat == nil {
		return nil, ErrNilCatalog
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Installer{
		engine:  engine,
		catalog: cat,
		logger:  logger,
		live:    make(map[string]*Function),
	}, nil
}

// InstallReferenceTable loads CSV data as a webhook's reference table.
//
// The function performs the following operations in order:
//  1. Validate the logical table name
//  2. Confirm the owning webhook exists
//  3. Load the CSV into the physical table (replacing any previous upload)
//  4. Upsert the metadata row
//
// Returns the metadata row and the number of data rows loaded.
func (i *Installer) InstallReferenceTable(ctx context.Context, webhookID, tableName, description string, csvData io.Reader) (*catalog.ReferenceTable, int, error) {
	if err := ValidateIdentifier(tableName); err != nil {
		return nil, 0, err
	}

	if _, err := i.catalog.GetWebhook(ctx, webhookID); err != nil {
		return nil, 0, err
	}

	physicalName := PhysicalTableName(webhookID, tableName)

	rowCount, err := i.engine.CreateTableFromCSV(ctx, physicalName, csvData)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	table, err := i.catalog.UpsertReferenceTable(ctx, webhookID, tableName, description, physicalName)
	if err != nil {
		// The physical table exists but the metadata write failed (e.g. the
		// webhook was deleted mid-upload). Drop the table again so nothing
		// unclaimed is left behind.
		if dropErr := i.engine.DropTable(ctx, physicalName); dropErr != nil {
			i.logger.Warn("failed to drop reference table after metadata error",
				slog.String("physical_name", physicalName),
				slog.String("error", dropErr.Error()),
			)
		}

		return nil, 0, err
	}

	i.logger.Info("reference table installed",
		slog.String("webhook_id", webhookID),
		slog.String("table_name", tableName),
		slog.String("physical_name", physicalName),
		slog.Int("rows", rowCount),
	)

	return table, rowCount, nil
}

// InstallUDF compiles a Lua chunk and registers its named function as a
// scalar function of the owning webhook.
//
// The function performs the following operations in order:
//  1. Confirm the owning webhook exists
//  2. Validate the logical name, compile the chunk, extract the function
//     (arity >= 1)
//  3. Bind it into the engine under the physical name
//  4. Upsert the metadata row (re-registration replaces the implementation)
func (i *Installer) InstallUDF(ctx context.Context, webhookID, functionName, source string) (*catalog.UDF, error) {
	if _, err := i.catalog.GetWebhook(ctx, webhookID); err != nil {
		return nil, err
	}

	fn, err := CompileFunction(functionName, source)
	if err != nil {
		return nil, err
	}

	physicalName := PhysicalFunctionName(webhookID, functionName)

	if err := i.bind(physicalName, fn); err != nil {
		fn.Close()

		return nil, err
	}

	udf, err := i.catalog.UpsertUDF(ctx, webhookID, functionName, source, physicalName)
	if err != nil {
		i.unbind(physicalName)

		return nil, err
	}

	i.logger.Info("udf installed",
		slog.String("webhook_id", webhookID),
		slog.String("function_name", functionName),
		slog.String("physical_name", physicalName),
		slog.Int("arity", fn.Arity),
	)

	return udf, nil
}

// RemoveReferenceTable drops the physical table, then the metadata row.
// A physical table that is already gone is not an error.
func (i *Installer) RemoveReferenceTable(ctx context.Context, id string) error {
	table, err := i.catalog.GetReferenceTable(ctx, id)
	if err != nil {
		return err
	}

	if err := i.engine.DropTable(ctx, table.PhysicalName); err != nil {
		return fmt.Errorf("failed to drop reference table %s: %w", table.PhysicalName, err)
	}

	if err := i.catalog.DeleteReferenceTable(ctx, id); err != nil {
		return err
	}

	i.logger.Info("reference table removed",
		slog.String("webhook_id", table.WebhookID),
		slog.String("table_name", table.TableName),
	)

	return nil
}

// RemoveUDF unbinds the scalar function from the engine, then deletes the
// metadata row. An unbound function is not an error.
func (i *Installer) RemoveUDF(ctx context.Context, id string) error {
	udf, err := i.catalog.GetUDF(ctx, id)
	if err != nil {
		return err
	}

	i.unbind(udf.PhysicalName)

	if err := i.catalog.DeleteUDF(ctx, id); err != nil {
		return err
	}

	i.logger.Info("udf removed",
		slog.String("webhook_id", udf.WebhookID),
		slog.String("function_name", udf.FunctionName),
	)

	return nil
}

// DeleteWebhook removes a webhook and everything attached to it: all
// reference tables and scalar functions (engine objects first, then
// metadata), and finally the webhook row. Historical events stay.
func (i *Installer) DeleteWebhook(ctx context.Context, webhookID string) error {
	if _, err := i.catalog.GetWebhook(ctx, webhookID); err != nil {
		return err
	}

	tables, err := i.catalog.ListReferenceTablesByWebhook(ctx, webhookID)
	if err != nil {
		return err
	}

	for _, table := range tables {
		if err := i.RemoveReferenceTable(ctx, table.ID); err != nil {
			return fmt.Errorf("failed to remove reference table %s: %w", table.TableName, err)
		}
	}

	udfs, err := i.catalog.ListUDFsByWebhook(ctx, webhookID)
	if err != nil {
		return err
	}

	for _, udf := range udfs {
		if err := i.RemoveUDF(ctx, udf.ID); err != nil {
			return fmt.Errorf("failed to remove udf %s: %w", udf.FunctionName, err)
		}
	}

	return i.catalog.DeleteWebhook(ctx, webhookID)
}

// Reconcile rebuilds engine state from metadata at startup.
//
// Scalar function registrations live in process memory, so every stored UDF
// is re-compiled from source and re-bound. A UDF whose source no longer
// compiles is logged and skipped rather than failing startup. Reference
// table metadata whose physical table is missing (a crash between drop and
// metadata delete) is swept away; the data itself is only recoverable by
// re-upload.
func (i *Installer) Reconcile(ctx context.Context) error {
	udfs, err := i.catalog.ListUDFs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list udfs for reconcile: %w", err)
	}

	rebound := 0

	for _, udf := range udfs {
		fn, err := CompileFunction(udf.FunctionName, udf.SourceCode)
		if err != nil {
			i.logger.Error("stored udf no longer compiles, skipping",
				slog.String("webhook_id", udf.WebhookID),
				slog.String("function_name", udf.FunctionName),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := i.bind(udf.PhysicalName, fn); err != nil {
			fn.Close()

			return err
		}

		rebound++
	}

	tables, err := i.catalog.ListReferenceTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list reference tables for reconcile: %w", err)
	}

	swept := 0

	for _, table := range tables {
		exists, err := i.engine.TableExists(ctx, table.PhysicalName)
		if err != nil {
			return err
		}

		if exists {
			continue
		}

		i.logger.Warn("reference table metadata without physical table, removing",
			slog.String("webhook_id", table.WebhookID),
			slog.String("table_name", table.TableName),
		)

		if err := i.catalog.DeleteReferenceTable(ctx, table.ID); err != nil {
			return err
		}

		swept++
	}

	i.logger.Info("artifact reconcile complete",
		slog.Int("udfs_rebound", rebound),
		slog.Int("orphan_tables_swept", swept),
	)

	return nil
}

// Close unbinds every live scalar function and releases its interpreter.
func (i *Installer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for name, fn := range i.live {
		i.engine.DropScalarFunction(name)
		fn.Close()
		delete(i.live, name)
	}

	return nil
}

// bind registers the function with the engine and tracks its interpreter,
// closing the previous one when a re-registration replaces it.
func (i *Installer) bind(physicalName string, fn *Function) error {
	if err := i.engine.RegisterScalarFunction(physicalName, fn.Call); err != nil {
		return err
	}

	i.mu.Lock()
	previous := i.live[physicalName]
	i.live[physicalName] = fn
	i.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	return nil
}

// unbind drops the engine binding and releases the interpreter, if any.
func (i *Installer) unbind(physicalName string) {
	i.engine.DropScalarFunction(physicalName)

	i.mu.Lock()
	fn := i.live[physicalName]
	delete(i.live, physicalName)
	i.mu.Unlock()

	if fn != nil {
		fn.Close()
	}
}
