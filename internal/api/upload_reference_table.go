package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hookgate-io/hookgate/internal/api/middleware"
	"github.com/hookgate-io/hookgate/internal/catalog"
)

// handleUploadTable handles reference table uploads.
// POST /upload_table - Upload a CSV file as a lookup table for one webhook
//
// Multipart form fields:
//   - webhook_id: owning webhook (required)
//   - table_name: logical name used in transform/filter SQL (required)
//   - description: free text (optional)
//   - file: the CSV document, first row is the header (required)
//
// Re-uploading the same table name replaces the rows; the metadata row keeps
// its id. The physical table is scoped to the webhook, so two webhooks can
// both own a table called "users" without colliding.
//
// Responses:
//   - 200 OK: Table installed; body carries the metadata id, the SQL name
//     to use in transform and filter queries, and the loaded row count
//   - 400 Bad Request: Missing fields, a bad logical name, or malformed CSV
//   - 404 Not Found: No webhook with the given id
//   - 413 Payload Too Large: Upload exceeds MaxRequestSize
func (s *Server) handleUploadTable(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	file, _, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, PayloadTooLarge("Upload exceeds the maximum request size"))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("The file field is required and must be a multipart upload"))

		return
	}
	defer file.Close()

	webhookID := r.FormValue("webhook_id")
	if webhookID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("The webhook_id field is required"))

		return
	}

	tableName := r.FormValue("table_name")
	if tableName == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("The table_name field is required"))

		return
	}

	table, rowCount, err := s.installer.InstallReferenceTable(
		r.Context(), webhookID, tableName, r.FormValue("description"), file,
	)
	if err != nil {
		s.writeDomainError(w, r, err, "install reference table")

		return
	}

	s.writeJSON(w, r, http.StatusOK, UploadTableResponse{
		Status:       "success",
		TableID:      table.ID,
		TableName:    table.TableName,
		SQLTableName: table.PhysicalName,
		RowCount:     rowCount,
	})

	s.logger.Info("Reference table uploaded",
		slog.String("correlation_id", correlationID),
		slog.String("webhook_id", webhookID),
		slog.String("table_name", table.TableName),
		slog.Int("row_count", rowCount),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// handleListReferenceTables handles the reference table list view.
// GET /reference_tables - All reference tables across webhooks
// GET /reference_tables/{webhookID} - Tables attached to one webhook
//
// An unknown webhook id yields an empty list rather than 404; the filter is
// a plain WHERE clause, not an existence check.
func (s *Server) handleListReferenceTables(w http.ResponseWriter, r *http.Request) {
	var (
		tables []catalog.ReferenceTable
		err    error
	)

	if webhookID := r.PathValue("webhookID"); webhookID != "" {
		tables, err = s.catalog.ListReferenceTablesByWebhook(r.Context(), webhookID)
	} else {
		tables, err = s.catalog.ListReferenceTables(r.Context())
	}

	if err != nil {
		s.writeDomainError(w, r, err, "list reference tables")

		return
	}

	summaries := make([]ReferenceTableSummary, 0, len(tables))
	for i := range tables {
		summaries = append(summaries, ReferenceTableSummary{
			ID:          tables[i].ID,
			WebhookID:   tables[i].WebhookID,
			TableName:   tables[i].TableName,
			Description: tables[i].Description,
			CreatedAt:   tables[i].CreatedAt,
		})
	}

	s.writeJSON(w, r, http.StatusOK, ReferenceTableListResponse{
		Status:          "success",
		ReferenceTables: summaries,
	})
}

// handleDeleteReferenceTable handles reference table removal.
// DELETE /reference_table/{id} - Drop one reference table and its metadata
//
// Responses:
//   - 200 OK: Deleted
//   - 404 Not Found: No reference table with the given id
func (s *Server) handleDeleteReferenceTable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.installer.RemoveReferenceTable(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err, "delete reference table")

		return
	}

	s.logger.Info("Reference table deleted",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("table_id", id),
	)

	s.writeJSON(w, r, http.StatusOK, DeleteResponse{
		Status:  "success",
		Message: "Reference table deleted",
	})
}
