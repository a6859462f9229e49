package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hookgate-io/hookgate/internal/api/middleware"
	"github.com/hookgate-io/hookgate/internal/catalog"
)

// handleRegisterUDF handles user-defined function registration.
// POST /register_udf - Register a Lua scalar function for one webhook
//
// Form fields (urlencoded or multipart):
//   - webhook_id: owning webhook (required)
//   - function_name: top-level function the code must define (required)
//   - function_code: the Lua chunk (required)
//
// The chunk is compiled before anything is stored; registration fails when it
// has syntax errors, does not define the named function, or the function
// takes no parameters. Re-registering the same name replaces the
// implementation. The response carries the engine-visible sql_function_name
// callers write in their transform and filter SQL.
//
// Responses:
//   - 200 OK: Function registered and bound to the engine
//   - 400 Bad Request: Missing fields or a rejected chunk
//   - 404 Not Found: No webhook with the given id
//   - 413 Payload Too Large: Body exceeds MaxRequestSize
func (s *Server) handleRegisterUDF(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	if err := r.ParseMultipartForm(s.config.MaxRequestSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, PayloadTooLarge("Request body exceeds the maximum request size"))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("Malformed form data: "+err.Error()))

		return
	}

	webhookID := r.FormValue("webhook_id")
	if webhookID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("The webhook_id field is required"))

		return
	}

	functionName := r.FormValue("function_name")
	if functionName == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("The function_name field is required"))

		return
	}

	functionCode := r.FormValue("function_code")
	if functionCode == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("The function_code field is required"))

		return
	}

	udf, err := s.installer.InstallUDF(r.Context(), webhookID, functionName, functionCode)
	if err != nil {
		s.writeDomainError(w, r, err, "register udf")

		return
	}

	s.writeJSON(w, r, http.StatusOK, RegisterUDFResponse{
		Status:          "success",
		UDFID:           udf.ID,
		FunctionName:    udf.FunctionName,
		SQLFunctionName: udf.PhysicalName,
	})

	s.logger.Info("UDF registered",
		slog.String("correlation_id", correlationID),
		slog.String("webhook_id", webhookID),
		slog.String("function_name", udf.FunctionName),
		slog.String("sql_function_name", udf.PhysicalName),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// handleListUDFs handles the user-defined function list view.
// GET /udfs - All registered functions across webhooks
// GET /udfs/{webhookID} - Functions attached to one webhook
//
// An unknown webhook id yields an empty list rather than 404.
func (s *Server) handleListUDFs(w http.ResponseWriter, r *http.Request) {
	var (
		udfs []catalog.UDF
		err  error
	)

	if webhookID := r.PathValue("webhookID"); webhookID != "" {
		udfs, err = s.catalog.ListUDFsByWebhook(r.Context(), webhookID)
	} else {
		udfs, err = s.catalog.ListUDFs(r.Context())
	}

	if err != nil {
		s.writeDomainError(w, r, err, "list udfs")

		return
	}

	summaries := make([]UDFSummary, 0, len(udfs))
	for i := range udfs {
		summaries = append(summaries, UDFSummary{
			ID:        udfs[i].ID,
			WebhookID: udfs[i].WebhookID,
			Name:      udfs[i].FunctionName,
			Code:      udfs[i].SourceCode,
			CreatedAt: udfs[i].CreatedAt,
		})
	}

	s.writeJSON(w, r, http.StatusOK, UDFListResponse{
		Status: "success",
		UDFs:   summaries,
	})
}

// handleDeleteUDF handles user-defined function removal.
// DELETE /udf/{id} - Unbind one function from the engine and drop its metadata
//
// Responses:
//   - 200 OK: Deleted
//   - 404 Not Found: No UDF with the given id
func (s *Server) handleDeleteUDF(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.installer.RemoveUDF(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err, "delete udf")

		return
	}

	s.logger.Info("UDF deleted",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("udf_id", id),
	)

	s.writeJSON(w, r, http.StatusOK, DeleteResponse{
		Status:  "success",
		Message: "UDF deleted",
	})
}
