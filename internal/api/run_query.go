package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/hookgate-io/hookgate/internal/api/middleware"
)

// writeKeywordPattern matches SQL keywords that modify state. Word boundaries
// keep column names like updated_at or created_at from tripping the check.
var writeKeywordPattern = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|truncate|alter|create)\b`)

// handleQuery handles ad-hoc read-only SQL.
// POST /query - Run an operator-supplied SELECT against the engine
//
// Form fields (urlencoded or multipart):
//   - query: the SQL statement (required)
//
// Statements containing write keywords (INSERT, UPDATE, DELETE, DROP,
// TRUNCATE, ALTER, CREATE) are rejected; state changes go through the typed
// endpoints. The query shares the engine with live ingress traffic, so slow
// scans hold up event processing; this is an operator debugging tool, not a
// reporting interface.
//
// Responses:
//   - 200 OK: {"columns":[...],"rows":[[...]]}
//   - 400 Bad Request: Missing query, a write keyword, or SQL the engine
//     rejects (the engine's message is returned verbatim)
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
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

	query := r.FormValue("query")
	if query == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("The query field is required"))

		return
	}

	if writeKeywordPattern.MatchString(query) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Write operations not allowed in ad-hoc queries"))

		return
	}

	rs, err := s.engine.Query(r.Context(), query)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Query failed: "+err.Error()))

		return
	}

	s.writeJSON(w, r, http.StatusOK, QueryResponse{
		Columns: rs.Columns,
		Rows:    rs.Rows,
	})

	s.logger.Info("Ad-hoc query executed",
		slog.String("correlation_id", correlationID),
		slog.Int("rows", len(rs.Rows)),
		slog.Duration("duration", time.Since(startTime)),
	)
}
