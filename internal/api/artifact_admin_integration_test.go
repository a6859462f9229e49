package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
)

// TestReferenceTableAdminIntegration tests CSV uploads end to end: install,
// replace, join from a transform, and removal of the physical table.
func TestReferenceTableAdminIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := newTestServer(t)

	webhook := registerTestWebhook(t, server, RegisterWebhookRequest{
		SourcePath:     "/inventory",
		DestinationURL: "https://sink.example.com/inventory",
		TransformQuery: "SELECT payload ->> '$.sku' AS sku FROM {{payload}}",
	})

	var sqlTableName string

	t.Run("Uploads A CSV As A Reference Table", func(t *testing.T) {
		rr := postMultipart(t, server, "/upload_table", map[string]string{
			"webhook_id":  webhook.ID,
			"table_name":  "countries",
			"description": "ISO code lookup",
		}, "code,label\nUS,United States\nDE,Germany\n")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp UploadTableResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse upload response: %v", err)
		}

		if resp.Status != "success" {
			t.Errorf("Expected status %q, got %q", "success", resp.Status)
		}

		if resp.TableID == "" {
			t.Error("Expected a table id to be assigned")
		}

		if resp.RowCount != 2 {
			t.Errorf("Expected 2 rows loaded, got %d", resp.RowCount)
		}

		wantName := "ref_" + strings.ReplaceAll(webhook.ID, "-", "_") + "_countries"
		if resp.SQLTableName != wantName {
			t.Errorf("Expected SQL table name %q, got %q", wantName, resp.SQLTableName)
		}

		sqlTableName = resp.SQLTableName
	})

	t.Run("Queries The Uploaded Rows", func(t *testing.T) {
		rr := postForm(server, "/query", map[string]string{
			"query": "SELECT COUNT(*) AS n FROM " + sqlTableName,
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp QueryResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse query response: %v", err)
		}

		if len(resp.Rows) != 1 || len(resp.Rows[0]) != 1 {
			t.Fatalf("Expected a single count cell, got %v", resp.Rows)
		}

		if n, ok := resp.Rows[0][0].(float64); !ok || n != 2 {
			t.Errorf("Expected count 2, got %v", resp.Rows[0][0])
		}
	})

	t.Run("Replaces Rows On Re-Upload", func(t *testing.T) {
		rr := postMultipart(t, server, "/upload_table", map[string]string{
			"webhook_id":  webhook.ID,
			"table_name":  "countries",
			"description": "ISO code lookup, extended",
		}, "code,label\nUS,United States\nDE,Germany\nFR,France\n")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp UploadTableResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse upload response: %v", err)
		}

		if resp.RowCount != 3 {
			t.Errorf("Expected 3 rows after re-upload, got %d", resp.RowCount)
		}

		countRR := postForm(server, "/query", map[string]string{
			"query": "SELECT COUNT(*) AS n FROM " + sqlTableName,
		})

		var count QueryResponse
		if err := json.Unmarshal(countRR.Body.Bytes(), &count); err != nil {
			t.Fatalf("Failed to parse count response: %v", err)
		}

		if n, ok := count.Rows[0][0].(float64); !ok || n != 3 {
			t.Errorf("Expected count 3 after re-upload, got %v", count.Rows[0][0])
		}
	})

	t.Run("Joins The Table In A Transform", func(t *testing.T) {
		sink, ts := newDeliverySink(t, http.StatusOK)

		registerTestWebhook(t, server, RegisterWebhookRequest{
			SourcePath:     "/shipments",
			DestinationURL: ts.URL,
			TransformQuery: fmt.Sprintf(
				"SELECT p.payload ->> '$.country' AS code, c.label AS label FROM {{payload}} p JOIN %s c ON c.code = p.payload ->> '$.country'",
				sqlTableName,
			),
		})

		req := httptest.NewRequest(http.MethodPost, "/shipments", strings.NewReader(`{"country":"DE"}`))
		rr := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		if sink.count() != 1 {
			t.Fatalf("Expected 1 delivery, got %d", sink.count())
		}

		var delivered map[string]interface{}
		if err := json.Unmarshal(sink.last(), &delivered); err != nil {
			t.Fatalf("Failed to parse delivered payload: %v", err)
		}

		want := map[string]interface{}{"code": "DE", "label": "Germany"}
		if !reflect.DeepEqual(delivered, want) {
			t.Errorf("Expected delivery %v, got %v", want, delivered)
		}
	})

	t.Run("Lists Tables For The Webhook", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/reference_tables/"+webhook.ID, "")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp ReferenceTableListResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse list response: %v", err)
		}

		if len(resp.ReferenceTables) != 1 {
			t.Fatalf("Expected 1 reference table, got %d", len(resp.ReferenceTables))
		}

		if resp.ReferenceTables[0].TableName != "countries" {
			t.Errorf("Expected table name %q, got %q", "countries", resp.ReferenceTables[0].TableName)
		}

		if resp.ReferenceTables[0].WebhookID != webhook.ID {
			t.Errorf("Expected webhook id %q, got %q", webhook.ID, resp.ReferenceTables[0].WebhookID)
		}
	})

	t.Run("Rejects An Unsafe Logical Name", func(t *testing.T) {
		rr := postMultipart(t, server, "/upload_table", map[string]string{
			"webhook_id": webhook.ID,
			"table_name": "drop;table",
		}, "a,b\n1,2\n")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})

	t.Run("Rejects A Missing File Part", func(t *testing.T) {
		rr := postMultipart(t, server, "/upload_table", map[string]string{
			"webhook_id": webhook.ID,
			"table_name": "orphan",
		}, "")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})

	t.Run("Returns 404 For An Unknown Webhook", func(t *testing.T) {
		rr := postMultipart(t, server, "/upload_table", map[string]string{
			"webhook_id": "no-such-webhook",
			"table_name": "stray",
		}, "a,b\n1,2\n")

		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusNotFound, rr.Code, rr.Body.String())
		}
	})

	t.Run("Deletes The Table", func(t *testing.T) {
		listRR := adminJSON(server, http.MethodGet, "/reference_tables/"+webhook.ID, "")

		var list ReferenceTableListResponse
		if err := json.Unmarshal(listRR.Body.Bytes(), &list); err != nil {
			t.Fatalf("Failed to parse list response: %v", err)
		}

		if len(list.ReferenceTables) != 1 {
			t.Fatalf("Expected 1 reference table before delete, got %d", len(list.ReferenceTables))
		}

		rr := adminJSON(server, http.MethodDelete, "/reference_table/"+list.ReferenceTables[0].ID, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		listRR = adminJSON(server, http.MethodGet, "/reference_tables/"+webhook.ID, "")
		if err := json.Unmarshal(listRR.Body.Bytes(), &list); err != nil {
			t.Fatalf("Failed to parse list response: %v", err)
		}

		if len(list.ReferenceTables) != 0 {
			t.Errorf("Expected no reference tables after delete, got %d", len(list.ReferenceTables))
		}

		// The physical table must be gone too, not just the metadata row.
		queryRR := postForm(server, "/query", map[string]string{
			"query": "SELECT COUNT(*) AS n FROM " + sqlTableName,
		})

		if queryRR.Code != http.StatusBadRequest {
			t.Errorf("Expected querying the dropped table to fail with %d, got %d. Body: %s",
				http.StatusBadRequest, queryRR.Code, queryRR.Body.String())
		}
	})
}

// TestUDFAdminIntegration tests Lua scalar functions end to end: registration
// in both form encodings, use during evaluation, re-registration, and removal.
func TestUDFAdminIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := newTestServer(t)

	webhook := registerTestWebhook(t, server, RegisterWebhookRequest{
		SourcePath:     "/telemetry",
		DestinationURL: "https://sink.example.com/telemetry",
		TransformQuery: "SELECT payload FROM {{payload}}",
	})

	doubleSource := "---@param n int\n---@return int\nfunction double_it(n)\n  return n * 2\nend\n"

	var doubled RegisterUDFResponse

	t.Run("Registers A Lua Function", func(t *testing.T) {
		rr := postForm(server, "/register_udf", map[string]string{
			"webhook_id":    webhook.ID,
			"function_name": "double_it",
			"function_code": doubleSource,
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		if err := json.Unmarshal(rr.Body.Bytes(), &doubled); err != nil {
			t.Fatalf("Failed to parse UDF response: %v", err)
		}

		if doubled.Status != "success" {
			t.Errorf("Expected status %q, got %q", "success", doubled.Status)
		}

		if doubled.UDFID == "" {
			t.Error("Expected a UDF id to be assigned")
		}

		if doubled.FunctionName != "double_it" {
			t.Errorf("Expected function name %q, got %q", "double_it", doubled.FunctionName)
		}

		wantName := "udf_" + strings.ReplaceAll(webhook.ID, "-", "_") + "_double_it"
		if doubled.SQLFunctionName != wantName {
			t.Errorf("Expected SQL function name %q, got %q", wantName, doubled.SQLFunctionName)
		}
	})

	t.Run("Accepts Multipart Form Encoding", func(t *testing.T) {
		rr := postMultipart(t, server, "/register_udf", map[string]string{
			"webhook_id":    webhook.ID,
			"function_name": "upper_it",
			"function_code": "function upper_it(s)\n  return string.upper(s)\nend\n",
		}, "")

		if rr.Code != http.StatusOK {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}
	})

	t.Run("Applies The Function During Evaluation", func(t *testing.T) {
		sink, ts := newDeliverySink(t, http.StatusOK)

		registerTestWebhook(t, server, RegisterWebhookRequest{
			SourcePath:     "/scored",
			DestinationURL: ts.URL,
			TransformQuery: fmt.Sprintf("SELECT %s(payload ->> '$.n') AS doubled FROM {{payload}}", doubled.SQLFunctionName),
		})

		req := httptest.NewRequest(http.MethodPost, "/scored", strings.NewReader(`{"n":21}`))
		rr := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var outcome IngressResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
			t.Fatalf("Failed to parse ingress response: %v", err)
		}

		if outcome.Status != "success" {
			t.Fatalf("Expected outcome %q, got %q (%s)", "success", outcome.Status, outcome.Detail)
		}

		var delivered map[string]interface{}
		if err := json.Unmarshal(sink.last(), &delivered); err != nil {
			t.Fatalf("Failed to parse delivered payload: %v", err)
		}

		if n, ok := delivered["doubled"].(float64); !ok || n != 42 {
			t.Errorf("Expected doubled 42, got %v", delivered["doubled"])
		}
	})

	t.Run("Defaults Untyped Functions To Text", func(t *testing.T) {
		sink, ts := newDeliverySink(t, http.StatusOK)

		udfRR := postForm(server, "/register_udf", map[string]string{
			"webhook_id":    webhook.ID,
			"function_name": "shout",
			"function_code": "function shout(s)\n  return s .. '!'\nend\n",
		})

		if udfRR.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, udfRR.Code, udfRR.Body.String())
		}

		var shout RegisterUDFResponse
		if err := json.Unmarshal(udfRR.Body.Bytes(), &shout); err != nil {
			t.Fatalf("Failed to parse UDF response: %v", err)
		}

		registerTestWebhook(t, server, RegisterWebhookRequest{
			SourcePath:     "/shouted",
			DestinationURL: ts.URL,
			TransformQuery: fmt.Sprintf("SELECT %s(payload ->> '$.name') AS name FROM {{payload}}", shout.SQLFunctionName),
		})

		req := httptest.NewRequest(http.MethodPost, "/shouted", strings.NewReader(`{"name":"ada"}`))
		rr := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var outcome IngressResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
			t.Fatalf("Failed to parse ingress response: %v", err)
		}

		if outcome.Status != "success" {
			t.Fatalf("Expected outcome %q, got %q (%s)", "success", outcome.Status, outcome.Detail)
		}

		var delivered map[string]interface{}
		if err := json.Unmarshal(sink.last(), &delivered); err != nil {
			t.Fatalf("Failed to parse delivered payload: %v", err)
		}

		if delivered["name"] != "ada!" {
			t.Errorf("Expected name %q, got %v", "ada!", delivered["name"])
		}
	})

	t.Run("Lists Functions For The Webhook", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/udfs/"+webhook.ID, "")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp UDFListResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse list response: %v", err)
		}

		if len(resp.UDFs) != 3 {
			t.Fatalf("Expected 3 functions, got %d", len(resp.UDFs))
		}

		found := false

		for _, udf := range resp.UDFs {
			if udf.Name != "double_it" {
				continue
			}

			found = true

			if !strings.Contains(udf.Code, "function double_it") {
				t.Errorf("Expected stored source for double_it, got %q", udf.Code)
			}
		}

		if !found {
			t.Error("Expected double_it in the function list")
		}
	})

	t.Run("Rejects Source That Does Not Compile", func(t *testing.T) {
		rr := postForm(server, "/register_udf", map[string]string{
			"webhook_id":    webhook.ID,
			"function_name": "broken",
			"function_code": "function broken(",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})

	t.Run("Rejects A Chunk Missing The Function", func(t *testing.T) {
		rr := postForm(server, "/register_udf", map[string]string{
			"webhook_id":    webhook.ID,
			"function_name": "absent",
			"function_code": "local x = 1",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})

	t.Run("Rejects A Zero-Argument Function", func(t *testing.T) {
		rr := postForm(server, "/register_udf", map[string]string{
			"webhook_id":    webhook.ID,
			"function_name": "noargs",
			"function_code": "function noargs()\n  return 1\nend\n",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})

	t.Run("Returns 404 For An Unknown Webhook", func(t *testing.T) {
		rr := postForm(server, "/register_udf", map[string]string{
			"webhook_id":    "no-such-webhook",
			"function_name": "stray",
			"function_code": "function stray(x)\n  return x\nend\n",
		})

		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusNotFound, rr.Code, rr.Body.String())
		}
	})

	t.Run("Re-Registration Replaces The Implementation", func(t *testing.T) {
		rr := postForm(server, "/register_udf", map[string]string{
			"webhook_id":    webhook.ID,
			"function_name": "double_it",
			"function_code": "---@param n int\n---@return int\nfunction double_it(n)\n  return n * 3\nend\n",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp RegisterUDFResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse UDF response: %v", err)
		}

		if resp.UDFID != doubled.UDFID {
			t.Errorf("Expected re-registration to keep id %s, got %s", doubled.UDFID, resp.UDFID)
		}

		req := httptest.NewRequest(http.MethodPost, "/scored", strings.NewReader(`{"n":10}`))
		eventRR := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(eventRR, req)

		if eventRR.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, eventRR.Code, eventRR.Body.String())
		}

		var outcome IngressResponse
		if err := json.Unmarshal(eventRR.Body.Bytes(), &outcome); err != nil {
			t.Fatalf("Failed to parse ingress response: %v", err)
		}

		if outcome.Status != "success" {
			t.Fatalf("Expected outcome %q, got %q (%s)", "success", outcome.Status, outcome.Detail)
		}
	})

	t.Run("Deleted Functions Stop Resolving", func(t *testing.T) {
		rr := adminJSON(server, http.MethodDelete, "/udf/"+doubled.UDFID, "")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		req := httptest.NewRequest(http.MethodPost, "/scored", strings.NewReader(`{"n":5}`))
		eventRR := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(eventRR, req)

		if eventRR.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, eventRR.Code, eventRR.Body.String())
		}

		var outcome IngressResponse
		if err := json.Unmarshal(eventRR.Body.Bytes(), &outcome); err != nil {
			t.Fatalf("Failed to parse ingress response: %v", err)
		}

		if outcome.Status != "error" {
			t.Fatalf("Expected outcome %q, got %q", "error", outcome.Status)
		}

		if !strings.Contains(outcome.Detail, "no such function") {
			t.Errorf("Expected detail to mention the missing function, got %q", outcome.Detail)
		}
	})
}

// TestQueryEndpointIntegration tests the ad-hoc query console.
func TestQueryEndpointIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := newTestServer(t)

	registerTestWebhook(t, server, RegisterWebhookRequest{
		SourcePath:     "/query-probe",
		DestinationURL: "https://sink.example.com/probe",
		TransformQuery: "SELECT payload FROM {{payload}}",
	})

	t.Run("Runs A Read-Only Query", func(t *testing.T) {
		rr := postForm(server, "/query", map[string]string{
			"query": "SELECT source_path FROM webhooks",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp QueryResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse query response: %v", err)
		}

		if len(resp.Columns) != 1 || resp.Columns[0] != "source_path" {
			t.Errorf("Expected columns [source_path], got %v", resp.Columns)
		}

		if len(resp.Rows) != 1 || resp.Rows[0][0] != "/query-probe" {
			t.Errorf("Expected the registered path in results, got %v", resp.Rows)
		}
	})

	t.Run("Rejects Write Keywords", func(t *testing.T) {
		rr := postForm(server, "/query", map[string]string{
			"query": "DELETE FROM webhooks",
		})

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}

		var errorResp map[string]interface{}
		if err := json.Unmarshal(rr.Body.Bytes(), &errorResp); err != nil {
			t.Fatalf("Failed to parse error response: %v", err)
		}

		if detail, _ := errorResp["detail"].(string); detail != "Write operations not allowed in ad-hoc queries" {
			t.Errorf("Unexpected rejection detail: %q", detail)
		}
	})

	t.Run("Allows Keyword Substrings In Identifiers", func(t *testing.T) {
		// Column names like updated_at must not trip the write guard.
		rr := postForm(server, "/query", map[string]string{
			"query": "SELECT updated_at FROM webhooks",
		})

		if rr.Code != http.StatusOK {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}
	})

	t.Run("Reports Engine Errors As Bad Requests", func(t *testing.T) {
		rr := postForm(server, "/query", map[string]string{
			"query": "SELECT * FROM table_that_never_was",
		})

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}

		var errorResp map[string]interface{}
		if err := json.Unmarshal(rr.Body.Bytes(), &errorResp); err != nil {
			t.Fatalf("Failed to parse error response: %v", err)
		}

		if detail, _ := errorResp["detail"].(string); !strings.HasPrefix(detail, "Query failed:") {
			t.Errorf("Expected detail to carry the engine error, got %q", detail)
		}
	})

	t.Run("Requires The Query Field", func(t *testing.T) {
		rr := postForm(server, "/query", map[string]string{})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})
}

// postForm sends an admin request with a URL-encoded form body.
func postForm(server *Server, target string, fields map[string]string) *httptest.ResponseRecorder {
	form := url.Values{}
	for key, value := range fields {
		form.Set(key, value)
	}

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-API-Key", testAPIKey)

	rr := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rr, req)

	return rr
}

// postMultipart sends an admin request with a multipart form body, attaching
// csv as the file part when non-empty.
func postMultipart(t *testing.T, server *Server, target string, fields map[string]string, csv string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("Failed to write form field %s: %v", key, err)
		}
	}

	if csv != "" {
		part, err := writer.CreateFormFile("file", "table.csv")
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}

		if _, err := part.Write([]byte(csv)); err != nil {
			t.Fatalf("Failed to write csv payload: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to finalize multipart body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", testAPIKey)

	rr := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rr, req)

	return rr
}
