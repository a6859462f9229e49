package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

// TestEventPipelineIntegration tests the ingress pipeline end to end: accept,
// transform, filter, dispatch over real HTTP, and audit.
func TestEventPipelineIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := newTestServer(t)
	sink, ts := newDeliverySink(t, http.StatusOK)

	webhook := registerTestWebhook(t, server, RegisterWebhookRequest{
		SourcePath:     "/orders",
		DestinationURL: ts.URL,
		TransformQuery: "SELECT payload ->> '$.customer' AS customer, payload ->> '$.total' AS total FROM {{payload}}",
	})

	rawEvent := `{"customer":"ada","total":99}`

	var eventID string

	t.Run("Delivers A Transformed Event", func(t *testing.T) {
		rr := postEvent(server, "/orders", rawEvent)

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

		if outcome.EventID == "" {
			t.Fatal("Expected an event id to be assigned")
		}

		eventID = outcome.EventID

		if sink.count() != 1 {
			t.Fatalf("Expected 1 delivery, got %d", sink.count())
		}

		var delivered map[string]interface{}
		if err := json.Unmarshal(sink.last(), &delivered); err != nil {
			t.Fatalf("Failed to parse delivered payload: %v", err)
		}

		want := map[string]interface{}{"customer": "ada", "total": float64(99)}
		if !reflect.DeepEqual(delivered, want) {
			t.Errorf("Expected delivery %v, got %v", want, delivered)
		}
	})

	t.Run("Records The Event For Audit", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/events", "")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp EventListResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse event list: %v", err)
		}

		var entry *EventSummaryResponse

		for i := range resp.Events {
			if resp.Events[i].ID == eventID {
				entry = &resp.Events[i]

				break
			}
		}

		if entry == nil {
			t.Fatalf("Expected event %s in the listing", eventID)
		}

		if entry.SourcePath != "/orders" {
			t.Errorf("Expected source path %q, got %q", "/orders", entry.SourcePath)
		}

		if entry.Success == nil || !*entry.Success {
			t.Errorf("Expected a successful delivery, got %v", entry.Success)
		}

		if entry.ResponseCode == nil || *entry.ResponseCode != http.StatusOK {
			t.Errorf("Expected response code 200, got %v", entry.ResponseCode)
		}
	})

	t.Run("Serves The Full Audit Detail", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/event/"+eventID+"/transformed", "")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var detail EventDetailResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
			t.Fatalf("Failed to parse event detail: %v", err)
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(detail.RawPayload, &raw); err != nil {
			t.Fatalf("Failed to parse stored raw payload: %v", err)
		}

		var original map[string]interface{}
		if err := json.Unmarshal([]byte(rawEvent), &original); err != nil {
			t.Fatalf("Failed to parse original payload: %v", err)
		}

		if !reflect.DeepEqual(raw, original) {
			t.Errorf("Expected raw payload %v, got %v", original, raw)
		}

		if detail.Transformed == nil {
			t.Fatal("Expected a recorded delivery attempt")
		}

		if !detail.Transformed.Success {
			t.Error("Expected the delivery to be recorded as successful")
		}

		if detail.Transformed.ResponseCode != http.StatusOK {
			t.Errorf("Expected response code 200, got %d", detail.Transformed.ResponseCode)
		}

		if detail.Transformed.WebhookID != webhook.ID {
			t.Errorf("Expected webhook id %q, got %q", webhook.ID, detail.Transformed.WebhookID)
		}

		if detail.Transformed.DestinationURL != ts.URL {
			t.Errorf("Expected destination %q, got %q", ts.URL, detail.Transformed.DestinationURL)
		}

		var transformed map[string]interface{}
		if err := json.Unmarshal(detail.Transformed.Payload, &transformed); err != nil {
			t.Fatalf("Failed to parse transformed payload: %v", err)
		}

		want := map[string]interface{}{"customer": "ada", "total": float64(99)}
		if !reflect.DeepEqual(transformed, want) {
			t.Errorf("Expected transformed payload %v, got %v", want, transformed)
		}
	})

	t.Run("Filters Events The Filter Rejects", func(t *testing.T) {
		paymentSink, paymentTS := newDeliverySink(t, http.StatusOK)

		registerTestWebhook(t, server, RegisterWebhookRequest{
			SourcePath:     "/payments",
			DestinationURL: paymentTS.URL,
			TransformQuery: "SELECT payload ->> '$.amount' AS amount FROM {{payload}}",
			FilterQuery:    "payload ->> '$.amount' >= 100",
		})

		rr := postEvent(server, "/payments", `{"amount":40}`)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var outcome IngressResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
			t.Fatalf("Failed to parse ingress response: %v", err)
		}

		if outcome.Status != "filtered" {
			t.Fatalf("Expected outcome %q, got %q", "filtered", outcome.Status)
		}

		if paymentSink.count() != 0 {
			t.Errorf("Expected no deliveries for a filtered event, got %d", paymentSink.count())
		}

		detailRR := adminJSON(server, http.MethodGet, "/event/"+outcome.EventID+"/transformed", "")

		var detail EventDetailResponse
		if err := json.Unmarshal(detailRR.Body.Bytes(), &detail); err != nil {
			t.Fatalf("Failed to parse event detail: %v", err)
		}

		if detail.Transformed != nil {
			t.Errorf("Expected no delivery record for a filtered event, got %+v", detail.Transformed)
		}

		rr = postEvent(server, "/payments", `{"amount":250}`)

		if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
			t.Fatalf("Failed to parse ingress response: %v", err)
		}

		if outcome.Status != "success" {
			t.Fatalf("Expected outcome %q, got %q (%s)", "success", outcome.Status, outcome.Detail)
		}

		if paymentSink.count() != 1 {
			t.Errorf("Expected 1 delivery for the passing event, got %d", paymentSink.count())
		}
	})

	t.Run("Reports Operator SQL Failures", func(t *testing.T) {
		// Dry validation tolerates the missing table, so this registers fine
		// and only fails when an event arrives.
		registerTestWebhook(t, server, RegisterWebhookRequest{
			SourcePath:     "/flaky",
			DestinationURL: "https://sink.example.com/flaky",
			TransformQuery: "SELECT p.payload AS p FROM {{payload}} p JOIN vanished_table ON 1 = 1",
		})

		rr := postEvent(server, "/flaky", `{"x":1}`)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var outcome IngressResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
			t.Fatalf("Failed to parse ingress response: %v", err)
		}

		if outcome.Status != "error" {
			t.Fatalf("Expected outcome %q, got %q", "error", outcome.Status)
		}

		if !strings.Contains(outcome.Detail, "no such table") {
			t.Errorf("Expected detail to carry the engine error, got %q", outcome.Detail)
		}

		detailRR := adminJSON(server, http.MethodGet, "/event/"+outcome.EventID+"/transformed", "")

		var detail EventDetailResponse
		if err := json.Unmarshal(detailRR.Body.Bytes(), &detail); err != nil {
			t.Fatalf("Failed to parse event detail: %v", err)
		}

		if detail.Transformed == nil {
			t.Fatal("Expected a failure record for the event")
		}

		if detail.Transformed.Success {
			t.Error("Expected the failure record to carry success false")
		}

		if detail.Transformed.ResponseCode != 0 {
			t.Errorf("Expected response code 0 for an evaluation failure, got %d", detail.Transformed.ResponseCode)
		}

		if !strings.Contains(detail.Transformed.ResponseBody, "no such table") {
			t.Errorf("Expected the engine error in the failure record, got %q", detail.Transformed.ResponseBody)
		}

		if string(detail.Transformed.Payload) != "null" {
			t.Errorf("Expected a null payload for an evaluation failure, got %s", detail.Transformed.Payload)
		}
	})

	t.Run("Delivers Multi-Row Results As An Array", func(t *testing.T) {
		batchSink, batchTS := newDeliverySink(t, http.StatusOK)

		registerTestWebhook(t, server, RegisterWebhookRequest{
			SourcePath:     "/batch",
			DestinationURL: batchTS.URL,
			TransformQuery: "SELECT je.value AS item FROM {{payload}} p, json_each(p.payload, '$.items') je",
		})

		rr := postEvent(server, "/batch", `{"items":[1,2,3]}`)

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

		var delivered []map[string]interface{}
		if err := json.Unmarshal(batchSink.last(), &delivered); err != nil {
			t.Fatalf("Failed to parse delivered payload: %v", err)
		}

		if len(delivered) != 3 {
			t.Fatalf("Expected 3 rows delivered, got %d", len(delivered))
		}

		if item, ok := delivered[0]["item"].(float64); !ok || item != 1 {
			t.Errorf("Expected first item 1, got %v", delivered[0]["item"])
		}
	})

	t.Run("Delivers An Empty Object When No Rows Match", func(t *testing.T) {
		ghostSink, ghostTS := newDeliverySink(t, http.StatusOK)

		registerTestWebhook(t, server, RegisterWebhookRequest{
			SourcePath:     "/ghost",
			DestinationURL: ghostTS.URL,
			TransformQuery: "SELECT payload AS p FROM {{payload}} WHERE 1 = 0",
		})

		rr := postEvent(server, "/ghost", `{"anything":true}`)

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
		if err := json.Unmarshal(ghostSink.last(), &delivered); err != nil {
			t.Fatalf("Failed to parse delivered payload: %v", err)
		}

		if len(delivered) != 0 {
			t.Errorf("Expected an empty object, got %v", delivered)
		}
	})

	t.Run("Returns 404 For An Unknown Path", func(t *testing.T) {
		rr := postEvent(server, "/mystery", `{"a":1}`)

		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusNotFound, rr.Code, rr.Body.String())
		}
	})

	t.Run("Paused Webhooks Stop Accepting Events", func(t *testing.T) {
		pausedSink, pausedTS := newDeliverySink(t, http.StatusOK)

		paused := registerTestWebhook(t, server, RegisterWebhookRequest{
			SourcePath:     "/pausable",
			DestinationURL: pausedTS.URL,
			TransformQuery: "SELECT payload FROM {{payload}}",
		})

		statusRR := adminJSON(server, http.MethodPatch, "/webhook/"+paused.ID+"/status", `{"active": false}`)
		if statusRR.Code != http.StatusOK {
			t.Fatalf("Failed to pause webhook: %d. Body: %s", statusRR.Code, statusRR.Body.String())
		}

		rr := postEvent(server, "/pausable", `{"a":1}`)
		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected status %d while paused, got %d. Body: %s", http.StatusNotFound, rr.Code, rr.Body.String())
		}

		if pausedSink.count() != 0 {
			t.Errorf("Expected no deliveries while paused, got %d", pausedSink.count())
		}

		statusRR = adminJSON(server, http.MethodPatch, "/webhook/"+paused.ID+"/status", `{"active": true}`)
		if statusRR.Code != http.StatusOK {
			t.Fatalf("Failed to resume webhook: %d. Body: %s", statusRR.Code, statusRR.Body.String())
		}

		rr = postEvent(server, "/pausable", `{"a":1}`)
		if rr.Code != http.StatusOK {
			t.Errorf("Expected status %d after resume, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}
	})

	t.Run("Rejects An Empty Body", func(t *testing.T) {
		rr := postEvent(server, "/orders", "")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})

	t.Run("Rejects A Body That Is Not JSON", func(t *testing.T) {
		rr := postEvent(server, "/orders", "not json")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})

	t.Run("Ignores The Content Type Header", func(t *testing.T) {
		// Senders set all kinds of Content-Type values; only the body matters.
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(rawEvent))
		req.Header.Set("Content-Type", "text/plain")

		rr := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}
	})

	t.Run("Rejects Oversized Bodies", func(t *testing.T) {
		oversized := bytes.Repeat([]byte("a"), 2*1024*1024)

		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(oversized))
		rr := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusRequestEntityTooLarge, rr.Code, rr.Body.String())
		}
	})

	t.Run("Exposes Ingress Metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rr := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d", http.StatusOK, rr.Code)
		}

		body := rr.Body.String()

		if !strings.Contains(body, `gateway_events_received_total{source_path="/orders"}`) {
			t.Error("Expected the received-events counter for /orders in the scrape")
		}

		if !strings.Contains(body, "gateway_dispatches_total") {
			t.Error("Expected the dispatch counter in the scrape")
		}
	})
}

// TestEventAuditViewsIntegration tests the event listing and statistics
// rollup across successful and failing destinations.
func TestEventAuditViewsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := newTestServer(t)

	_, okTS := newDeliverySink(t, http.StatusOK)
	_, failTS := newDeliverySink(t, http.StatusInternalServerError)

	healthy := registerTestWebhook(t, server, RegisterWebhookRequest{
		SourcePath:     "/audit-a",
		DestinationURL: okTS.URL,
		TransformQuery: "SELECT payload ->> '$.n' AS n FROM {{payload}}",
	})

	failing := registerTestWebhook(t, server, RegisterWebhookRequest{
		SourcePath:     "/audit-b",
		DestinationURL: failTS.URL,
		TransformQuery: "SELECT payload ->> '$.n' AS n FROM {{payload}}",
	})

	// A rejected delivery is still an accepted event; acceptance and delivery
	// outcome are reported separately.
	for _, probe := range []struct {
		path  string
		count int
	}{
		{"/audit-a", 3},
		{"/audit-b", 2},
	} {
		for i := 0; i < probe.count; i++ {
			rr := postEvent(server, probe.path, `{"n":1}`)
			if rr.Code != http.StatusOK {
				t.Fatalf("Failed to post event to %s: %d. Body: %s", probe.path, rr.Code, rr.Body.String())
			}

			var outcome IngressResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
				t.Fatalf("Failed to parse ingress response: %v", err)
			}

			if outcome.Status != "success" {
				t.Fatalf("Expected outcome %q for %s, got %q (%s)", "success", probe.path, outcome.Status, outcome.Detail)
			}
		}
	}

	t.Run("Lists All Recent Events", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/events", "")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp EventListResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse event list: %v", err)
		}

		if len(resp.Events) != 5 {
			t.Errorf("Expected 5 events, got %d", len(resp.Events))
		}
	})

	t.Run("Honors The Limit Parameter", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/events?limit=2", "")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp EventListResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse event list: %v", err)
		}

		if len(resp.Events) != 2 {
			t.Errorf("Expected 2 events, got %d", len(resp.Events))
		}
	})

	t.Run("Rejects A Non-Numeric Limit", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/events?limit=abc", "")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})

	t.Run("Surfaces Failed Deliveries", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/events", "")

		var resp EventListResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse event list: %v", err)
		}

		var entry *EventSummaryResponse

		for i := range resp.Events {
			if resp.Events[i].SourcePath == "/audit-b" {
				entry = &resp.Events[i]

				break
			}
		}

		if entry == nil {
			t.Fatal("Expected an /audit-b event in the listing")
		}

		if entry.Success == nil || *entry.Success {
			t.Errorf("Expected a failed delivery, got %v", entry.Success)
		}

		if entry.ResponseCode == nil || *entry.ResponseCode != http.StatusInternalServerError {
			t.Errorf("Expected response code 500, got %v", entry.ResponseCode)
		}

		detailRR := adminJSON(server, http.MethodGet, "/event/"+entry.ID+"/transformed", "")

		var detail EventDetailResponse
		if err := json.Unmarshal(detailRR.Body.Bytes(), &detail); err != nil {
			t.Fatalf("Failed to parse event detail: %v", err)
		}

		if detail.Transformed == nil {
			t.Fatal("Expected a delivery record")
		}

		if detail.Transformed.Success {
			t.Error("Expected the delivery to be recorded as failed")
		}

		if detail.Transformed.ResponseCode != http.StatusInternalServerError {
			t.Errorf("Expected response code 500, got %d", detail.Transformed.ResponseCode)
		}
	})

	t.Run("Aggregates Delivery Statistics", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/stats", "")

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var stats StatsResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
			t.Fatalf("Failed to parse stats response: %v", err)
		}

		if stats.WebhookCount != 2 {
			t.Errorf("Expected 2 webhooks, got %d", stats.WebhookCount)
		}

		if stats.RawEventCount != 5 {
			t.Errorf("Expected 5 raw events, got %d", stats.RawEventCount)
		}

		if stats.TransformedEventCount != 5 {
			t.Errorf("Expected 5 delivery records, got %d", stats.TransformedEventCount)
		}

		rates := make(map[string]WebhookRateSummary, len(stats.WebhookSuccessRates))
		for _, rate := range stats.WebhookSuccessRates {
			rates[rate.WebhookID] = rate
		}

		healthyRate, ok := rates[healthy.ID]
		if !ok {
			t.Fatalf("Expected a rate entry for webhook %s", healthy.ID)
		}

		if healthyRate.TotalEvents != 3 || healthyRate.SuccessCount != 3 || healthyRate.FailureCount != 0 {
			t.Errorf("Expected 3/3/0 for the healthy webhook, got %d/%d/%d",
				healthyRate.TotalEvents, healthyRate.SuccessCount, healthyRate.FailureCount)
		}

		if healthyRate.SuccessRate != 1.0 {
			t.Errorf("Expected success rate 1.0, got %v", healthyRate.SuccessRate)
		}

		if healthyRate.LastEventAt.IsZero() {
			t.Error("Expected a last-event timestamp")
		}

		failingRate, ok := rates[failing.ID]
		if !ok {
			t.Fatalf("Expected a rate entry for webhook %s", failing.ID)
		}

		if failingRate.TotalEvents != 2 || failingRate.SuccessCount != 0 || failingRate.FailureCount != 2 {
			t.Errorf("Expected 2/0/2 for the failing webhook, got %d/%d/%d",
				failingRate.TotalEvents, failingRate.SuccessCount, failingRate.FailureCount)
		}

		if failingRate.SuccessRate != 0 {
			t.Errorf("Expected success rate 0, got %v", failingRate.SuccessRate)
		}
	})

	t.Run("Returns 404 For An Unknown Event", func(t *testing.T) {
		rr := adminJSON(server, http.MethodGet, "/event/absent/transformed", "")

		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusNotFound, rr.Code, rr.Body.String())
		}
	})
}

// TestEchoDestinationIntegration tests the built-in echo destination, both
// called directly and as a webhook's destination over a real listener.
func TestEchoDestinationIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := newTestServer(t)

	t.Run("Reflects A Payload", func(t *testing.T) {
		rr := postEvent(server, "/echo-webhook", `{"ping":"pong"}`)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp EchoResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse echo response: %v", err)
		}

		if resp.Status != "success" {
			t.Errorf("Expected status %q, got %q", "success", resp.Status)
		}

		if resp.Message == "" {
			t.Error("Expected a receipt message")
		}

		if resp.ReceivedAt.IsZero() {
			t.Error("Expected a receipt timestamp")
		}

		var echoed map[string]interface{}
		if err := json.Unmarshal(resp.Payload, &echoed); err != nil {
			t.Fatalf("Failed to parse echoed payload: %v", err)
		}

		if !reflect.DeepEqual(echoed, map[string]interface{}{"ping": "pong"}) {
			t.Errorf("Expected the payload echoed back, got %v", echoed)
		}
	})

	t.Run("Rejects An Empty Body", func(t *testing.T) {
		rr := postEvent(server, "/echo-webhook", "")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, rr.Code, rr.Body.String())
		}
	})

	t.Run("Serves As A Destination For The Full Loop", func(t *testing.T) {
		// A real listener so the dispatcher can reach the gateway's own echo
		// endpoint over HTTP.
		ts := httptest.NewServer(server.httpServer.Handler)
		t.Cleanup(ts.Close)

		registerTestWebhook(t, server, RegisterWebhookRequest{
			SourcePath:     "/loop",
			DestinationURL: ts.URL + "/echo-webhook",
			TransformQuery: "SELECT payload ->> '$.ping' AS ping FROM {{payload}}",
		})

		rr := postEvent(server, "/loop", `{"ping":"pong"}`)

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

		detailRR := adminJSON(server, http.MethodGet, "/event/"+outcome.EventID+"/transformed", "")

		var detail EventDetailResponse
		if err := json.Unmarshal(detailRR.Body.Bytes(), &detail); err != nil {
			t.Fatalf("Failed to parse event detail: %v", err)
		}

		if detail.Transformed == nil {
			t.Fatal("Expected a delivery record")
		}

		if !detail.Transformed.Success {
			t.Error("Expected the echo delivery to succeed")
		}

		if detail.Transformed.ResponseCode != http.StatusOK {
			t.Errorf("Expected response code 200, got %d", detail.Transformed.ResponseCode)
		}

		if !strings.Contains(detail.Transformed.ResponseBody, "Echo webhook received your payload") {
			t.Errorf("Expected the echo receipt in the response body, got %q", detail.Transformed.ResponseBody)
		}
	})
}

// postEvent sends an unauthenticated ingress request. An empty body means no
// body at all, which the payload reader rejects.
func postEvent(server *Server, path, body string) *httptest.ResponseRecorder {
	var req *http.Request

	if body == "" {
		req = httptest.NewRequest(http.MethodPost, path, nil)
	} else {
		req = httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	}

	rr := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rr, req)

	return rr
}
