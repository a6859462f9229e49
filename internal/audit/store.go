package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hookgate-io/hookgate/internal/storage"
)

// Column lists for the event tables, in the order the scan helpers decode.
const (
	rawEventColumns         = "id, received_at, source_path, payload, headers"
	transformedEventColumns = "id, raw_event_id, webhook_id, destination_url, transformed_payload, success, response_code, response_body, created_at"
)

// Recent-events listing limits.
const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Store writes and reads the append-only event history.
//
// Each record method issues a single statement under the engine mutex, so a
// write either lands completely or not at all relative to concurrent readers.
type Store struct {
	engine *storage.Engine
	logger *slog.Logger
}

// NewStore creates an audit store on top of the storage engine.
func NewStore(engine *storage.Engine, logger *slog.Logger) (*Store, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Store{engine: engine, logger: logger}, nil
}

// RecordRawEvent persists an inbound event before evaluation begins.
//
// The caller supplies the event id so it can answer the ingress request with
// the same id even when later stages fail. Headers are stored as a JSON
// object for audit; they are never forwarded.
func (s *Store) RecordRawEvent(ctx context.Context, id, sourcePath string, payload []byte, headers map[string]string) error {
	headerJSON, err := encodeHeaders(headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}

	receivedAt := time.Now().UTC().Truncate(time.Millisecond)

	err = s.engine.Exec(
		ctx,
		`INSERT INTO raw_events (`+rawEventColumns+`) VALUES (?, ?, ?, ?, ?)`,
		id, storage.FormatTime(receivedAt), sourcePath, string(payload), headerJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to record raw event: %w", err)
	}

	s.logger.Debug("raw event recorded",
		slog.String("event_id", id),
		slog.String("source_path", sourcePath))

	return nil
}

// RecordTransformedEvent persists the outcome of one delivery attempt.
//
// Called exactly once per attempt, after the dispatch completed or the
// evaluation failed. Filtered-out events never reach this method. A nil
// payload stores as empty, which marks attempts that failed before a
// transformed payload existed.
func (s *Store) RecordTransformedEvent(ctx context.Context, rawEventID, webhookID, destination string, payload []byte, success bool, statusCode int, responseBody string) error {
	id := uuid.NewString()
	createdAt := time.Now().UTC().Truncate(time.Millisecond)

	err := s.engine.Exec(
		ctx,
		`INSERT INTO transformed_events (`+transformedEventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rawEventID, webhookID, destination, string(payload),
		boolToInt(success), int64(statusCode), responseBody, storage.FormatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record transformed event: %w", err)
	}

	s.logger.Debug("transformed event recorded",
		slog.String("event_id", rawEventID),
		slog.String("webhook_id", webhookID),
		slog.Bool("success", success),
		slog.Int("status", statusCode))

	return nil
}

// RecentEvents lists the newest raw events joined to their latest delivery
// outcome.
//
// A limit of zero or below falls back to the default of 100; limits above
// 1000 are capped. Events without a delivery attempt, filtered ones
// included, carry nil outcome fields.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]EventSummary, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}

	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	rs, err := s.engine.Query(
		ctx,
		`SELECT r.id, r.received_at, r.source_path, t.success, t.response_code
		 FROM raw_events r
		 LEFT JOIN transformed_events t ON t.id = (
		     SELECT id FROM transformed_events
		     WHERE raw_event_id = r.id
		     ORDER BY created_at DESC
		     LIMIT 1
		 )
		 ORDER BY r.received_at DESC, r.id DESC
		 LIMIT ?`,
		int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}

	summaries := make([]EventSummary, 0, len(rs.Rows))

	for _, row := range rs.Rows {
		summary, err := scanEventSummary(row)
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, *summary)
	}

	return summaries, nil
}

// EventTransforms returns a raw event together with every delivery attempt
// recorded for it, oldest attempt first.
//
// Returns ErrEventNotFound when no raw event has the id. An existing event
// with no attempts comes back with an empty Transforms slice.
func (s *Store) EventTransforms(ctx context.Context, rawEventID string) (*EventDetail, error) {
	var detail EventDetail

	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		rs, err := sess.Query(
			`SELECT `+rawEventColumns+` FROM raw_events WHERE id = ?`,
			rawEventID,
		)
		if err != nil {
			return fmt.Errorf("failed to load raw event: %w", err)
		}

		if len(rs.Rows) == 0 {
			return fmt.Errorf("%w: %s", ErrEventNotFound, rawEventID)
		}

		raw, err := scanRawEvent(rs.Rows[0])
		if err != nil {
			return err
		}

		detail.Raw = *raw

		rs, err = sess.Query(
			`SELECT `+transformedEventColumns+` FROM transformed_events
			 WHERE raw_event_id = ?
			 ORDER BY created_at, id`,
			rawEventID,
		)
		if err != nil {
			return fmt.Errorf("failed to load transformed events: %w", err)
		}

		detail.Transforms = make([]TransformedEvent, 0, len(rs.Rows))

		for _, row := range rs.Rows {
			transform, err := scanTransformedEvent(row)
			if err != nil {
				return err
			}

			detail.Transforms = append(detail.Transforms, *transform)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &detail, nil
}

// Stats aggregates the gateway-wide counters and the per-webhook delivery
// rollup, all in one engine session so the numbers are consistent with each
// other.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Webhooks: []WebhookStats{}}

	err := s.engine.Do(ctx, func(sess *storage.Session) error {
		counts := []struct {
			query string
			dest  *int
		}{
			{"SELECT COUNT(*) FROM webhooks", &stats.WebhookCount},
			{"SELECT COUNT(*) FROM raw_events", &stats.RawEventCount},
			{"SELECT COUNT(*) FROM transformed_events", &stats.TransformedEventCount},
		}

		for _, c := range counts {
			rs, err := sess.Query(c.query)
			if err != nil {
				return fmt.Errorf("failed to count rows: %w", err)
			}

			*c.dest = int(firstInt(rs))
		}

		rs, err := sess.Query(
			`SELECT webhook_id,
			        COUNT(*) AS total,
			        SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END) AS successes,
			        MAX(created_at) AS last_event_at
			 FROM transformed_events
			 GROUP BY webhook_id
			 ORDER BY webhook_id`,
		)
		if err != nil {
			return fmt.Errorf("failed to aggregate webhook stats: %w", err)
		}

		for _, row := range rs.Rows {
			rollup, err := scanWebhookStats(row)
			if err != nil {
				return err
			}

			stats.Webhooks = append(stats.Webhooks, *rollup)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// encodeHeaders renders the header map as a JSON object. Empty and nil maps
// both store as {}.
func encodeHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "{}", nil
	}

	encoded, err := json.Marshal(headers)
	if err != nil {
		return "", err
	}

	return string(encoded), nil
}

// scanRawEvent decodes one result row in rawEventColumns order.
func scanRawEvent(row []any) (*RawEvent, error) {
	if len(row) != 5 {
		return nil, fmt.Errorf("raw event row has %d columns, want 5", len(row))
	}

	receivedAt, err := scanTime(row[1])
	if err != nil {
		return nil, fmt.Errorf("raw event received_at: %w", err)
	}

	var headers map[string]string
	if encoded := scanString(row[4]); encoded != "" {
		if err := json.Unmarshal([]byte(encoded), &headers); err != nil {
			return nil, fmt.Errorf("raw event headers: %w", err)
		}
	}

	return &RawEvent{
		ID:         scanString(row[0]),
		ReceivedAt: receivedAt,
		SourcePath: scanString(row[2]),
		Payload:    []byte(scanString(row[3])),
		Headers:    headers,
	}, nil
}

// scanTransformedEvent decodes one result row in transformedEventColumns
// order.
func scanTransformedEvent(row []any) (*TransformedEvent, error) {
	if len(row) != 9 {
		return nil, fmt.Errorf("transformed event row has %d columns, want 9", len(row))
	}

	createdAt, err := scanTime(row[8])
	if err != nil {
		return nil, fmt.Errorf("transformed event created_at: %w", err)
	}

	return &TransformedEvent{
		ID:             scanString(row[0]),
		RawEventID:     scanString(row[1]),
		WebhookID:      scanString(row[2]),
		DestinationURL: scanString(row[3]),
		Payload:        []byte(scanString(row[4])),
		Success:        scanInt(row[5]) != 0,
		ResponseCode:   int(scanInt(row[6])),
		ResponseBody:   scanString(row[7]),
		CreatedAt:      createdAt,
	}, nil
}

// scanEventSummary decodes one row of the recent-events join. The outcome
// columns keep NULL distinct from zero values.
func scanEventSummary(row []any) (*EventSummary, error) {
	if len(row) != 5 {
		return nil, fmt.Errorf("event summary row has %d columns, want 5", len(row))
	}

	receivedAt, err := scanTime(row[1])
	if err != nil {
		return nil, fmt.Errorf("event summary received_at: %w", err)
	}

	summary := &EventSummary{
		ID:         scanString(row[0]),
		ReceivedAt: receivedAt,
		SourcePath: scanString(row[2]),
	}

	if row[3] != nil {
		success := scanInt(row[3]) != 0
		summary.Success = &success
	}

	if row[4] != nil {
		code := int(scanInt(row[4]))
		summary.ResponseCode = &code
	}

	return summary, nil
}

// scanWebhookStats decodes one row of the per-webhook rollup. Failures and
// the success rate derive from the counts rather than the engine.
func scanWebhookStats(row []any) (*WebhookStats, error) {
	if len(row) != 4 {
		return nil, fmt.Errorf("webhook stats row has %d columns, want 4", len(row))
	}

	lastEventAt, err := scanTime(row[3])
	if err != nil {
		return nil, fmt.Errorf("webhook stats last_event_at: %w", err)
	}

	total := int(scanInt(row[1]))
	successes := int(scanInt(row[2]))

	rollup := &WebhookStats{
		WebhookID:   scanString(row[0]),
		TotalEvents: total,
		Successes:   successes,
		Failures:    total - successes,
		LastEventAt: lastEventAt,
	}

	if total > 0 {
		rollup.SuccessRate = float64(successes) / float64(total)
	}

	return rollup, nil
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

func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}
