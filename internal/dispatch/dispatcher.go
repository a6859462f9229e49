// Package dispatch delivers transformed payloads to webhook destinations.
//
// Every delivery is a single POST with a JSON body. Inbound request headers
// never travel outbound; the only header set is Content-Type. A delivery is
// attempted exactly once per event, there is no retry, and whatever happened
// is captured in an Outcome for the audit trail.
package dispatch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hookgate-io/hookgate/internal/metrics"
)

const (
	// DefaultTimeout bounds a delivery attempt when no timeout is configured.
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes caps how much of the destination's response body is
	// kept for the audit record.
	maxResponseBytes = 64 * 1024
)

// Config holds dispatcher settings.
type Config struct {
	// Timeout bounds the whole delivery attempt, connection setup through
	// response body read.
	Timeout time.Duration
}

// Outcome records what happened to a single delivery attempt.
type Outcome struct {
	// Success is true when the destination answered with a 2xx status.
	Success bool

	// StatusCode is the HTTP status the destination returned, or 0 when the
	// request never completed.
	StatusCode int

	// ResponseBody holds up to 64 KiB of the destination's response, or the
	// transport error text when the request never completed.
	ResponseBody string

	// Duration is the wall time the attempt took.
	Duration time.Duration
}

// Dispatcher posts JSON payloads to destination URLs.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher.
//
// A nil config falls back to DefaultTimeout, and a nil logger falls back to
// the default logger.
func NewDispatcher(cfg *Config, logger *slog.Logger) *Dispatcher {
	timeout := DefaultTimeout
	if cfg != nil && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Dispatch posts payload to destination and reports the outcome.
//
// Failures do not surface as errors: a transport failure or a non-2xx answer
// comes back as an unsuccessful Outcome so the caller can record it the same
// way as a success. The response body is truncated to 64 KiB.
//
// Parameters:
//   - ctx: Context for cancellation; the client timeout applies on top
//   - destination: Absolute URL of the destination endpoint
//   - payload: JSON document to deliver as the request body
//
// Returns:
//   - *Outcome: What happened, never nil
func (d *Dispatcher) Dispatch(ctx context.Context, destination string, payload []byte) *Outcome {
	start := time.Now()

	outcome := d.deliver(ctx, destination, payload)
	outcome.Duration = time.Since(start)

	label := "failure"
	if outcome.Success {
		label = "success"
	}

	metrics.DispatchesTotal.WithLabelValues(label).Inc()
	metrics.DispatchDuration.Observe(outcome.Duration.Seconds())

	return outcome
}

func (d *Dispatcher) deliver(ctx context.Context, destination string, payload []byte) *Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(payload))
	if err != nil {
		d.logger.Warn("dispatch request could not be built",
			slog.String("destination", destination),
			slog.String("error", err.Error()))

		return &Outcome{ResponseBody: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("dispatch failed",
			slog.String("destination", destination),
			slog.String("error", err.Error()))

		return &Outcome{ResponseBody: err.Error()}
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		d.logger.Warn("dispatch response read failed",
			slog.String("destination", destination),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()))

		return &Outcome{StatusCode: resp.StatusCode, ResponseBody: err.Error()}
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if success {
		d.logger.Info("event dispatched",
			slog.String("destination", destination),
			slog.Int("status", resp.StatusCode))
	} else {
		d.logger.Warn("dispatch got non-2xx response",
			slog.String("destination", destination),
			slog.Int("status", resp.StatusCode))
	}

	return &Outcome{
		Success:      success,
		StatusCode:   resp.StatusCode,
		ResponseBody: string(body),
	}
}
