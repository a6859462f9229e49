// Package metrics holds the gateway's Prometheus collectors.
//
// Collectors are declared once at package level and self-register through
// promauto. The ingress pipeline counts events as they move through receive,
// filter, and dispatch; the dispatcher times every delivery attempt.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyBuckets covers outbound delivery latency from fast local sinks up to
// the dispatch timeout ceiling.
var LatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	// EventsReceived counts events accepted on an ingress path before
	// evaluation begins.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_received_total",
		Help: "the number of webhook events received per source path",
	}, []string{"source_path"})

	// EventsFiltered counts events the webhook's filter rejected. Filtered
	// events are never dispatched.
	EventsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_filtered_total",
		Help: "the number of webhook events rejected by a filter per source path",
	}, []string{"source_path"})

	// EventsFailed counts events whose evaluation raised an error.
	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_failed_total",
		Help: "the number of webhook events that failed evaluation per source path",
	}, []string{"source_path"})

	// DispatchesTotal counts delivery attempts by outcome, success or failure.
	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_dispatches_total",
		Help: "the number of outbound delivery attempts by outcome",
	}, []string{"outcome"})

	// DispatchDuration observes the wall time of each delivery attempt,
	// including failed ones.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_dispatch_duration_seconds",
		Help:    "the length of time each outbound delivery attempt took",
		Buckets: LatencyBuckets,
	})
)

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
