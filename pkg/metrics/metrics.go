// Package metrics exposes the Prometheus registry used by the dispatch engine.
// Metrics are declared next to the code that records them (cache, client,
// checkpoint, delivery, continuation, scheduler) to avoid import cycles; this
// package only serves them and documents what exists.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every promauto metric lands in.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the exposition format for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Fetch Cache (pkg/cache):
//   - dispatch_cache_hits_total (Counter): Lookups answered from the run cache
//   - dispatch_cache_misses_total (Counter): Lookups that needed an upstream query
//   - dispatch_cache_entries_total (Counter): Entries stored, None markers included
//
// Upstream (pkg/client):
//   - dispatch_upstream_requests_total{status} (Counter): Queries by HTTP status
//   - dispatch_upstream_request_duration_seconds (Histogram): Query latency
//   - dispatch_upstream_errors_total{class} (Counter): Failures by class (client, server, rate_limit, network, decode)
//   - dispatch_upstream_backoff_seconds (Histogram): Time spent backing off after 429
//   - dispatch_upstream_retries_total (Counter): Retries after a rate-limit backoff
//
// Checkpoint Store (pkg/checkpoint):
//   - dispatch_checkpoint_errors_total{backend, operation} (Counter): Store failures
//
// Delivery (pkg/delivery):
//   - dispatch_transport_sends_total{transport, result} (Counter): Transport calls
//
// Continuation (pkg/continuation):
//   - dispatch_continuations_total{mechanism, result} (Counter): Follow-up invocations scheduled
//
// Broadcast (pkg/broadcast):
//   - dispatch_broadcast_deliveries_total{mode, outcome} (Counter): Announcement recipients sent or failed
//
// Batch Scheduler (pkg/scheduler):
//   - dispatch_runs_total{outcome} (Counter): Invocations by outcome
//   - dispatch_batches_total (Counter): Batches processed
//   - dispatch_deliveries_total{outcome} (Counter): Recipients sent, skipped or failed
//   - dispatch_run_duration_seconds (Histogram): Wall time per invocation
//   - dispatch_progress_ratio (Gauge): Processed / total for the current workday
//
// Example Prometheus Queries:
//
//   # Cache hit rate within runs
//   sum(rate(dispatch_cache_hits_total[1h])) /
//   (sum(rate(dispatch_cache_hits_total[1h])) + sum(rate(dispatch_cache_misses_total[1h])))
//
//   # Upstream throttling
//   rate(dispatch_upstream_errors_total{class="rate_limit"}[1h])
//
//   # Workdays stuck before completion
//   dispatch_progress_ratio < 1
//
//   # Delivery failure share
//   sum(rate(dispatch_deliveries_total{outcome="failed"}[1d])) / sum(rate(dispatch_deliveries_total[1d]))
