// Package metrics exposes the Prometheus metrics of the ingestion service.
// Metrics are defined in the packages that update them (client, pagination,
// dedup, fetch, sink, pipeline) and registered via promauto; this package
// serves them and documents the catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the service.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Upstream API (pkg/client):
//   - vds_api_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - vds_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - vds_api_errors_total{class} (Counter): Errors by class (client, server, network, decode)
//
// Discovery (pkg/pagination, pkg/dedup):
//   - vds_listing_pages_fetched_total (Counter): Listing pages read
//   - vds_discovery_failures_total (Counter): Facets whose walk failed
//   - vds_references_discovered_total (Counter): References yielded, repeats included
//   - vds_listing_walks_truncated_total (Counter): Facet walks stopped at the page cap
//   - vds_references_raw (Gauge): Raw reference count of the last run
//   - vds_references_unique (Gauge): Unique reference count of the last run
//
// Fetch pool (pkg/fetch):
//   - vds_fetch_in_flight (Gauge): Detail fetches in flight, never above the worker count
//   - vds_fetch_total{outcome} (Counter): Fetch attempts (fetched, failed)
//   - vds_fetch_duration_seconds (Histogram): Detail fetch duration
//
// Sinks (pkg/sink):
//   - vds_sink_provisions_total{sink, outcome} (Counter): Provisioning attempts
//   - vds_sink_deliveries_total{sink, outcome} (Counter): Deliveries (ok, failed)
//
// Runs (pkg/pipeline):
//   - vds_pipeline_state (Gauge): Current state (0 idle ... 5 complete, 6 failed)
//   - vds_runs_total{outcome} (Counter): Runs (complete, failed)
//   - vds_run_duration_seconds (Histogram): Run duration
//   - vds_last_run_timestamp_seconds (Gauge): Unix time the last run ended
//
// Example Prometheus Queries:
//
//   # Duplicate share of the last run
//   1 - vds_references_unique / vds_references_raw
//
//   # Fetch failure rate
//   rate(vds_fetch_total{outcome="failed"}[5m]) / rate(vds_fetch_total[5m])
//
//   # Delivery failures per sink
//   sum by (sink) (rate(vds_sink_deliveries_total{outcome="failed"}[5m]))
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(vds_api_request_duration_seconds_bucket[5m]))
