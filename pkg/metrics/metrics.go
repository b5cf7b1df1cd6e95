// Package metrics exposes the Prometheus registry used by the dashboard.
// Collectors are defined next to the code that updates them (client, cache,
// ratelimit, pagination, hierarchy) and registered through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by all packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Transport (pkg/client):
//   - jira_requests_total{api, status} (Counter)
//   - jira_request_duration_seconds{api} (Histogram)
//   - jira_errors_total{class} (Counter)
//
// Cache (pkg/cache):
//   - jira_cache_hits_total (Counter)
//   - jira_cache_misses_total (Counter)
//   - jira_cache_errors_total{operation} (Counter)
//
// Rate limit (pkg/ratelimit):
//   - jira_rate_limit_remaining (Gauge)
//   - jira_rate_limit_waits_total (Counter)
//   - jira_rate_limit_wait_seconds (Histogram)
//
// Fetch engine (pkg/pagination):
//   - jira_search_pages_total (Counter)
//   - jira_batch_requests_total{result} (Counter)
//   - jira_batch_failures_total (Counter)
//   - jira_batch_issues_dropped_total (Counter)
//   - jira_batch_records_discarded_total (Counter)
//   - jira_batch_retries_total{error_class} (Counter)
//
// Hierarchy (pkg/hierarchy):
//   - jira_tree_nodes_total (Counter)
//   - jira_tree_inflight_fetches (Gauge)
//   - jira_tree_build_duration_seconds (Histogram)
//   - jira_descendant_levels (Histogram)
//
// Example queries:
//
//   # Share of bulk-fetch batches dropped
//   sum(rate(jira_batch_requests_total{result="failed"}[5m])) /
//   sum(rate(jira_batch_requests_total[5m]))
//
//   # P95 Jira latency per API
//   histogram_quantile(0.95, sum by (le, api) (rate(jira_request_duration_seconds_bucket[5m])))
