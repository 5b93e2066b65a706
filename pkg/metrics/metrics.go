// Package metrics provides the Prometheus registry reference for the export
// job and pushes its metrics to a Pushgateway when a run ends.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination, delivery, notify, runner) to maintain modularity and avoid
// circular dependencies.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry is the default Prometheus registry used by the export job.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered with Registry.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

var buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sierra_build_info",
	Help: "Build information of the running export job, always 1",
}, []string{"version", "commit", "go_version"})

// RecordBuildInfo registers sierra_build_info with Registry on first use and
// sets the series for this build.
func RecordBuildInfo(version, commit, goVersion string) error {
	if err := Registry.Register(buildInfo); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return fmt.Errorf("register build info: %w", err)
		}
	}
	buildInfo.WithLabelValues(version, commit, goVersion).Set(1)
	return nil
}

// Push sends every gathered metric to the Pushgateway at url under job,
// replacing what was previously pushed for the same grouping. A batch job
// exits before it could be scraped, so this is the only export path.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		return fmt.Errorf("job name is required")
	}

	pusher := push.New(url, job).Gatherer(Gatherer)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Build Metrics (pkg/metrics):
//   - sierra_build_info{version, commit, go_version} (Gauge): Always 1 for the running build
//
// Request Metrics (pkg/client):
//   - sierra_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - sierra_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - sierra_errors_total{class} (Counter): Errors by class (client, server, rate_limit, auth, network)
//   - sierra_download_bytes_total (Counter): Bytes of export data downloaded
//
// Retry Metrics (pkg/client):
//   - sierra_retries_total{endpoint} (Counter): Transport retry attempts for token and query calls
//   - sierra_retry_backoff_seconds{endpoint} (Histogram): Backoff duration before each retry
//
// Rate Limit Metrics (pkg/ratelimit):
//   - sierra_rate_limit_cooldowns_total (Counter): Cool-downs taken after code 138
//   - sierra_rate_limit_cooldown_seconds_total (Counter): Seconds spent in cool-downs
//
// Batch Metrics (pkg/pagination):
//   - sierra_batch_attempts_total{outcome} (Counter): Export attempts (success, rate_limited, reauthenticated)
//   - sierra_batch_duration_seconds (Histogram): Time to export one batch including retries
//   - sierra_artifact_bytes (Histogram): Size of finished artifacts
//
// Delivery and Notification Metrics (pkg/delivery, pkg/notify):
//   - sierra_deliveries_total{channel, status} (Counter): Deliveries by channel
//   - sierra_delivery_duration_seconds{channel} (Histogram): Delivery duration
//   - sierra_notifications_total{status} (Counter): Reports sent, skipped or failed
//
// Run Metrics (pkg/runner):
//   - sierra_runs_total{status} (Counter): Runs by outcome
//   - sierra_run_records{query_type} (Gauge): Records exported in the last run
//   - sierra_last_success_timestamp_seconds{query_type} (Gauge): Last successful run time
//
// Example Prometheus Queries:
//
//   # Query types that have not succeeded in two days
//   time() - sierra_last_success_timestamp_seconds > 2 * 86400
//
//   # Re-authentication rate during exports
//   sierra_batch_attempts_total{outcome="reauthenticated"}
//
//   # Time lost to rate limiting
//   sierra_rate_limit_cooldown_seconds_total
