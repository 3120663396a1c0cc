// Package metrics provides Prometheus collectors for dctables.
//
// # Overview
//
// Metric families:
//   - wire: rows parsed, malformed rows dropped, fields coerced to NULL
//   - fetch: fan-out duration, blocks and bytes per node, node failures
//   - client/agent: node HTTP latency, breaker state, requests served
//   - sync: pass duration, rows merged into the cache, per-table errors
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	err := cluster.Fetch(ctx, req, handle)
//	metrics.FetchDuration.WithLabelValues(req.Collector, metrics.Status(err)).
//	    Observe(timer.Stop().Seconds())
//
// All collectors are registered with the default registry through promauto,
// so promhttp.Handler() exposes them without further wiring.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dctables"

var (
	// RowsParsed counts rows accepted by the wire parser.
	// Labels: table
	RowsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "rows_parsed_total",
			Help:      "Rows decoded from node responses",
		},
		[]string{"table"},
	)

	// RowsDropped counts rows discarded because their field count did not
	// match the table's column count.
	// Labels: table
	RowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "rows_dropped_total",
			Help:      "Malformed rows discarded by the wire parser",
		},
		[]string{"table"},
	)

	// FieldErrors counts fields that failed coercion and became NULL.
	// Labels: table, type (declared column type family)
	FieldErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "field_errors_total",
			Help:      "Fields that failed type coercion and were returned as NULL",
		},
		[]string{"table", "type"},
	)

	// FetchDuration tracks end-to-end fan-out fetch latency in seconds.
	// Labels: table, status (success/partial/failure)
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Duration of distributed fetches in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"table", "status"},
	)

	// FetchBlocks counts raw text blocks received per node.
	// Labels: table, node
	FetchBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "blocks_total",
			Help:      "Raw blocks received from cluster nodes",
		},
		[]string{"table", "node"},
	)

	// FetchBytes counts raw block bytes received per node.
	// Labels: table, node
	FetchBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Raw block bytes received from cluster nodes",
		},
		[]string{"table", "node"},
	)

	// NodeErrors counts per-node fetch failures.
	// Labels: node, kind (connection/timeout/remote)
	NodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "node_errors_total",
			Help:      "Per-node fetch failures",
		},
		[]string{"node", "kind"},
	)

	// ActiveFetches tracks fan-out fetches in flight.
	ActiveFetches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "active",
			Help:      "Distributed fetches currently in flight",
		},
	)

	// ClientRequests tracks node HTTP request latency up to the response
	// headers.
	// Labels: host, status (success/failure)
	ClientRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Latency of node HTTP requests until response headers",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"host", "status"},
	)

	// BreakerState reports circuit breaker state per host: 0 closed,
	// 1 open, 2 half-open.
	// Labels: host
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per host (0 closed, 1 open, 2 half-open)",
		},
		[]string{"host"},
	)

	// AgentRequests counts fetch requests served by the node agent.
	// Labels: collector, status
	AgentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "requests_total",
			Help:      "Fetch requests served by the node agent",
		},
		[]string{"collector", "status"},
	)

	// SyncDuration tracks how long one table sync takes.
	// Labels: table, mode (bootstrap/incremental)
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of a single table sync in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"table", "mode"},
	)

	// SyncRows counts rows written into the local cache.
	// Labels: table, mode
	SyncRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rows_total",
			Help:      "Rows written into the local cache",
		},
		[]string{"table", "mode"},
	)

	// SyncErrors counts failed table syncs.
	// Labels: table
	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "errors_total",
			Help:      "Table syncs that failed",
		},
		[]string{"table"},
	)

	// SyncLastSuccess records the unix time of the last successful sync.
	// Labels: table
	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful table sync",
		},
		[]string{"table"},
	)
)

// Status maps an error to the status label used by duration histograms.
func Status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
//
// Example:
//
//	timer := metrics.NewTimer()
//	syncTable(ctx, def)
//	metrics.SyncDuration.WithLabelValues(def.Name, "incremental").
//	    Observe(timer.Stop().Seconds())
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
