// Package metrics defines and registers all custom Prometheus metrics of the
// companion process. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on package
// initialisation (promauto) and exposed by the HTTP router under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "companion"

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionTransitionsTotal counts identity notifications observed by the session monitor.
// Label:
//   - status: the resulting session status ("authenticated", "unauthenticated")
var SessionTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Total number of identity notifications applied to the session state.",
	},
	[]string{"status"},
)

// ── Navigation metrics ────────────────────────────────────────────────────────

// NavigationResetsTotal counts full navigation-stack resets.
// Label:
//   - route: the new root screen (e.g. "Home", "Login")
var NavigationResetsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "navigation_resets_total",
		Help:      "Total number of navigation stack resets, by root route.",
	},
	[]string{"route"},
)

// DeepLinksTotal counts resolved deep links.
// Label:
//   - kind: "password_reset" or "noop"
var DeepLinksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deeplinks_total",
		Help:      "Total number of deep links resolved, by resulting action kind.",
	},
	[]string{"kind"},
)

// ── Record sync metrics ───────────────────────────────────────────────────────

// RecordOpsTotal counts record write operations.
// Labels:
//   - op: "create", "update" or "remove"
//   - result: "ok" or the error classification (e.g. "NOT_FOUND")
var RecordOpsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "record_ops_total",
		Help:      "Total number of record write operations, by operation and result.",
	},
	[]string{"op", "result"},
)

// RecordOpsInFlight tracks write operations awaiting the store.
var RecordOpsInFlight = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "record_ops_in_flight",
		Help:      "Current number of record write operations awaiting the document store.",
	},
)

// SnapshotsTotal counts snapshots applied to a projection.
var SnapshotsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_total",
		Help:      "Total number of live-subscription snapshots applied to a projection.",
	},
)

// SnapshotDuration measures mapping and sorting of a snapshot.
var SnapshotDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "snapshot_apply_duration_seconds",
		Help:      "Duration of mapping and sorting one snapshot into the projection.",
		Buckets:   prometheus.DefBuckets,
	},
)

// ── Dispatcher metrics ────────────────────────────────────────────────────────

// DispatchQueueDepth tracks the number of jobs waiting in each dispatcher worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var DispatchQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_queue_depth",
		Help:      "Current number of jobs pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)
