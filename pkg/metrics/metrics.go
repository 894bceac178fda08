package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the coordinator.
// Using promauto for automatic registration with the default registry.
var (
	// --- Lease Metrics ---

	// AcquiresTotal counts acquire attempts by outcome.
	AcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "leases",
			Name:      "acquires_total",
			Help:      "Total acquire attempts by outcome",
		},
		[]string{"outcome", "kind"},
	)

	// RenewalsTotal counts renew attempts by outcome.
	RenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "leases",
			Name:      "renewals_total",
			Help:      "Total renew attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ReleasesTotal counts release attempts by outcome.
	ReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "leases",
			Name:      "releases_total",
			Help:      "Total release attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ActiveLeases tracks live leases, refreshed by the sweeper.
	ActiveLeases = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "camcoord",
			Subsystem: "leases",
			Name:      "active",
			Help:      "Number of live leases",
		},
	)

	// LeasesPurged counts records reclaimed by the sweep.
	LeasesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "leases",
			Name:      "purged_total",
			Help:      "Total expired lease records purged",
		},
	)

	// NotLeaderRejections counts mutations refused by the leadership gate.
	NotLeaderRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "leases",
			Name:      "not_leader_rejections_total",
			Help:      "Mutations rejected because this node is not leader",
		},
	)

	// StorageErrors counts backend failures surfaced to callers.
	StorageErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total lease store failures",
		},
	)

	// --- Cluster Metrics ---

	// ClusterRole exposes the current role as a 0/1 gauge per role label.
	ClusterRole = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "camcoord",
			Subsystem: "cluster",
			Name:      "role",
			Help:      "Current node role (1 for the active role)",
		},
		[]string{"role"},
	)

	// ClusterTerm tracks the current election term.
	ClusterTerm = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "camcoord",
			Subsystem: "cluster",
			Name:      "term",
			Help:      "Current election term",
		},
	)

	// ElectionsStarted counts elections this node initiated.
	ElectionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "cluster",
			Name:      "elections_started_total",
			Help:      "Total elections started by this node",
		},
	)

	// ElectionsWon counts elections this node won.
	ElectionsWon = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "cluster",
			Name:      "elections_won_total",
			Help:      "Total elections won by this node",
		},
	)

	// HeartbeatsSent counts heartbeats delivered to peers.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "cluster",
			Name:      "heartbeats_sent_total",
			Help:      "Total heartbeats delivered to peers",
		},
	)

	// HeartbeatFailures counts heartbeats that never reached a peer.
	HeartbeatFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camcoord",
			Subsystem: "cluster",
			Name:      "heartbeat_failures_total",
			Help:      "Total heartbeats that failed to reach a peer",
		},
	)
)

var roles = []string{"follower", "candidate", "leader"}

// SetClusterRole flips the role gauge so exactly one label reads 1.
func SetClusterRole(active string) {
	for _, r := range roles {
		v := 0.0
		if r == active {
			v = 1.0
		}
		ClusterRole.WithLabelValues(r).Set(v)
	}
}

// RecordAcquire records an acquire attempt outcome.
func RecordAcquire(outcome, kind string) {
	AcquiresTotal.WithLabelValues(outcome, kind).Inc()
}
