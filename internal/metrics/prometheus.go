// Package metrics defines the Prometheus instrumentation for the store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Quorum metrics
	QuorumFailures  *prometheus.CounterVec
	SloppyFallbacks prometheus.Counter
	ConflictsTotal  prometheus.Counter

	// Anti-entropy metrics
	HintsParked      prometheus.Counter
	HintsReplayed    prometheus.Counter
	ReadRepairsTotal prometheus.Counter
	RepairQueueSize  prometheus.Gauge
	MerkleSyncsTotal *prometheus.CounterVec
	TombstonesPurged prometheus.Counter

	// Membership metrics
	ClusterSize prometheus.Gauge
	PeersDown   prometheus.Gauge
}

// New creates the metric set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftdb_requests_total",
				Help: "Total number of client operations processed",
			},
			[]string{"operation"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "driftdb_request_duration_seconds",
				Help:    "Duration of client operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftdb_request_errors_total",
				Help: "Total number of client operation errors",
			},
			[]string{"operation", "error_code"},
		),
		QuorumFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftdb_quorum_failures_total",
				Help: "Operations that could not assemble a quorum",
			},
			[]string{"operation"},
		),
		SloppyFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "driftdb_sloppy_fallbacks_total",
				Help: "Writes redirected to a fallback replica",
			},
		),
		ConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "driftdb_conflicts_total",
				Help: "Reads that surfaced concurrent versions",
			},
		),
		HintsParked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "driftdb_hints_parked_total",
				Help: "Hints stored for unreachable replicas",
			},
		),
		HintsReplayed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "driftdb_hints_replayed_total",
				Help: "Hints successfully delivered to their targets",
			},
		),
		ReadRepairsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "driftdb_read_repairs_total",
				Help: "Replicas repaired after a stale read",
			},
		),
		RepairQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "driftdb_repair_queue_size",
				Help: "Pending read repair tasks",
			},
		),
		MerkleSyncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftdb_merkle_syncs_total",
				Help: "Merkle sync sessions by outcome",
			},
			[]string{"outcome"},
		),
		TombstonesPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "driftdb_tombstones_purged_total",
				Help: "Tombstones physically removed after the grace period",
			},
		),
		ClusterSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "driftdb_cluster_size",
				Help: "Known members in the local membership view",
			},
		),
		PeersDown: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "driftdb_peers_down",
				Help: "Peers currently considered down",
			},
		),
	}
}

// NewNop returns a metric set backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
