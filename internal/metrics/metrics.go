// Package metrics exposes the prometheus counters and gauges the applier
// and snapshot path update as they run. The teacher's go.mod already
// carried prometheus/client_golang as an (unwired) dependency; this
// package is its first consumer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric this module emits. Callers hold one
// instance and pass it down to the applier and snapshot machinery rather
// than reaching for the global default registry, so multiple state
// machines in one process (e.g. in tests) never collide on metric names.
type Registry struct {
	EntriesApplied   *prometheus.CounterVec
	UpsertsApplied   prometheus.Counter
	KeysExpired      prometheus.Counter
	TxnApplied       *prometheus.CounterVec
	ApplyDuration    prometheus.Histogram

	SnapshotsBuilt   prometheus.Counter
	SnapshotKVCount  prometheus.Gauge
	SnapshotBytes    prometheus.Histogram
	SnapshotDuration prometheus.Histogram

	HeaderUpgrades *prometheus.CounterVec
}

// NewRegistry builds a Registry and registers every metric with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		EntriesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metakv",
			Subsystem: "apply",
			Name:      "entries_total",
			Help:      "Committed log entries applied, by payload kind.",
		}, []string{"kind"}),
		UpsertsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metakv",
			Subsystem: "apply",
			Name:      "upserts_total",
			Help:      "Single-key upserts that changed state.",
		}),
		KeysExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metakv",
			Subsystem: "apply",
			Name:      "keys_expired_total",
			Help:      "Keys removed by the background expiration sweep.",
		}),
		TxnApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metakv",
			Subsystem: "apply",
			Name:      "txn_total",
			Help:      "Transactions applied, by which branch ran.",
		}, []string{"branch"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "metakv",
			Subsystem: "apply",
			Name:      "entry_duration_seconds",
			Help:      "Time to apply one committed log entry.",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metakv",
			Subsystem: "snapshot",
			Name:      "built_total",
			Help:      "Full snapshot views built via FullSnapshotView.",
		}),
		SnapshotKVCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "metakv",
			Subsystem: "snapshot",
			Name:      "kv_count",
			Help:      "Live key count in the most recently built snapshot.",
		}),
		SnapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "metakv",
			Subsystem: "snapshot",
			Name:      "bytes",
			Help:      "Size of committed snapshot files.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "metakv",
			Subsystem: "snapshot",
			Name:      "export_duration_seconds",
			Help:      "Time to export a snapshot view to its on-disk file.",
			Buckets:   prometheus.DefBuckets,
		}),
		HeaderUpgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metakv",
			Subsystem: "ondisk",
			Name:      "upgrades_total",
			Help:      "Data-version upgrade transitions completed, by target version.",
		}, []string{"target_version"}),
	}

	reg.MustRegister(
		r.EntriesApplied, r.UpsertsApplied, r.KeysExpired, r.TxnApplied, r.ApplyDuration,
		r.SnapshotsBuilt, r.SnapshotKVCount, r.SnapshotBytes, r.SnapshotDuration,
		r.HeaderUpgrades,
	)
	return r
}
