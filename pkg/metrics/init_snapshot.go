package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSnapshotMetrics() {
	r.SnapshotOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archmap_snapshot_operations_total",
			Help: "Total number of snapshot store operations",
		},
		[]string{"operation", "status"},
	)

	r.SnapshotOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archmap_snapshot_operation_duration_seconds",
			Help:    "Snapshot store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	r.DiffChangesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archmap_diff_changes_total",
			Help: "Changes detected between consecutive snapshots by category",
		},
		[]string{"category"},
	)
}
