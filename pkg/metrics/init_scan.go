package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initScanMetrics() {
	r.ScansTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archmap_scans_total",
			Help: "Total number of scans by outcome",
		},
		[]string{"status"},
	)

	r.ScanDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archmap_scan_duration_seconds",
			Help:    "End-to-end scan duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	r.FactsAcceptedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archmap_facts_accepted_total",
			Help: "Facts accepted by source kind",
		},
		[]string{"source"},
	)

	r.FactsRejectedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archmap_facts_rejected_total",
			Help: "Facts rejected during validation by source kind",
		},
		[]string{"source"},
	)

	r.ExtractorFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archmap_extractor_failures_total",
			Help: "Extractors that failed outright, by source kind",
		},
		[]string{"source"},
	)

	r.DiagnosticsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archmap_diagnostics_total",
			Help: "Diagnostics recorded by kind",
		},
		[]string{"kind"},
	)
}
