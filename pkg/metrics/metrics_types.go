package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Scan Metrics
	ScansTotal             *prometheus.CounterVec
	ScanDuration           prometheus.Histogram
	FactsAcceptedTotal     *prometheus.CounterVec
	FactsRejectedTotal     *prometheus.CounterVec
	ExtractorFailuresTotal *prometheus.CounterVec
	DiagnosticsTotal       *prometheus.CounterVec

	// Graph Metrics
	GraphEntities  prometheus.Gauge
	GraphRelations prometheus.Gauge
	GraphDangling  prometheus.Gauge
	GraphConflicts prometheus.Gauge

	// Rule Metrics
	RuleDuration      *prometheus.HistogramVec
	RuleFailuresTotal *prometheus.CounterVec
	FindingsTotal     *prometheus.CounterVec
	FindingsCurrent   *prometheus.GaugeVec

	// Snapshot Metrics
	SnapshotOperationsTotal   *prometheus.CounterVec
	SnapshotOperationDuration *prometheus.HistogramVec
	DiffChangesTotal          *prometheus.CounterVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	started  time.Time
	mu       sync.Mutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		started:  time.Now(),
	}

	r.initScanMetrics()
	r.initGraphMetrics()
	r.initRuleMetrics()
	r.initSnapshotMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
