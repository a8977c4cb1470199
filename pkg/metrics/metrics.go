package metrics

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/diff"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
)

// Operation outcomes used as status labels.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// RecordScan records a finished scan with its duration
func (r *Registry) RecordScan(status string, duration time.Duration) {
	r.ScansTotal.WithLabelValues(status).Inc()
	r.ScanDuration.Observe(duration.Seconds())
}

// RecordFacts records how many facts one source kind contributed
func (r *Registry) RecordFacts(source string, accepted, rejected int) {
	r.FactsAcceptedTotal.WithLabelValues(source).Add(float64(accepted))
	r.FactsRejectedTotal.WithLabelValues(source).Add(float64(rejected))
}

// RecordExtractorFailure records an extractor that produced nothing
func (r *Registry) RecordExtractorFailure(source string) {
	r.ExtractorFailuresTotal.WithLabelValues(source).Inc()
}

// RecordDiagnostics counts a scan's diagnostics by kind
func (r *Registry) RecordDiagnostics(items []diag.Diagnostic) {
	for _, d := range items {
		r.DiagnosticsTotal.WithLabelValues(string(d.Kind)).Inc()
	}
}

// RecordGraph publishes the size of a freshly built graph
func (r *Registry) RecordGraph(s graph.Stats) {
	r.GraphEntities.Set(float64(s.Entities))
	r.GraphRelations.Set(float64(s.Relations))
	r.GraphDangling.Set(float64(s.Dangling))
	r.GraphConflicts.Set(float64(s.Conflicts))
}

// ObserveRule records one rule execution. It satisfies rules.Observer.
func (r *Registry) ObserveRule(kind string, elapsed time.Duration, _ int, err error) {
	r.RuleDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		r.RuleFailuresTotal.WithLabelValues(kind).Inc()
	}
}

// RecordFindings counts an analysis result and replaces the current
// per-severity gauges.
func (r *Registry) RecordFindings(fs []finding.Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range fs {
		r.FindingsTotal.WithLabelValues(f.RuleKind, string(f.Severity)).Inc()
	}
	counts := finding.CountBySeverity(fs)
	for _, sev := range finding.Severities {
		r.FindingsCurrent.WithLabelValues(string(sev)).Set(float64(counts[sev]))
	}
}

// ObserveSnapshotOp records a snapshot store operation. It satisfies
// snapshot.Observer.
func (r *Registry) ObserveSnapshotOp(op string, elapsed time.Duration, err error) {
	status := StatusSuccess
	switch {
	case err == nil:
	case errors.Is(err, snapshot.ErrNotFound):
		status = StatusNotFound
	default:
		status = StatusError
	}
	r.SnapshotOperationsTotal.WithLabelValues(op, status).Inc()
	r.SnapshotOperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordDiff counts the changes between two consecutive snapshots
func (r *Registry) RecordDiff(s diff.Summary) {
	add := func(category string, n int) {
		if n > 0 {
			r.DiffChangesTotal.WithLabelValues(category).Add(float64(n))
		}
	}
	add("entities_added", s.EntitiesAdded)
	add("entities_removed", s.EntitiesRemoved)
	add("entities_modified", s.EntitiesModified)
	add("relations_added", s.RelationsAdded)
	add("relations_removed", s.RelationsRemoved)
	add("relations_modified", s.RelationsModified)
	add("findings_introduced", s.FindingsIntroduced)
	add("findings_resolved", s.FindingsResolved)
	add("findings_changed", s.FindingsChanged)
}

// UpdateSystemMetrics refreshes the process gauges
func (r *Registry) UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r.UptimeSeconds.Set(time.Since(r.started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WriteTextfile writes the registry for the node exporter's textfile
// collector. The file is replaced atomically.
func (r *Registry) WriteTextfile(path string) error {
	r.UpdateSystemMetrics()
	return prometheus.WriteToTextfile(path, r.registry)
}
