package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRuleMetrics() {
	r.RuleDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archmap_rule_duration_seconds",
			Help:    "Rule execution duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"rule"},
	)

	r.RuleFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archmap_rule_failures_total",
			Help: "Rule executions that failed or panicked",
		},
		[]string{"rule"},
	)

	r.FindingsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archmap_findings_total",
			Help: "Findings emitted across all runs by rule and severity",
		},
		[]string{"rule", "severity"},
	)

	r.FindingsCurrent = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archmap_findings_current",
			Help: "Findings in the most recent analysis by severity",
		},
		[]string{"severity"},
	)
}
