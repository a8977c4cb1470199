package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initGraphMetrics() {
	r.GraphEntities = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "archmap_graph_entities",
			Help: "Entities in the most recently built graph",
		},
	)

	r.GraphRelations = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "archmap_graph_relations",
			Help: "Relations in the most recently built graph",
		},
	)

	r.GraphDangling = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "archmap_graph_dangling_references",
			Help: "References that did not resolve to an entity",
		},
	)

	r.GraphConflicts = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "archmap_graph_identity_conflicts",
			Help: "Resolution keys claimed by entities of different families",
		},
	)
}
