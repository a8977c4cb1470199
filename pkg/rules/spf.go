package rules

import (
	"context"
	"fmt"
	"math"

	"github.com/dd0wney/cluso-archmap/pkg/algorithms"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

const (
	// DefaultInDegreeThreshold is the minimum number of dependents.
	DefaultInDegreeThreshold = 3
	// DefaultHighCentrality is the betweenness at which severity becomes high.
	DefaultHighCentrality = 0.5
)

// SPFConfig tunes single point of failure detection.
type SPFConfig struct {
	InDegreeThreshold int     `mapstructure:"in_degree_threshold" validate:"gte=0"`
	HighCentrality    float64 `mapstructure:"high_centrality" validate:"gte=0,lte=1"`
	// Centrality enables betweenness scoring; without it every hit is medium.
	Centrality bool `mapstructure:"centrality"`
}

// SPFRule flags heavily depended-on entities whose dependents have no
// redundant route: nodes with high in-degree whose removal splits those
// dependents into two or more disconnected groups of the undirected
// dependency view. Stranding only downstream nodes does not count.
type SPFRule struct {
	kindSet
	cfg SPFConfig
}

// NewSPFRule creates a single point of failure rule.
func NewSPFRule(cfg SPFConfig) *SPFRule {
	if cfg.InDegreeThreshold <= 0 {
		cfg.InDegreeThreshold = DefaultInDegreeThreshold
	}
	if cfg.HighCentrality <= 0 {
		cfg.HighCentrality = DefaultHighCentrality
	}
	return &SPFRule{
		kindSet: newKindSet(graph.DependsOn, graph.Provisions, graph.Contains),
		cfg:     cfg,
	}
}

func (r *SPFRule) Kind() string { return KindSinglePointFailure }

func (r *SPFRule) Analyze(ctx context.Context, g *graph.Graph) ([]finding.Finding, error) {
	d := g.Adjacency(r.Accepts)
	u := d.Undirected()

	var hits []spfHit
	for _, v := range algorithms.ArticulationPoints(u) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.InDegree(v) < r.cfg.InDegreeThreshold {
			continue
		}
		var dependents []int
		for _, p := range d.In[v] {
			if p != v {
				dependents = append(dependents, p)
			}
		}
		groups := algorithms.DistinctLabels(algorithms.ComponentsWithout(u, v), dependents)
		if len(groups) < 2 {
			continue
		}
		hits = append(hits, spfHit{node: v, dependents: dependents, groups: len(groups)})
	}
	if len(hits) == 0 {
		return nil, nil
	}

	var centrality []float64
	if r.cfg.Centrality {
		centrality = algorithms.BetweennessCentrality(u)
	}

	out := make([]finding.Finding, 0, len(hits))
	for _, h := range hits {
		id := d.IDs[h.node]
		dependentIDs := make([]string, len(h.dependents))
		for i, p := range h.dependents {
			dependentIDs[i] = d.IDs[p]
		}

		severity := finding.SeverityMedium
		evidence := map[string]any{
			"in_degree":        len(h.dependents),
			"dependent_groups": h.groups,
			"dependents":       dependentIDs,
		}
		explanation := fmt.Sprintf("%s is a single point of failure: %d dependents, %d isolated groups without it",
			entityLabel(g, id), len(h.dependents), h.groups)
		if centrality != nil {
			c := round(centrality[h.node], 4)
			evidence["centrality"] = c
			if c >= r.cfg.HighCentrality {
				severity = finding.SeverityHigh
			}
			explanation += fmt.Sprintf(", betweenness %.2f", c)
		}

		out = append(out, finding.New(r.Kind(), severity, "", []string{id}, nil, explanation).
			WithEvidence(evidence))
	}
	return out, nil
}

// spfHit is an articulation point whose removal splits its dependents.
type spfHit struct {
	node       int
	dependents []int
	groups     int
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
