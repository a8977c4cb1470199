package rules

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/dd0wney/cluso-archmap/pkg/algorithms"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

// DefaultMinCycleSize is the smallest component reported as a cycle.
const DefaultMinCycleSize = 2

// CycleConfig tunes circular dependency detection.
type CycleConfig struct {
	MinCycleSize int `mapstructure:"min_cycle_size" validate:"gte=0"`
	// IgnoreSelfLoops drops the size-1 findings for entities that depend on
	// themselves.
	IgnoreSelfLoops bool `mapstructure:"ignore_self_loops"`
}

// CycleRule reports strongly connected components over the coupling
// relations (imports, depends_on, calls).
type CycleRule struct {
	kindSet
	cfg CycleConfig
}

// NewCycleRule creates a circular dependency rule.
func NewCycleRule(cfg CycleConfig) *CycleRule {
	if cfg.MinCycleSize < 2 {
		cfg.MinCycleSize = DefaultMinCycleSize
	}
	return &CycleRule{
		kindSet: newKindSet(graph.Imports, graph.DependsOn, graph.Calls),
		cfg:     cfg,
	}
}

func (r *CycleRule) Kind() string { return KindCircularDependency }

// Analyze runs Tarjan's SCC over the accepted relations. Each component of
// at least MinCycleSize members is one finding; self-loops are size-1
// findings unless ignored.
func (r *CycleRule) Analyze(ctx context.Context, g *graph.Graph) ([]finding.Finding, error) {
	d := g.Adjacency(r.Accepts)
	scc := algorithms.StronglyConnectedComponents(d)

	var out []finding.Finding
	for _, c := range scc.Components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch {
		case c.Size >= r.cfg.MinCycleSize:
		case c.Size == 1 && !r.cfg.IgnoreSelfLoops && d.HasSelfLoop(c.Nodes[0]):
		default:
			continue
		}

		members := make([]string, c.Size)
		inComp := make(map[string]bool, c.Size)
		for i, v := range c.Nodes {
			members[i] = d.IDs[v]
			inComp[d.IDs[v]] = true
		}

		var rels []graph.RelationKey
		minConf := math.Inf(1)
		for _, rel := range g.Relations {
			if !r.Accepts(rel.Kind) || !inComp[rel.From] || !inComp[rel.To] {
				continue
			}
			rels = append(rels, rel.Key())
			minConf = math.Min(minConf, rel.Confidence)
		}
		if math.IsInf(minConf, 1) {
			minConf = 1
		}

		cycle := algorithms.FindCycle(d, c.Nodes)
		path := make([]string, 0, len(cycle)+1)
		pathIDs := make([]string, 0, len(cycle))
		for _, v := range cycle {
			path = append(path, entityLabel(g, d.IDs[v]))
			pathIDs = append(pathIDs, d.IDs[v])
		}
		if len(cycle) > 0 {
			path = append(path, entityLabel(g, d.IDs[cycle[0]]))
		}

		var explanation string
		if c.Size == 1 {
			explanation = fmt.Sprintf("%s depends on itself", path[0])
		} else {
			explanation = fmt.Sprintf("Circular dependency among %d entities: %s",
				c.Size, strings.Join(path, " -> "))
		}

		f := finding.New(r.Kind(), cycleSeverity(c.Size), "", members, rels, explanation).
			WithConfidence(minConf).
			WithEvidence(map[string]any{
				"size":  c.Size,
				"cycle": pathIDs,
			})
		out = append(out, f)
	}
	return out, nil
}

func cycleSeverity(size int) finding.Severity {
	switch {
	case size <= 2:
		return finding.SeverityLow
	case size <= 5:
		return finding.SeverityMedium
	default:
		return finding.SeverityHigh
	}
}
