package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

// ConflictRule reports resolution keys that were claimed by both workload
// and secret facts.
type ConflictRule struct{}

// NewConflictRule creates an identity conflict rule.
func NewConflictRule() *ConflictRule { return &ConflictRule{} }

func (*ConflictRule) Kind() string                    { return KindIdentityConflict }
func (*ConflictRule) Accepts(graph.RelationKind) bool { return false }

func (r *ConflictRule) Analyze(ctx context.Context, g *graph.Graph) ([]finding.Finding, error) {
	out := make([]finding.Finding, 0, len(g.Conflicts))
	for _, c := range g.Conflicts {
		kinds := make([]string, len(c.Kinds))
		for i, k := range c.Kinds {
			kinds[i] = string(k)
		}
		explanation := fmt.Sprintf("resolution key %q is shared by incompatible kinds (%s); kept as %d separate entities",
			c.Key, strings.Join(kinds, ", "), len(c.EntityIDs))
		out = append(out, finding.New(r.Kind(), finding.SeverityLow, c.Key, c.EntityIDs, nil, explanation).
			WithEvidence(map[string]any{
				"resolution_key": c.Key,
				"kinds":          kinds,
				"facts":          c.Facts,
			}))
	}
	return out, nil
}

// OrphanRule reports services and containers that take part in no relation.
type OrphanRule struct{}

// NewOrphanRule creates an orphan rule.
func NewOrphanRule() *OrphanRule { return &OrphanRule{} }

func (*OrphanRule) Kind() string                    { return KindOrphan }
func (*OrphanRule) Accepts(graph.RelationKind) bool { return true }

func (r *OrphanRule) Analyze(ctx context.Context, g *graph.Graph) ([]finding.Finding, error) {
	degree := g.Degree()
	var out []finding.Finding
	for _, e := range g.Entities {
		if e.Kind != facts.KindService && e.Kind != facts.KindContainer {
			continue
		}
		if degree[e.ID] > 0 {
			continue
		}
		out = append(out, finding.New(r.Kind(), finding.SeverityInfo, "", []string{e.ID}, nil,
			fmt.Sprintf("%s %s has no relations to any other entity", e.Kind, entityLabel(g, e.ID))))
	}
	return out, nil
}
