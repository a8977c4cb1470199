// Package rules holds the analysis rules that run over a built graph and the
// engine that executes them.
package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

// Rule kinds.
const (
	KindCircularDependency = "circular_dependency"
	KindSinglePointFailure = "single_point_of_failure"
	KindSecretExposure     = "secret_exposure"
	KindIdentityConflict   = "identity_conflict"
	KindOrphan             = "orphan"
)

// Rule analyses a graph. Implementations must treat the graph as read-only;
// the engine runs rules concurrently over the same instance.
type Rule interface {
	Kind() string
	// Accepts reports whether the rule looks at relations of the given kind.
	Accepts(kind graph.RelationKind) bool
	Analyze(ctx context.Context, g *graph.Graph) ([]finding.Finding, error)
}

// kindSet is the usual Accepts implementation.
type kindSet map[graph.RelationKind]bool

func newKindSet(kinds ...graph.RelationKind) kindSet {
	s := make(kindSet, len(kinds))
	for _, k := range kinds {
		s[k] = true
	}
	return s
}

func (s kindSet) Accepts(kind graph.RelationKind) bool { return s[kind] }

// Config selects and tunes the built-in rules.
type Config struct {
	// Enabled lists rule kinds to run. Empty means all.
	Enabled []string     `mapstructure:"enabled"`
	Cycle   CycleConfig  `mapstructure:"cycle"`
	SPF     SPFConfig    `mapstructure:"spf"`
	Secrets SecretConfig `mapstructure:"secrets"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Cycle: CycleConfig{MinCycleSize: DefaultMinCycleSize},
		SPF: SPFConfig{
			InDegreeThreshold: DefaultInDegreeThreshold,
			HighCentrality:    DefaultHighCentrality,
			Centrality:        true,
		},
	}
}

// Names lists every built-in rule kind.
func Names() []string {
	return []string{
		KindCircularDependency,
		KindIdentityConflict,
		KindOrphan,
		KindSecretExposure,
		KindSinglePointFailure,
	}
}

// Build instantiates the enabled built-in rules in kind order.
func Build(cfg Config) ([]Rule, error) {
	enabled := cfg.Enabled
	if len(enabled) == 0 {
		enabled = Names()
	}

	seen := make(map[string]bool, len(enabled))
	var out []Rule
	for _, name := range enabled {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case KindCircularDependency:
			out = append(out, NewCycleRule(cfg.Cycle))
		case KindSinglePointFailure:
			out = append(out, NewSPFRule(cfg.SPF))
		case KindSecretExposure:
			r, err := NewSecretRule(cfg.Secrets)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		case KindIdentityConflict:
			out = append(out, NewConflictRule())
		case KindOrphan:
			out = append(out, NewOrphanRule())
		default:
			return nil, fmt.Errorf("unknown rule %q", name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() < out[j].Kind() })
	return out, nil
}

// entityLabel renders an entity for explanations.
func entityLabel(g *graph.Graph, id string) string {
	if e, ok := g.Entity(id); ok && e.Name != "" {
		return e.Name
	}
	return id
}
