package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

func entity(id string, kind facts.Kind) graph.Entity {
	return graph.Entity{ID: id, Kind: kind, Name: id, Attributes: map[string]any{"name": id}}
}

func rel(from, to string, kind graph.RelationKind) graph.Relation {
	return graph.Relation{From: from, To: to, Kind: kind, Confidence: 1}
}

func newGraph(entities []graph.Entity, relations ...graph.Relation) *graph.Graph {
	g := &graph.Graph{ScanID: "scan", Entities: entities, Relations: relations}
	g.Sort()
	return g
}

func analyze(t *testing.T, r Rule, g *graph.Graph) []finding.Finding {
	t.Helper()
	fs, err := r.Analyze(context.Background(), g)
	require.NoError(t, err)
	return fs
}

func TestCycleRuleSCCFixture(t *testing.T) {
	var ents []graph.Entity
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		ents = append(ents, entity(id, facts.KindService))
	}
	g := newGraph(ents,
		rel("A", "B", graph.DependsOn),
		rel("B", "C", graph.DependsOn),
		rel("C", "A", graph.DependsOn),
		rel("D", "E", graph.DependsOn),
	)

	fs := analyze(t, NewCycleRule(CycleConfig{}), g)
	require.Len(t, fs, 1)

	f := fs[0]
	assert.Equal(t, KindCircularDependency, f.RuleKind)
	assert.Equal(t, []string{"A", "B", "C"}, f.InvolvedEntities)
	assert.Len(t, f.InvolvedRelations, 3)
	assert.Equal(t, finding.SeverityMedium, f.Severity)
	assert.Contains(t, f.Explanation, "A -> B -> C -> A")
	assert.Equal(t, 3, f.Evidence["size"])
}

func TestCycleRuleIgnoresOtherKinds(t *testing.T) {
	g := newGraph([]graph.Entity{entity("a", facts.KindService), entity("b", facts.KindContainer)},
		rel("a", "b", graph.Contains),
		rel("b", "a", graph.Builds),
	)
	assert.Empty(t, analyze(t, NewCycleRule(CycleConfig{}), g))
}

func TestCycleRuleSelfLoops(t *testing.T) {
	g := newGraph([]graph.Entity{entity("m", facts.KindModule)}, rel("m", "m", graph.Imports))

	fs := analyze(t, NewCycleRule(CycleConfig{}), g)
	require.Len(t, fs, 1)
	assert.Equal(t, finding.SeverityLow, fs[0].Severity)
	assert.Equal(t, []string{"m"}, fs[0].InvolvedEntities)
	assert.Contains(t, fs[0].Explanation, "depends on itself")

	assert.Empty(t, analyze(t, NewCycleRule(CycleConfig{IgnoreSelfLoops: true}), g))
}

func TestDefaultConfigReportsSelfLoops(t *testing.T) {
	g := newGraph([]graph.Entity{entity("m", facts.KindModule)}, rel("m", "m", graph.DependsOn))

	rs, err := Build(DefaultConfig())
	require.NoError(t, err)
	var cycles []finding.Finding
	for _, r := range rs {
		if r.Kind() == KindCircularDependency {
			cycles = analyze(t, r, g)
		}
	}
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"m"}, cycles[0].InvolvedEntities)
}

func TestCycleRuleMinSize(t *testing.T) {
	g := newGraph([]graph.Entity{entity("a", facts.KindModule), entity("b", facts.KindModule)},
		rel("a", "b", graph.Imports),
		rel("b", "a", graph.Imports),
	)
	assert.Len(t, analyze(t, NewCycleRule(CycleConfig{}), g), 1)
	assert.Empty(t, analyze(t, NewCycleRule(CycleConfig{MinCycleSize: 3}), g))
}

func TestCycleSeverity(t *testing.T) {
	cases := map[int]finding.Severity{
		1: finding.SeverityLow,
		2: finding.SeverityLow,
		3: finding.SeverityMedium,
		5: finding.SeverityMedium,
		6: finding.SeverityHigh,
	}
	for size, want := range cases {
		if got := cycleSeverity(size); got != want {
			t.Errorf("cycleSeverity(%d) = %s, want %s", size, got, want)
		}
	}
}

func TestCycleRuleMinConfidence(t *testing.T) {
	weak := rel("b", "a", graph.Calls)
	weak.Confidence = 0.4
	g := newGraph([]graph.Entity{entity("a", facts.KindService), entity("b", facts.KindService)},
		rel("a", "b", graph.Calls), weak)

	fs := analyze(t, NewCycleRule(CycleConfig{}), g)
	require.Len(t, fs, 1)
	assert.InDelta(t, 0.4, fs[0].Confidence, 1e-9)
}

func star(hubs int, leaves int) *graph.Graph {
	var ents []graph.Entity
	var rels []graph.Relation
	for h := 0; h < hubs; h++ {
		ents = append(ents, entity(fmt.Sprintf("h%d", h), facts.KindResource))
	}
	for l := 1; l <= leaves; l++ {
		id := fmt.Sprintf("l%d", l)
		ents = append(ents, entity(id, facts.KindService))
		for h := 0; h < hubs; h++ {
			rels = append(rels, rel(id, fmt.Sprintf("h%d", h), graph.DependsOn))
		}
	}
	return newGraph(ents, rels...)
}

func TestSPFRuleStar(t *testing.T) {
	fs := analyze(t, NewSPFRule(SPFConfig{Centrality: true}), star(1, 5))
	require.Len(t, fs, 1)

	f := fs[0]
	assert.Equal(t, []string{"h0"}, f.InvolvedEntities)
	assert.Equal(t, finding.SeverityHigh, f.Severity)
	assert.Equal(t, 5, f.Evidence["in_degree"])
	assert.Equal(t, 5, f.Evidence["dependent_groups"])
	assert.InDelta(t, 1.0, f.Evidence["centrality"], 1e-9)
}

func TestSPFRuleWithoutCentralityIsMedium(t *testing.T) {
	fs := analyze(t, NewSPFRule(SPFConfig{}), star(1, 5))
	require.Len(t, fs, 1)
	assert.Equal(t, finding.SeverityMedium, fs[0].Severity)
	assert.NotContains(t, fs[0].Evidence, "centrality")
}

func TestSPFRuleRedundantHubs(t *testing.T) {
	assert.Empty(t, analyze(t, NewSPFRule(SPFConfig{Centrality: true}), star(2, 5)))
}

func TestSPFRuleRedundantHubsWithDownstream(t *testing.T) {
	g := star(2, 5)
	g.Entities = append(g.Entities, entity("db", facts.KindResource))
	g.Relations = append(g.Relations, rel("h0", "db", graph.DependsOn))
	g.Sort()

	// h0 is an articulation point for db, but its five dependents still
	// reach each other through h1.
	assert.Empty(t, analyze(t, NewSPFRule(SPFConfig{Centrality: true}), g))
}

func TestSPFRuleThreshold(t *testing.T) {
	assert.Empty(t, analyze(t, NewSPFRule(SPFConfig{Centrality: true}), star(1, 2)))
	assert.Len(t, analyze(t, NewSPFRule(SPFConfig{InDegreeThreshold: 2}), star(1, 2)), 1)
}

func TestConflictRule(t *testing.T) {
	g := newGraph([]graph.Entity{entity("w", facts.KindService), entity("s", facts.KindSecretCandidate)})
	g.Conflicts = []graph.IdentityConflict{{
		Key:       "name:db",
		EntityIDs: []string{"w", "s"},
		Kinds:     []facts.Kind{facts.KindService, facts.KindSecretCandidate},
		Facts:     []string{"k8s:db", "code:db"},
	}}

	fs := analyze(t, NewConflictRule(), g)
	require.Len(t, fs, 1)
	assert.Equal(t, finding.SeverityLow, fs[0].Severity)
	assert.Equal(t, "name:db", fs[0].Subject)
	assert.Equal(t, []string{"s", "w"}, fs[0].InvolvedEntities)
}

func TestOrphanRule(t *testing.T) {
	g := newGraph([]graph.Entity{
		entity("lonely", facts.KindService),
		entity("busy", facts.KindService),
		entity("lib", facts.KindPackage),
		entity("mod", facts.KindModule),
	}, rel("busy", "lib", graph.DependsOn))

	fs := analyze(t, NewOrphanRule(), g)
	require.Len(t, fs, 1)
	assert.Equal(t, []string{"lonely"}, fs[0].InvolvedEntities)
	assert.Equal(t, finding.SeverityInfo, fs[0].Severity)
}

func TestBuild(t *testing.T) {
	rs, err := Build(DefaultConfig())
	require.NoError(t, err)
	require.Len(t, rs, len(Names()))
	for i := 1; i < len(rs); i++ {
		assert.Less(t, rs[i-1].Kind(), rs[i].Kind())
	}

	rs, err = Build(Config{Enabled: []string{KindOrphan, KindOrphan, KindCircularDependency}})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, KindCircularDependency, rs[0].Kind())

	_, err = Build(Config{Enabled: []string{"telepathy"}})
	assert.Error(t, err)
}
