package builder

import (
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

// contextDefaults maps a reference context to its relation kind.
var contextDefaults = map[string]graph.RelationKind{
	facts.ContextImport:     graph.Imports,
	facts.ContextCall:       graph.Calls,
	facts.ContextDependsOn:  graph.DependsOn,
	facts.ContextProvision:  graph.Provisions,
	facts.ContextContain:    graph.Contains,
	facts.ContextBuild:      graph.Builds,
	facts.ContextBaseImage:  graph.Builds,
	facts.ContextImage:      graph.Contains,
	facts.ContextDependency: graph.DependsOn,
}

type mappingKey struct {
	kind    facts.Kind
	context string
}

// kindOverrides refine the default for specific source fact kinds: a
// Dockerfile naming an image builds it, a deployment naming one runs it.
var kindOverrides = map[mappingKey]graph.RelationKind{
	{facts.KindContainer, facts.ContextImage}:      graph.Builds,
	{facts.KindResource, facts.ContextContain}:     graph.Provisions,
	{facts.KindPackage, facts.ContextImport}:       graph.DependsOn,
	{facts.KindSecretCandidate, facts.ContextCall}: graph.DependsOn,
}

// RelationFor returns the relation kind for a reference with context ctx
// emitted by a fact of kind kind.
func RelationFor(kind facts.Kind, ctx string) (graph.RelationKind, bool) {
	if rk, ok := kindOverrides[mappingKey{kind, ctx}]; ok {
		return rk, true
	}
	rk, ok := contextDefaults[ctx]
	return rk, ok
}

// matchConfidence is the base confidence of a reference hit per matcher.
var matchConfidence = map[graph.Match]float64{
	graph.MatchExact: 1.0,
	graph.MatchPath:  0.8,
	graph.MatchName:  0.6,
}

// selfLoopKinds may legitimately point an entity at itself.
var selfLoopKinds = map[graph.RelationKind]bool{
	graph.Imports:   true,
	graph.Calls:     true,
	graph.DependsOn: true,
}
