// Package graph holds the canonical, per-scan dependency graph: entities,
// relations and the records of what could not be resolved.
package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-archmap/pkg/algorithms"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
)

// RelationKind is the type of a directed edge.
type RelationKind string

const (
	Imports    RelationKind = "imports"
	Calls      RelationKind = "calls"
	DependsOn  RelationKind = "depends_on"
	Provisions RelationKind = "provisions"
	Contains   RelationKind = "contains"
	Builds     RelationKind = "builds"
)

// Match names the matcher that produced a resolution key or reference hit.
type Match string

const (
	MatchExact     Match = "exact"
	MatchName      Match = "name"
	MatchPath      Match = "path"
	MatchSingleton Match = "singleton"
)

// Entity is a canonical node after identity resolution.
type Entity struct {
	ID                string         `json:"entity_id"`
	Kind              facts.Kind     `json:"kind"`
	Name              string         `json:"name"`
	ResolutionKey     string         `json:"resolution_key"`
	Match             Match          `json:"match"`
	Attributes        map[string]any `json:"merged_attributes"`
	ContributingFacts []string       `json:"contributing_facts"`
}

// Evidence records one fact reference that supports a relation.
type Evidence struct {
	Fact       string  `json:"fact"`
	Hint       string  `json:"hint"`
	Context    string  `json:"context"`
	Match      Match   `json:"match"`
	Confidence float64 `json:"confidence"`
}

// RelationKey identifies a relation by its (from, to, kind) triple.
type RelationKey struct {
	From string       `json:"from"`
	To   string       `json:"to"`
	Kind RelationKind `json:"kind"`
}

func (k RelationKey) String() string {
	return fmt.Sprintf("%s-[%s]->%s", k.From, k.Kind, k.To)
}

// Less orders keys by from, to, then kind.
func (k RelationKey) Less(o RelationKey) bool {
	if k.From != o.From {
		return k.From < o.From
	}
	if k.To != o.To {
		return k.To < o.To
	}
	return k.Kind < o.Kind
}

// Relation is a directed edge between two entities of the same graph.
type Relation struct {
	From          string       `json:"from_entity_id"`
	To            string       `json:"to_entity_id"`
	Kind          RelationKind `json:"relation_kind"`
	Confidence    float64      `json:"confidence"`
	LowConfidence bool         `json:"low_confidence,omitempty"`
	Evidence      []Evidence   `json:"evidence"`
}

// Key returns the relation's triple.
func (r Relation) Key() RelationKey {
	return RelationKey{From: r.From, To: r.To, Kind: r.Kind}
}

// Dangling reference reasons.
const (
	ReasonUnresolved      = "unresolved"
	ReasonUnmappedContext = "unmapped_context"
)

// DanglingReference is a raw reference that did not become an edge.
type DanglingReference struct {
	Fact     string `json:"fact"`
	EntityID string `json:"from_entity_id"`
	Hint     string `json:"hint"`
	Context  string `json:"context"`
	Reason   string `json:"reason"`
}

// IdentityConflict records a resolution key claimed by incompatible kinds.
type IdentityConflict struct {
	Key       string       `json:"resolution_key"`
	EntityIDs []string     `json:"entity_ids"`
	Kinds     []facts.Kind `json:"kinds"`
	Facts     []string     `json:"facts"`
}

// Graph is the full set of entities and relations for one scan.
type Graph struct {
	ScanID    string              `json:"scan_id"`
	CreatedAt time.Time           `json:"created_at"`
	Entities  []Entity            `json:"entities"`
	Relations []Relation          `json:"relations"`
	Dangling  []DanglingReference `json:"dangling,omitempty"`
	Conflicts []IdentityConflict  `json:"conflicts,omitempty"`
	// Absorbed counts self-references that were not materialised.
	Absorbed int `json:"absorbed_references,omitempty"`

	indexOnce sync.Once
	index     map[string]int
}

// Sort puts every collection into canonical order.
func (g *Graph) Sort() {
	sort.Slice(g.Entities, func(i, j int) bool { return g.Entities[i].ID < g.Entities[j].ID })
	sort.Slice(g.Relations, func(i, j int) bool { return g.Relations[i].Key().Less(g.Relations[j].Key()) })
	sort.Slice(g.Dangling, func(i, j int) bool {
		a, b := g.Dangling[i], g.Dangling[j]
		if a.Fact != b.Fact {
			return a.Fact < b.Fact
		}
		if a.Hint != b.Hint {
			return a.Hint < b.Hint
		}
		return a.Context < b.Context
	})
	sort.Slice(g.Conflicts, func(i, j int) bool { return g.Conflicts[i].Key < g.Conflicts[j].Key })
}

func (g *Graph) buildIndex() {
	g.indexOnce.Do(func() {
		g.index = make(map[string]int, len(g.Entities))
		for i, e := range g.Entities {
			g.index[e.ID] = i
		}
	})
}

// Entity looks up an entity by id.
func (g *Graph) Entity(id string) (*Entity, bool) {
	g.buildIndex()
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return &g.Entities[i], true
}

// Validate checks that every relation endpoint is an entity of this graph.
func (g *Graph) Validate() error {
	for _, r := range g.Relations {
		if _, ok := g.Entity(r.From); !ok {
			return fmt.Errorf("relation %s: unknown source entity", r.Key())
		}
		if _, ok := g.Entity(r.To); !ok {
			return fmt.Errorf("relation %s: unknown target entity", r.Key())
		}
	}
	return nil
}

// Adjacency projects the relations accepted by accept onto an index-addressed
// digraph whose node order follows Entities.
func (g *Graph) Adjacency(accept func(RelationKind) bool) *algorithms.Digraph {
	ids := make([]string, len(g.Entities))
	for i, e := range g.Entities {
		ids[i] = e.ID
	}
	d := algorithms.NewDigraph(ids)
	for _, r := range g.Relations {
		if accept != nil && !accept(r.Kind) {
			continue
		}
		d.AddEdgeByID(r.From, r.To)
	}
	return d
}

// Degree returns the number of relations touching each entity.
func (g *Graph) Degree() map[string]int {
	deg := make(map[string]int, len(g.Entities))
	for _, r := range g.Relations {
		deg[r.From]++
		if r.To != r.From {
			deg[r.To]++
		}
	}
	return deg
}

// Stats summarises a graph.
type Stats struct {
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
	Dangling  int `json:"dangling"`
	Conflicts int `json:"conflicts"`
	Absorbed  int `json:"absorbed"`
}

// Stats returns the graph's counts.
func (g *Graph) Stats() Stats {
	return Stats{
		Entities:  len(g.Entities),
		Relations: len(g.Relations),
		Dangling:  len(g.Dangling),
		Conflicts: len(g.Conflicts),
		Absorbed:  g.Absorbed,
	}
}
