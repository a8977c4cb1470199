// Package builder assembles resolved entities and raw references into the
// per-scan dependency graph.
package builder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
	"github.com/dd0wney/cluso-archmap/pkg/identity"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

// DefaultLowConfidence flags relations below this confidence.
const DefaultLowConfidence = 0.7

// Options tunes the builder.
type Options struct {
	LowConfidence float64
}

// Builder turns facts plus their resolution into a Graph. Every lookup is a
// map probe, so a build is linear in facts plus references.
type Builder struct {
	opts   Options
	logger logging.Logger
}

// New creates a builder.
func New(opts Options, logger logging.Logger) *Builder {
	if opts.LowConfidence <= 0 {
		opts.LowConfidence = DefaultLowConfidence
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Builder{opts: opts, logger: logger.With(logging.Component("builder"))}
}

// Input is everything one build needs.
type Input struct {
	ScanID     string
	CreatedAt  time.Time
	Facts      []facts.Fact
	Resolution *identity.Resolution
}

// Build constructs the graph. Unresolvable references become dangling
// records; the returned graph never holds an edge to a missing entity.
func (b *Builder) Build(ctx context.Context, in Input, trail *diag.Trail) (*graph.Graph, error) {
	if in.Resolution == nil {
		return nil, fmt.Errorf("build %s: nil resolution", in.ScanID)
	}
	res := in.Resolution

	ordered := make([]facts.Fact, len(in.Facts))
	copy(ordered, in.Facts)
	facts.SortBySeq(ordered)

	g := &graph.Graph{
		ScanID:    in.ScanID,
		CreatedAt: in.CreatedAt.UTC(),
		Entities:  res.Entities,
		Conflicts: res.Conflicts,
	}

	relations := make(map[graph.RelationKey]*graph.Relation)
	for i, f := range ordered {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		assigned, ok := res.Facts[f.Ref()]
		if !ok {
			return nil, fmt.Errorf("build %s: fact %s was not resolved", in.ScanID, f.Ref())
		}
		from := assigned.EntityID

		for _, ref := range f.References {
			kind, ok := RelationFor(f.Kind, ref.Context)
			if !ok {
				g.Dangling = append(g.Dangling, dangling(f, from, ref, graph.ReasonUnmappedContext))
				continue
			}
			to, match, ok := res.Index.Lookup(ref.Hint)
			if !ok {
				g.Dangling = append(g.Dangling, dangling(f, from, ref, graph.ReasonUnresolved))
				continue
			}
			if to == from && !selfLoopKinds[kind] {
				g.Absorbed++
				trail.Add(diag.ReferenceAbsorbed, f.Ref(), "%s reference %q resolves to its own entity", kind, ref.Hint)
				continue
			}

			confidence := matchConfidence[match]
			if ref.Confidence > 0 {
				confidence *= ref.Confidence
			}

			key := graph.RelationKey{From: from, To: to, Kind: kind}
			rel, exists := relations[key]
			if !exists {
				rel = &graph.Relation{From: from, To: to, Kind: kind}
				relations[key] = rel
			}
			if confidence > rel.Confidence {
				rel.Confidence = confidence
			}
			rel.Evidence = append(rel.Evidence, graph.Evidence{
				Fact:       f.Ref(),
				Hint:       ref.Hint,
				Context:    ref.Context,
				Match:      match,
				Confidence: confidence,
			})
		}
	}

	g.Relations = make([]graph.Relation, 0, len(relations))
	for _, rel := range relations {
		rel.Evidence = dedupeEvidence(rel.Evidence)
		rel.LowConfidence = rel.Confidence < b.opts.LowConfidence
		g.Relations = append(g.Relations, *rel)
	}
	g.Sort()

	for _, c := range g.Conflicts {
		trail.Add(diag.IdentityConflict, c.Key, "kinds %v resolved to separate entities", c.Kinds)
	}
	if n := len(g.Dangling); n > 0 {
		trail.Add(diag.DanglingReference, in.ScanID, "%d reference(s) could not be resolved", n)
	}

	b.logger.Debug("graph built",
		logging.ScanID(in.ScanID),
		logging.Int("entities", len(g.Entities)),
		logging.Int("relations", len(g.Relations)),
		logging.Int("dangling", len(g.Dangling)),
		logging.Int("absorbed", g.Absorbed))

	return g, nil
}

func dangling(f facts.Fact, from string, ref facts.Reference, reason string) graph.DanglingReference {
	return graph.DanglingReference{
		Fact:     f.Ref(),
		EntityID: from,
		Hint:     ref.Hint,
		Context:  ref.Context,
		Reason:   reason,
	}
}

func dedupeEvidence(ev []graph.Evidence) []graph.Evidence {
	sort.SliceStable(ev, func(i, j int) bool {
		if ev[i].Fact != ev[j].Fact {
			return ev[i].Fact < ev[j].Fact
		}
		if ev[i].Hint != ev[j].Hint {
			return ev[i].Hint < ev[j].Hint
		}
		return ev[i].Context < ev[j].Context
	})
	out := ev[:0]
	for _, e := range ev {
		if len(out) > 0 && e == out[len(out)-1] {
			continue
		}
		out = append(out, e)
	}
	return out
}
