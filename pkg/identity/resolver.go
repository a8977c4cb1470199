package identity

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-archmap/pkg/canonical"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
	"github.com/dd0wney/cluso-archmap/pkg/parallel"
)

// EntityID derives the stable id of the entity holding key within family.
func EntityID(family facts.Family, key string) string {
	return canonical.MustShortDigest(map[string]string{"family": string(family), "key": key})
}

// Assignment records where one fact landed.
type Assignment struct {
	EntityID      string
	ResolutionKey string
	Match         graph.Match
	Candidates    []Candidate
}

// Resolution is the output of a resolver pass.
type Resolution struct {
	Entities  []graph.Entity
	Conflicts []graph.IdentityConflict
	// Facts maps a fact ref to its assignment.
	Facts   map[string]Assignment
	Index   *Index
	Anchors Anchors
}

// Options tunes the resolver.
type Options struct {
	// Workers > 1 merges resolution-key partitions on a worker pool.
	Workers int
}

// Resolver computes resolution keys and merges facts into entities.
type Resolver struct {
	opts   Options
	logger logging.Logger
}

// NewResolver creates a resolver.
func NewResolver(opts Options, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{opts: opts, logger: logger.With(logging.Component("resolver"))}
}

type group struct {
	key   string
	match graph.Match
	facts []facts.Fact
}

// Resolve assigns every fact a resolution key and merges facts that share
// one. Facts must carry their collector sequence numbers.
func (r *Resolver) Resolve(ctx context.Context, fs []facts.Fact) (*Resolution, error) {
	anchors := CollectAnchors(fs)

	candidates := make([][]Candidate, len(fs))
	holders := make(map[string]map[string]struct{})
	for i, f := range fs {
		candidates[i] = Candidates(f, anchors)
		for _, c := range candidates[i] {
			if holders[c.Key] == nil {
				holders[c.Key] = make(map[string]struct{})
			}
			holders[c.Key][f.Ref()] = struct{}{}
		}
	}

	keyOf := make([]Candidate, len(fs))
	for i, f := range fs {
		keyOf[i] = Candidate{Match: graph.MatchSingleton, Key: f.Ref()}
		for _, c := range candidates[i] {
			if len(holders[c.Key]) > 1 {
				keyOf[i] = c
				break
			}
		}
	}
	keyOf = adoptKeys(fs, keyOf, holders)

	groups := make(map[string]*group)
	for i, f := range fs {
		chosen := keyOf[i]
		g, ok := groups[chosen.Key]
		if !ok {
			g = &group{key: chosen.Key, match: chosen.Match}
			groups[chosen.Key] = g
		}
		g.facts = append(g.facts, f)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged, err := r.mergeAll(ctx, keys, groups)
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		Facts:   make(map[string]Assignment, len(fs)),
		Anchors: anchors,
	}
	for _, m := range merged {
		res.Entities = append(res.Entities, m.entities...)
		if m.conflict != nil {
			res.Conflicts = append(res.Conflicts, *m.conflict)
		}
	}
	sort.Slice(res.Entities, func(i, j int) bool { return res.Entities[i].ID < res.Entities[j].ID })
	sort.Slice(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].Key < res.Conflicts[j].Key })

	for i, f := range fs {
		res.Facts[f.Ref()] = Assignment{
			EntityID:      EntityID(f.Kind.Family(), keyOf[i].Key),
			ResolutionKey: keyOf[i].Key,
			Match:         keyOf[i].Match,
			Candidates:    candidates[i],
		}
	}
	res.Index = buildIndex(res)

	r.logger.Debug("identity resolved",
		logging.Int("facts", len(fs)),
		logging.Int("entities", len(res.Entities)),
		logging.Int("conflicts", len(res.Conflicts)))

	return res, nil
}

// adoptKeys moves a fact onto a higher-priority key when every other holder
// of its chosen key resolved to that one key. A package named "payments"
// then joins the service that its namesakes merged on by image. Passes read
// the previous assignment only, and each move strictly raises priority, so
// the loop is order-independent and terminates.
func adoptKeys(fs []facts.Fact, keyOf []Candidate, holders map[string]map[string]struct{}) []Candidate {
	index := make(map[string]int, len(fs))
	for i, f := range fs {
		index[f.Ref()] = i
	}

	for {
		next := make([]Candidate, len(keyOf))
		copy(next, keyOf)
		changed := false
		for i, f := range fs {
			own := keyOf[i]
			if own.Match == graph.MatchSingleton {
				continue
			}
			var target *Candidate
			unanimous := true
			for ref := range holders[own.Key] {
				if ref == f.Ref() {
					continue
				}
				other := keyOf[index[ref]]
				if target == nil {
					target = &other
				} else if other.Key != target.Key {
					unanimous = false
					break
				}
			}
			if !unanimous || target == nil || target.Key == own.Key {
				continue
			}
			if MatchPriority(target.Match) < MatchPriority(own.Match) {
				next[i] = *target
				changed = true
			}
		}
		keyOf = next
		if !changed {
			return keyOf
		}
	}
}

type mergeResult struct {
	entities []graph.Entity
	conflict *graph.IdentityConflict
}

// mergeAll merges groups in key order, either inline or partitioned by key
// hash so each partition is owned by exactly one worker.
func (r *Resolver) mergeAll(ctx context.Context, keys []string, groups map[string]*group) ([]mergeResult, error) {
	results := make([]mergeResult, len(keys))
	if r.opts.Workers <= 1 {
		for i, k := range keys {
			results[i] = mergeGroup(groups[k])
		}
		return results, nil
	}

	var (
		mu       sync.Mutex
		panicked any
	)
	pool, err := parallel.NewWorkerPool(r.opts.Workers, parallel.WithPanicHandler(func(v any) {
		mu.Lock()
		panicked = v
		mu.Unlock()
	}))
	if err != nil {
		return nil, fmt.Errorf("resolver pool: %w", err)
	}
	for _, part := range parallel.Partitions(keys, r.opts.Workers) {
		err := pool.SubmitContext(ctx, func() {
			for _, i := range part {
				results[i] = mergeGroup(groups[keys[i]])
			}
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
	}
	pool.Wait()

	if panicked != nil {
		return nil, fmt.Errorf("resolver partition panic: %v", panicked)
	}
	return results, nil
}

// mergeGroup turns the facts sharing one resolution key into one entity per
// kind family.
func mergeGroup(g *group) mergeResult {
	byFamily := make(map[facts.Family][]facts.Fact)
	for _, f := range g.facts {
		fam := f.Kind.Family()
		byFamily[fam] = append(byFamily[fam], f)
	}

	families := make([]facts.Family, 0, len(byFamily))
	for fam := range byFamily {
		families = append(families, fam)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })

	var out mergeResult
	for _, fam := range families {
		out.entities = append(out.entities, mergeFacts(fam, g.key, g.match, byFamily[fam]))
	}

	if len(families) > 1 {
		c := &graph.IdentityConflict{Key: g.key}
		kinds := make(map[facts.Kind]struct{})
		for _, e := range out.entities {
			c.EntityIDs = append(c.EntityIDs, e.ID)
			c.Facts = append(c.Facts, e.ContributingFacts...)
		}
		for _, f := range g.facts {
			kinds[f.Kind] = struct{}{}
		}
		for k := range kinds {
			c.Kinds = append(c.Kinds, k)
		}
		sort.Strings(c.EntityIDs)
		sort.Strings(c.Facts)
		sort.Slice(c.Kinds, func(i, j int) bool { return c.Kinds[i] < c.Kinds[j] })
		out.conflict = c
	}
	return out
}

func mergeFacts(fam facts.Family, key string, match graph.Match, fs []facts.Fact) graph.Entity {
	ordered := make([]facts.Fact, len(fs))
	copy(ordered, fs)
	facts.SortBySeq(ordered)

	e := graph.Entity{
		ID:            EntityID(fam, key),
		ResolutionKey: key,
		Match:         match,
		Attributes:    make(map[string]any),
	}
	for _, f := range ordered {
		if e.Kind == "" || f.Kind.Specificity() > e.Kind.Specificity() {
			e.Kind = f.Kind
		}
		for k, v := range f.Attributes {
			e.Attributes[k] = cloneValue(v)
		}
		e.ContributingFacts = append(e.ContributingFacts, f.Ref())
	}
	sort.Strings(e.ContributingFacts)
	if name, ok := e.Attributes[facts.AttrName].(string); ok {
		e.Name = name
	}
	return e
}

// cloneValue copies nested maps and slices so an entity never shares
// containers with the facts it was merged from. Scalars, pointers and other
// values are returned as is.
func cloneValue(v any) any {
	if v == nil {
		return nil
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneReflect(v.Elem()))
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	default:
		return v
	}
}
