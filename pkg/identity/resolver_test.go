package identity

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

func fact(seq int, src facts.SourceKind, raw string, kind facts.Kind, attrs map[string]any) facts.Fact {
	return facts.Fact{SourceKind: src, RawID: raw, Kind: kind, Attributes: attrs, Seq: seq}
}

func resolve(t *testing.T, fs []facts.Fact, workers int) *Resolution {
	t.Helper()
	res, err := NewResolver(Options{Workers: workers}, nil).Resolve(context.Background(), fs)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return res
}

func entityByKey(t *testing.T, res *Resolution, key string) graph.Entity {
	t.Helper()
	for _, e := range res.Entities {
		if e.ResolutionKey == key {
			return e
		}
	}
	t.Fatalf("no entity with resolution key %q in %+v", key, res.Entities)
	return graph.Entity{}
}

func TestResolve_ExactImageMerge(t *testing.T) {
	fs := []facts.Fact{
		fact(0, facts.SourceK8s, "deploy/api", facts.KindService,
			map[string]any{"name": "api-deployment", "image": "ghcr.io/acme/api:1.2", "replicas": 3}),
		fact(1, facts.SourceDocker, "api/Dockerfile", facts.KindContainer,
			map[string]any{"name": "api-image", "image": "ghcr.io/acme/api:latest", "replicas": 1}),
	}

	res := resolve(t, fs, 1)
	if len(res.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %d: %+v", len(res.Entities), res.Entities)
	}

	e := res.Entities[0]
	if e.ResolutionKey != "id:ghcr.io/acme/api" || e.Match != graph.MatchExact {
		t.Errorf("key = %s (%s)", e.ResolutionKey, e.Match)
	}
	if e.Kind != facts.KindService {
		t.Errorf("kind = %s, want service (most specific)", e.Kind)
	}
	if e.Attributes["replicas"] != 1 || e.Name != "api-image" {
		t.Errorf("later fact must win collisions, got %+v", e.Attributes)
	}
	if !reflect.DeepEqual(e.ContributingFacts, []string{"docker:api/Dockerfile", "k8s:deploy/api"}) {
		t.Errorf("contributing facts = %v", e.ContributingFacts)
	}
	if e.ID != EntityID(facts.FamilyWorkload, e.ResolutionKey) {
		t.Errorf("entity id must derive from family and key only")
	}
}

func TestResolve_NameAndPathMatchers(t *testing.T) {
	fs := []facts.Fact{
		fact(0, facts.SourceTerraform, "aws_db_instance.payments", facts.KindResource,
			map[string]any{"name": "payments-db", "type": "aws_db_instance"}),
		fact(1, facts.SourcePackage, "payments_db", facts.KindPackage,
			map[string]any{"name": "Payments_DB"}),
		fact(2, facts.SourceDocker, "worker/Dockerfile", facts.KindContainer,
			map[string]any{"name": "worker-image", "root": "/srv/worker"}),
		fact(3, facts.SourceCode, "worker.main", facts.KindModule,
			map[string]any{"name": "worker.main", "path": "/srv/worker/main.py"}),
		fact(4, facts.SourceCode, "lonely", facts.KindModule,
			map[string]any{"name": "lonely"}),
	}

	res := resolve(t, fs, 1)
	if len(res.Entities) != 3 {
		t.Fatalf("expected 3 entities, got %d: %+v", len(res.Entities), res.Entities)
	}

	db := entityByKey(t, res, "name:paymentsdb")
	if db.Kind != facts.KindResource {
		t.Errorf("db kind = %s, want resource", db.Kind)
	}

	worker := entityByKey(t, res, "path:/srv/worker")
	if worker.Kind != facts.KindContainer || worker.Match != graph.MatchPath {
		t.Errorf("worker = %+v", worker)
	}

	lonely := entityByKey(t, res, "code:lonely")
	if lonely.Match != graph.MatchSingleton {
		t.Errorf("lonely match = %s, want singleton", lonely.Match)
	}
}

func TestResolve_HigherPriorityMatcherWins(t *testing.T) {
	// a and b share an image, b and c share a name: b follows the exact
	// match, and c follows b because b is its only namesake.
	fs := []facts.Fact{
		fact(0, facts.SourceK8s, "a", facts.KindService, map[string]any{"name": "alpha", "image": "acme/x:1"}),
		fact(1, facts.SourceDocker, "b", facts.KindContainer, map[string]any{"name": "beta", "image": "acme/x:2"}),
		fact(2, facts.SourceCode, "c", facts.KindModule, map[string]any{"name": "beta"}),
	}

	res := resolve(t, fs, 1)
	if got := res.Facts["docker:b"].ResolutionKey; got != "id:acme/x" {
		t.Errorf("b resolution key = %s, want id:acme/x", got)
	}
	if got := res.Facts["code:c"].ResolutionKey; got != "id:acme/x" {
		t.Errorf("c resolution key = %s, want id:acme/x", got)
	}
	if len(res.Entities) != 1 {
		t.Errorf("expected 1 entity, got %d", len(res.Entities))
	}
}

func TestResolve_SplitNamesakesKeepNameKey(t *testing.T) {
	// c and d share the name with b, but only b merged by image, so the
	// namesakes do not agree and c and d stay on the name key.
	fs := []facts.Fact{
		fact(0, facts.SourceK8s, "a", facts.KindService, map[string]any{"name": "alpha", "image": "acme/x:1"}),
		fact(1, facts.SourceDocker, "b", facts.KindContainer, map[string]any{"name": "beta", "image": "acme/x:2"}),
		fact(2, facts.SourceCode, "c", facts.KindModule, map[string]any{"name": "beta"}),
		fact(3, facts.SourcePackage, "d", facts.KindPackage, map[string]any{"name": "beta"}),
	}

	res := resolve(t, fs, 1)
	for _, ref := range []string{"code:c", "package:d"} {
		if got := res.Facts[ref].ResolutionKey; got != "name:beta" {
			t.Errorf("%s resolution key = %s, want name:beta", ref, got)
		}
	}
	if len(res.Entities) != 2 {
		t.Errorf("expected 2 entities, got %d", len(res.Entities))
	}
}

func TestResolve_ServiceImagePackageBecomeOneEntity(t *testing.T) {
	fs := []facts.Fact{
		fact(0, facts.SourceK8s, "deploy/payments", facts.KindService,
			map[string]any{"name": "payments", "image": "acme/payments:1.2"}),
		fact(1, facts.SourceDocker, "Dockerfile", facts.KindContainer,
			map[string]any{"name": "payments", "image": "acme/payments"}),
		fact(2, facts.SourcePackage, "pyproject", facts.KindPackage,
			map[string]any{"name": "payments"}),
	}

	for _, workers := range []int{1, 3} {
		res := resolve(t, fs, workers)
		if len(res.Entities) != 1 {
			t.Fatalf("workers=%d: expected 1 entity, got %d: %+v", workers, len(res.Entities), res.Entities)
		}
		e := res.Entities[0]
		if e.Kind != facts.KindService || e.ResolutionKey != "id:acme/payments" {
			t.Errorf("workers=%d: entity = %s %s", workers, e.Kind, e.ResolutionKey)
		}
		want := []string{"docker:Dockerfile", "k8s:deploy/payments", "package:pyproject"}
		if !reflect.DeepEqual(e.ContributingFacts, want) {
			t.Errorf("workers=%d: contributing facts = %v", workers, e.ContributingFacts)
		}
		if id, _, ok := res.Index.Lookup("payments"); !ok || id != e.ID {
			t.Errorf("workers=%d: hint payments resolved to %q", workers, id)
		}
	}
}

func TestResolve_EntityOwnsNestedAttributes(t *testing.T) {
	env := map[string]any{"LOG_LEVEL": "info"}
	ports := []int{8080}
	fs := []facts.Fact{
		fact(0, facts.SourceK8s, "deploy/api", facts.KindService,
			map[string]any{"name": "api", "env": env, "ports": ports, "args": []any{"--serve", map[string]any{"mode": "fast"}}}),
	}

	res := resolve(t, fs, 1)
	env["LOG_LEVEL"] = "debug"
	ports[0] = 9090
	fs[0].Attributes["args"].([]any)[1].(map[string]any)["mode"] = "slow"

	e := res.Entities[0]
	if got := e.Attributes["env"].(map[string]any)["LOG_LEVEL"]; got != "info" {
		t.Errorf("env mutated through fact: LOG_LEVEL = %v", got)
	}
	if got := e.Attributes["ports"].([]int)[0]; got != 8080 {
		t.Errorf("ports mutated through fact: %v", got)
	}
	if got := e.Attributes["args"].([]any)[1].(map[string]any)["mode"]; got != "fast" {
		t.Errorf("args mutated through fact: mode = %v", got)
	}
}

func TestResolve_IncompatibleKindsConflict(t *testing.T) {
	fs := []facts.Fact{
		fact(0, facts.SourceTerraform, "aws_secretsmanager_secret.db", facts.KindResource,
			map[string]any{"name": "db-password", "type": "aws_secretsmanager_secret"}),
		fact(1, facts.SourceCode, "settings.DB_PASSWORD", facts.KindSecretCandidate,
			map[string]any{"name": "DB_PASSWORD"}),
	}

	res := resolve(t, fs, 1)
	if len(res.Entities) != 2 {
		t.Fatalf("incompatible kinds must not merge, got %d entities", len(res.Entities))
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Key != "name:dbpassword" {
		t.Errorf("conflict key = %s", c.Key)
	}
	if !reflect.DeepEqual(c.Kinds, []facts.Kind{facts.KindResource, facts.KindSecretCandidate}) {
		t.Errorf("conflict kinds = %v", c.Kinds)
	}
	if len(c.EntityIDs) != 2 || c.EntityIDs[0] == c.EntityIDs[1] {
		t.Errorf("conflict entity ids = %v", c.EntityIDs)
	}
}

func TestIndexLookup(t *testing.T) {
	fs := []facts.Fact{
		fact(0, facts.SourceK8s, "deploy/api", facts.KindService, map[string]any{"name": "api", "image": "acme/api:1"}),
		fact(1, facts.SourceDocker, "Dockerfile", facts.KindContainer, map[string]any{"name": "api", "image": "acme/api:2", "root": "/srv/api"}),
		fact(2, facts.SourceTerraform, "aws_db_instance.main", facts.KindResource, map[string]any{"name": "main", "type": "aws_db_instance"}),
		fact(3, facts.SourceCode, "settings.API", facts.KindSecretCandidate, map[string]any{"name": "api"}),
	}
	res := resolve(t, fs, 1)
	api := res.Facts["k8s:deploy/api"].EntityID

	tests := []struct {
		hint      string
		wantID    string
		wantMatch graph.Match
		wantOK    bool
	}{
		{"acme/api:9", api, graph.MatchExact, true},
		{"API", api, graph.MatchName, true},
		{"/srv/api/handlers.py", api, graph.MatchPath, true},
		{"aws_db_instance.main", res.Facts["terraform:aws_db_instance.main"].EntityID, graph.MatchExact, true},
		{"unknown-thing", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		id, match, ok := res.Index.Lookup(tt.hint)
		if id != tt.wantID || match != tt.wantMatch || ok != tt.wantOK {
			t.Errorf("Lookup(%q) = %s, %s, %v; want %s, %s, %v", tt.hint, id, match, ok, tt.wantID, tt.wantMatch, tt.wantOK)
		}
	}
}

// synthFacts decodes small integers into facts drawn from a tiny vocabulary
// so that every matcher fires regularly.
func synthFacts(codes []int) []facts.Fact {
	names := []string{"api", "API", "web", "db-main", "worker"}
	kinds := []facts.Kind{facts.KindService, facts.KindContainer, facts.KindModule, facts.KindResource, facts.KindPackage, facts.KindSecretCandidate}
	images := []string{"", "acme/api:1", "acme/web:2"}
	roots := []string{"", "/srv/api", "/srv/api/sub"}

	out := make([]facts.Fact, len(codes))
	for i, c := range codes {
		attrs := map[string]any{"name": names[c%5], "rev": i}
		if img := images[(c/30)%3]; img != "" {
			attrs["image"] = img
		}
		if root := roots[(c/90)%3]; root != "" {
			attrs["root"] = root
		}
		src := facts.SourceKinds[i%len(facts.SourceKinds)]
		out[i] = fact(i, src, fmt.Sprintf("raw-%d", i), kinds[(c/5)%6], attrs)
	}
	return out
}

func TestResolutionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	resolveOrFail := func(fs []facts.Fact, workers int) *Resolution {
		res, err := NewResolver(Options{Workers: workers}, nil).Resolve(context.Background(), fs)
		if err != nil {
			panic(err)
		}
		return res
	}

	properties.Property("entity set is independent of arrival order", prop.ForAll(
		func(codes []int, seed int64) bool {
			fs := synthFacts(codes)
			shuffled := append([]facts.Fact(nil), fs...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			a := resolveOrFail(fs, 1)
			b := resolveOrFail(shuffled, 1)
			return reflect.DeepEqual(a.Entities, b.Entities) && reflect.DeepEqual(a.Conflicts, b.Conflicts)
		},
		gen.SliceOfN(12, gen.IntRange(0, 269)),
		gen.Int64(),
	))

	properties.Property("entity id depends only on family and resolution key", prop.ForAll(
		func(codes []int) bool {
			res := resolveOrFail(synthFacts(codes), 1)
			for _, e := range res.Entities {
				if e.ID != EntityID(e.Kind.Family(), e.ResolutionKey) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 269)),
	))

	properties.Property("partitioned merge equals sequential merge", prop.ForAll(
		func(codes []int, workers int) bool {
			fs := synthFacts(codes)
			return reflect.DeepEqual(resolveOrFail(fs, 1).Entities, resolveOrFail(fs, workers).Entities)
		},
		gen.SliceOf(gen.IntRange(0, 269)),
		gen.IntRange(2, 8),
	))

	properties.TestingRun(t)
}
