package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type funcRule struct {
	kind string
	fn   func(*graph.Graph) ([]finding.Finding, error)
}

func (r funcRule) Kind() string                    { return r.kind }
func (r funcRule) Accepts(graph.RelationKind) bool { return true }
func (r funcRule) Analyze(_ context.Context, g *graph.Graph) ([]finding.Finding, error) {
	return r.fn(g)
}

type recorder struct {
	mu    sync.Mutex
	calls map[string]error
}

func (r *recorder) ObserveRule(kind string, _ time.Duration, _ int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]error)
	}
	r.calls[kind] = err
}

func TestEngineIsolatesFailingRules(t *testing.T) {
	g := newGraph([]graph.Entity{entity("lonely", facts.KindService)})
	rules := []Rule{
		funcRule{kind: "boom", fn: func(*graph.Graph) ([]finding.Finding, error) {
			panic("index out of range")
		}},
		funcRule{kind: "broken", fn: func(*graph.Graph) ([]finding.Finding, error) {
			return nil, errors.New("no data")
		}},
		NewOrphanRule(),
	}
	rec := &recorder{}
	trail := diag.NewTrail()

	fs, err := NewEngine(nil, rules, WithObserver(rec)).Run(context.Background(), g, trail)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, KindOrphan, fs[0].RuleKind)

	assert.Equal(t, 2, trail.Count(diag.RuleExecutionFailure))
	for _, d := range trail.Items() {
		assert.NotContains(t, d.Message, "goroutine", "stack traces stay out of diagnostics")
	}

	require.Len(t, rec.calls, 3)
	var pe *PanicError
	assert.ErrorAs(t, rec.calls["boom"], &pe)
	assert.NoError(t, rec.calls[KindOrphan])
}

func TestEngineDeterministicOrder(t *testing.T) {
	var ents []graph.Entity
	for _, id := range []string{"a", "b", "c", "x", "y"} {
		ents = append(ents, entity(id, facts.KindService))
	}
	g := newGraph(ents,
		rel("a", "b", graph.Calls),
		rel("b", "a", graph.Calls),
		rel("b", "c", graph.DependsOn),
	)

	rs, err := Build(DefaultConfig())
	require.NoError(t, err)
	engine := NewEngine(nil, rs, WithConcurrency(2))

	first, err := engine.Run(context.Background(), g, nil)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NotEmpty(t, first)
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		assert.True(t, prev.RuleKind < cur.RuleKind || (prev.RuleKind == cur.RuleKind && prev.ID < cur.ID),
			"findings out of order at %d", i)
	}
}

func TestEngineCollapsesDuplicateIDs(t *testing.T) {
	dup := finding.New("dup", finding.SeverityLow, "", []string{"a"}, nil, "same")
	rules := []Rule{
		funcRule{kind: "dup", fn: func(*graph.Graph) ([]finding.Finding, error) {
			return []finding.Finding{dup, dup}, nil
		}},
	}
	fs, err := NewEngine(nil, rules).Run(context.Background(), newGraph(nil), nil)
	require.NoError(t, err)
	assert.Len(t, fs, 1)
}

func TestEngineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(nil, []Rule{NewOrphanRule()}).Run(ctx, newGraph(nil), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineNilGraph(t *testing.T) {
	_, err := NewEngine(nil, nil).Run(context.Background(), nil, nil)
	assert.Error(t, err)
}
