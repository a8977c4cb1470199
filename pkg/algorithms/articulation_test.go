package algorithms

import (
	"fmt"
	"math"
	"reflect"
	"testing"
)

func starGraph(t *testing.T, hubs int) *Digraph {
	t.Helper()
	ids := []string{"l1", "l2", "l3", "l4", "l5"}
	var edges [][2]string
	for h := 0; h < hubs; h++ {
		ids = append(ids, fmt.Sprintf("h%d", h))
	}
	for _, leaf := range ids[:5] {
		for _, hub := range ids[5:] {
			edges = append(edges, [2]string{leaf, hub})
		}
	}
	return buildDigraph(t, ids, edges)
}

func TestArticulationPoints_Star(t *testing.T) {
	g := starGraph(t, 1).Undirected()

	if got := ArticulationPoints(g); !reflect.DeepEqual(got, []int{5}) {
		t.Errorf("ArticulationPoints = %v, want [5]", got)
	}
}

func TestArticulationPoints_TwoHubs(t *testing.T) {
	g := starGraph(t, 2).Undirected()

	if got := ArticulationPoints(g); len(got) != 0 {
		t.Errorf("ArticulationPoints = %v, want none", got)
	}
}

func TestArticulationPoints_Chain(t *testing.T) {
	g := buildDigraph(t,
		[]string{"a", "b", "c", "d"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}},
	).Undirected()

	if got := ArticulationPoints(g); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("ArticulationPoints = %v, want [1 2]", got)
	}
}

func TestComponentsWithout(t *testing.T) {
	g := starGraph(t, 1).Undirected()

	labels := ComponentsWithout(g, 5)
	if labels[5] != -1 {
		t.Errorf("removed node label = %d, want -1", labels[5])
	}
	if groups := DistinctLabels(labels, g.In[5]); len(groups) != 5 {
		t.Errorf("dependent groups = %v, want 5", groups)
	}
}

func TestBetweennessCentrality_Star(t *testing.T) {
	g := starGraph(t, 1).Undirected()

	bc := BetweennessCentrality(g)
	if math.Abs(bc[5]-1.0) > 1e-9 {
		t.Errorf("hub centrality = %f, want 1.0", bc[5])
	}
	for leaf := 0; leaf < 5; leaf++ {
		if bc[leaf] != 0 {
			t.Errorf("leaf %d centrality = %f, want 0", leaf, bc[leaf])
		}
	}
}

func TestBetweennessCentrality_Path(t *testing.T) {
	// a - b - c: b lies on both ordered shortest paths between a and c
	g := buildDigraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}}).Undirected()

	bc := BetweennessCentrality(g)
	if math.Abs(bc[1]-1.0) > 1e-9 {
		t.Errorf("middle centrality = %f, want 1.0", bc[1])
	}
}
