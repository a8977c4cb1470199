package algorithms

import (
	"reflect"
	"testing"
)

func TestFindCycle_Triangle(t *testing.T) {
	g := buildDigraph(t,
		[]string{"a", "b", "c"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}},
	)

	cycle := FindCycle(g, []int{2, 0, 1})
	if !reflect.DeepEqual(cycle, Cycle{0, 1, 2}) {
		t.Errorf("FindCycle = %v, want [0 1 2]", cycle)
	}
}

func TestFindCycle_StaysInsideMembers(t *testing.T) {
	// a <-> b is the SCC; the detour through c is outside the member set
	g := buildDigraph(t,
		[]string{"a", "b", "c"},
		[][2]string{{"a", "c"}, {"c", "b"}, {"a", "b"}, {"b", "a"}},
	)

	cycle := FindCycle(g, []int{0, 1})
	if !reflect.DeepEqual(cycle, Cycle{0, 1}) {
		t.Errorf("FindCycle = %v, want [0 1]", cycle)
	}
}

func TestFindCycle_SelfLoop(t *testing.T) {
	g := buildDigraph(t, []string{"a"}, [][2]string{{"a", "a"}})

	if cycle := FindCycle(g, []int{0}); !reflect.DeepEqual(cycle, Cycle{0}) {
		t.Errorf("FindCycle = %v, want [0]", cycle)
	}
}

func TestFindCycle_NoCycle(t *testing.T) {
	g := buildDigraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}})

	if cycle := FindCycle(g, []int{0}); cycle != nil {
		t.Errorf("FindCycle = %v, want nil", cycle)
	}
	if cycle := FindCycle(g, nil); cycle != nil {
		t.Errorf("FindCycle(nil) = %v, want nil", cycle)
	}
}
