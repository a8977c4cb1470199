package algorithms

import "sort"

// ArticulationPoints returns the cut vertices of an undirected graph (pass
// the result of Digraph.Undirected) in ascending order. Removing any returned
// node increases the number of connected components.
//
// Hopcroft-Tarjan: a non-root v is a cut vertex when some DFS child c has
// low[c] >= disc[v]; a root is one when it has two or more DFS children.
func ArticulationPoints(graph *Digraph) []int {
	n := graph.Len()
	disc := make([]int, n)
	low := make([]int, n)
	for i := range disc {
		disc[i] = -1
	}
	isCut := make([]bool, n)
	timer := 0

	var visit func(u, parent int)
	visit = func(u, parent int) {
		disc[u] = timer
		low[u] = timer
		timer++
		children := 0

		for _, v := range graph.Out[u] {
			if v == parent || v == u {
				continue
			}
			if disc[v] >= 0 {
				if disc[v] < low[u] {
					low[u] = disc[v]
				}
				continue
			}
			children++
			visit(v, u)
			if low[v] < low[u] {
				low[u] = low[v]
			}
			if parent >= 0 && low[v] >= disc[u] {
				isCut[u] = true
			}
		}

		if parent < 0 && children > 1 {
			isCut[u] = true
		}
	}

	for v := 0; v < n; v++ {
		if disc[v] < 0 {
			visit(v, -1)
		}
	}

	var cuts []int
	for v, cut := range isCut {
		if cut {
			cuts = append(cuts, v)
		}
	}
	return cuts
}

// ComponentsWithout labels the connected components of an undirected graph
// after removing node skip. The removed node is labelled -1. Labels follow
// the order of the smallest member.
func ComponentsWithout(graph *Digraph, skip int) []int {
	n := graph.Len()
	label := make([]int, n)
	for i := range label {
		label[i] = -2
	}
	if skip >= 0 && skip < n {
		label[skip] = -1
	}

	next := 0
	for s := 0; s < n; s++ {
		if label[s] != -2 {
			continue
		}
		label[s] = next
		queue := []int{s}
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for _, v := range graph.Out[u] {
				if label[v] == -2 {
					label[v] = next
					queue = append(queue, v)
				}
			}
		}
		next++
	}
	return label
}

// DistinctLabels counts the distinct component labels among nodes, ignoring
// the removed node.
func DistinctLabels(labels []int, nodes []int) []int {
	set := make(map[int]struct{})
	for _, v := range nodes {
		if labels[v] >= 0 {
			set[labels[v]] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
