package algorithms

import "sort"

// Component is one strongly connected component. Nodes are sorted ascending.
type Component struct {
	ID    int
	Nodes []int
	Size  int
}

// SCCResult holds the result of Tarjan's strongly connected components algorithm.
// Components are ordered by their smallest member so results are stable
// regardless of which node the DFS started from.
type SCCResult struct {
	Components     []*Component
	NodeComponent  []int
	LargestSCC     *Component
	SingletonCount int
}

// tarjanState holds per-node state during Tarjan's DFS.
type tarjanState struct {
	index   int
	lowlink int
	onStack bool
	visited bool
}

// StronglyConnectedComponents finds all SCCs using Tarjan's algorithm in O(V+E) time.
// Only outgoing edges are followed (directed graph semantics).
func StronglyConnectedComponents(graph *Digraph) *SCCResult {
	n := graph.Len()
	state := make([]tarjanState, n)
	var stack []int
	indexCounter := 0
	var groups [][]int

	var strongconnect func(u int)
	strongconnect = func(u int) {
		state[u] = tarjanState{
			index:   indexCounter,
			lowlink: indexCounter,
			onStack: true,
			visited: true,
		}
		indexCounter++
		stack = append(stack, u)

		for _, v := range graph.Out[u] {
			if !state[v].visited {
				strongconnect(v)
				if state[v].lowlink < state[u].lowlink {
					state[u].lowlink = state[v].lowlink
				}
			} else if state[v].onStack {
				if state[v].index < state[u].lowlink {
					state[u].lowlink = state[v].index
				}
			}
		}

		// If u is a root node, pop the stack to form an SCC
		if state[u].lowlink == state[u].index {
			var members []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				state[w].onStack = false
				members = append(members, w)
				if w == u {
					break
				}
			}
			sort.Ints(members)
			groups = append(groups, members)
		}
	}

	for v := 0; v < n; v++ {
		if !state[v].visited {
			strongconnect(v)
		}
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })

	result := &SCCResult{
		Components:    make([]*Component, len(groups)),
		NodeComponent: make([]int, n),
	}
	for id, members := range groups {
		c := &Component{ID: id, Nodes: members, Size: len(members)}
		result.Components[id] = c
		for _, v := range members {
			result.NodeComponent[v] = id
		}
		if c.Size == 1 {
			result.SingletonCount++
		}
		if result.LargestSCC == nil || c.Size > result.LargestSCC.Size {
			result.LargestSCC = c
		}
	}

	return result
}
