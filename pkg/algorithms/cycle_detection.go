package algorithms

// Cycle represents a detected cycle as a sequence of node indexes. The last
// node has an edge back to the first.
type Cycle []int

const (
	white = 0 // Unvisited
	gray  = 1 // Currently visiting (in recursion stack)
	black = 2 // Finished visiting
)

// FindCycle returns one representative cycle inside the given node set,
// typically an SCC. The DFS starts from the smallest member and follows
// neighbours in ascending order, so the result is deterministic.
//
// Algorithm: depth-first search with three colours. The first edge that
// reaches a GRAY node is a back edge and closes a cycle, which is then
// rebuilt from parent pointers.
func FindCycle(graph *Digraph, members []int) Cycle {
	if len(members) == 0 {
		return nil
	}

	inSet := make(map[int]bool, len(members))
	start := members[0]
	for _, v := range members {
		inSet[v] = true
		if v < start {
			start = v
		}
	}

	if len(members) == 1 {
		if graph.HasSelfLoop(start) {
			return Cycle{start}
		}
		return nil
	}

	color := make(map[int]int, len(members))
	parent := make(map[int]int, len(members))

	var found Cycle
	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		for _, v := range graph.Out[u] {
			if !inSet[v] || v == u {
				continue
			}
			switch color[v] {
			case white:
				parent[v] = u
				if visit(v) {
					return true
				}
			case gray:
				found = extractCycle(v, u, parent)
				return true
			}
		}
		color[u] = black
		return false
	}

	visit(start)
	return found
}

// extractCycle reconstructs the cycle closed by the back edge end -> start,
// returned in edge order: start, ..., end.
func extractCycle(start, end int, parent map[int]int) Cycle {
	reversed := Cycle{end}
	current := end
	for current != start {
		p, exists := parent[current]
		if !exists {
			break
		}
		current = p
		reversed = append(reversed, current)
	}

	cycle := make(Cycle, len(reversed))
	for i, v := range reversed {
		cycle[len(reversed)-1-i] = v
	}
	return cycle
}
