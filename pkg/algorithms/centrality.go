package algorithms

// brandesCentrality runs a single O(VE) Brandes pass and returns raw,
// unnormalised node betweenness. For an undirected view every unordered pair
// is counted from both ends, which the ordered-pair normalisation in
// BetweennessCentrality accounts for.
func brandesCentrality(graph *Digraph) []float64 {
	n := graph.Len()
	betweenness := make([]float64, n)

	stack := make([]int, 0, n)
	predecessors := make([][]int, n)
	sigma := make([]float64, n)
	distance := make([]int, n)
	delta := make([]float64, n)

	for source := 0; source < n; source++ {
		stack = stack[:0]
		for v := 0; v < n; v++ {
			predecessors[v] = predecessors[v][:0]
			sigma[v] = 0
			distance[v] = -1
			delta[v] = 0
		}

		sigma[source] = 1.0
		distance[source] = 0

		queue := []int{source}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)

			for _, w := range graph.Out[v] {
				if distance[w] < 0 {
					queue = append(queue, w)
					distance[w] = distance[v] + 1
				}
				if distance[w] == distance[v]+1 {
					sigma[w] += sigma[v]
					predecessors[w] = append(predecessors[w], v)
				}
			}
		}

		// Back-propagation of pair dependencies
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range predecessors[w] {
				delta[v] += (sigma[v] / sigma[w]) * (1.0 + delta[w])
			}
			if w != source {
				betweenness[w] += delta[w]
			}
		}
	}

	return betweenness
}

// BetweennessCentrality computes betweenness centrality for all nodes: the
// fraction of shortest paths between other node pairs that pass through the
// node, in [0,1].
func BetweennessCentrality(graph *Digraph) []float64 {
	betweenness := brandesCentrality(graph)

	n := graph.Len()
	if n > 2 {
		normFactor := 1.0 / float64((n-1)*(n-2))
		for v := range betweenness {
			betweenness[v] *= normFactor
		}
	}

	return betweenness
}
