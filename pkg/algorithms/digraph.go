package algorithms

import "sort"

// Digraph is an index-addressed directed graph. Node i is identified by IDs[i];
// adjacency lists hold indexes and are kept sorted and duplicate-free so every
// traversal visits neighbours in the same order.
type Digraph struct {
	IDs []string
	Out [][]int
	In  [][]int

	index map[string]int
	seen  map[[2]int]struct{}
}

// NewDigraph creates a graph over the given node IDs. The caller controls the
// order; algorithms treat a lower index as "smaller".
func NewDigraph(ids []string) *Digraph {
	g := &Digraph{
		IDs:   ids,
		Out:   make([][]int, len(ids)),
		In:    make([][]int, len(ids)),
		index: make(map[string]int, len(ids)),
		seen:  make(map[[2]int]struct{}),
	}
	for i, id := range ids {
		g.index[id] = i
	}
	return g
}

// Len returns the number of nodes.
func (g *Digraph) Len() int { return len(g.IDs) }

// Index returns the index of a node ID.
func (g *Digraph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// AddEdge adds the directed edge from -> to. Parallel edges collapse.
func (g *Digraph) AddEdge(from, to int) {
	key := [2]int{from, to}
	if _, dup := g.seen[key]; dup {
		return
	}
	g.seen[key] = struct{}{}
	g.Out[from] = insertSorted(g.Out[from], to)
	g.In[to] = insertSorted(g.In[to], from)
}

// AddEdgeByID adds an edge between two known node IDs. Unknown IDs are ignored.
func (g *Digraph) AddEdgeByID(from, to string) bool {
	f, ok := g.index[from]
	if !ok {
		return false
	}
	t, ok := g.index[to]
	if !ok {
		return false
	}
	g.AddEdge(f, t)
	return true
}

// HasSelfLoop reports whether v has an edge to itself.
func (g *Digraph) HasSelfLoop(v int) bool {
	_, ok := g.seen[[2]int{v, v}]
	return ok
}

// InDegree returns the number of distinct predecessors of v, self-loops excluded.
func (g *Digraph) InDegree(v int) int {
	n := len(g.In[v])
	if g.HasSelfLoop(v) {
		n--
	}
	return n
}

// Undirected returns the symmetric view of g without self-loops.
func (g *Digraph) Undirected() *Digraph {
	u := NewDigraph(g.IDs)
	for from, tos := range g.Out {
		for _, to := range tos {
			if from == to {
				continue
			}
			u.AddEdge(from, to)
			u.AddEdge(to, from)
		}
	}
	return u
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
