package graph

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
)

// #region dag
// DAG is an immutable directed graph over arena vertex indexes. Every method that
// changes shape returns a new value; the arena is shared.
type DAG struct {
	arena *Arena
	g     *simple.DirectedGraph
}

func newDAG(a *Arena) *DAG {
	return &DAG{arena: a, g: simple.NewDirectedGraph()}
}

// Build interns vertices and progression edges into a new arena and checks acyclicity.
// Hierarchy edges are ignored. Vertices listed without edges are kept as isolated.
func Build(vertices []string, edges []Edge) (*DAG, error) {
	a := NewArena()
	d := newDAG(a)
	for _, id := range vertices {
		d.addVertex(a.Intern(id))
	}
	for _, e := range edges {
		if e.Type != "" && e.Type != Progression {
			continue
		}
		if e.From == e.To {
			return nil, fmt.Errorf("%w: self loop on %s", ErrCycle, e.From)
		}
		d.addEdge(a.Intern(e.From), a.Intern(e.To))
	}
	if _, err := d.TopoOrder(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DAG) addVertex(v int) {
	if d.g.Node(int64(v)) == nil {
		d.g.AddNode(simple.Node(v))
	}
}

func (d *DAG) addEdge(u, v int) {
	d.g.SetEdge(simple.Edge{F: simple.Node(u), T: simple.Node(v)})
}

// Arena returns the shared vertex arena.
func (d *DAG) Arena() *Arena {
	return d.arena
}

// ID returns the standard id of vertex v.
func (d *DAG) ID(v int) string {
	return d.arena.ID(v)
}

// #endregion dag

// #region accessors
// Has reports whether v is a vertex of this graph.
func (d *DAG) Has(v int) bool {
	return d.g.Node(int64(v)) != nil
}

// Order is the number of vertices.
func (d *DAG) Order() int {
	return d.g.Nodes().Len()
}

// Size is the number of edges.
func (d *DAG) Size() int {
	n := 0
	for it := d.g.Edges(); it.Next(); {
		n++
	}
	return n
}

// Vertices returns the vertex indexes in ascending order.
func (d *DAG) Vertices() []int {
	return sortedIDs(d.g.Nodes())
}

// Parents returns the predecessors of v in ascending order.
func (d *DAG) Parents(v int) []int {
	return sortedIDs(d.g.To(int64(v)))
}

// Children returns the successors of v in ascending order.
func (d *DAG) Children(v int) []int {
	return sortedIDs(d.g.From(int64(v)))
}

// Neighbors returns predecessors and successors of v in ascending order.
func (d *DAG) Neighbors(v int) []int {
	out := append(d.Parents(v), d.Children(v)...)
	sort.Ints(out)
	return out
}

// InDegree is the number of predecessors of v.
func (d *DAG) InDegree(v int) int {
	return d.g.To(int64(v)).Len()
}

// OutDegree is the number of successors of v.
func (d *DAG) OutDegree(v int) int {
	return d.g.From(int64(v)).Len()
}

// Degree is the undirected valence of v.
func (d *DAG) Degree(v int) int {
	return d.InDegree(v) + d.OutDegree(v)
}

// IsRoot reports whether v has no predecessors.
func (d *DAG) IsRoot(v int) bool {
	return d.Has(v) && d.InDegree(v) == 0
}

// Roots returns every vertex without predecessors.
func (d *DAG) Roots() []int {
	var out []int
	for _, v := range d.Vertices() {
		if d.InDegree(v) == 0 {
			out = append(out, v)
		}
	}
	return out
}

// Edges returns all edges as (from, to) pairs sorted lexicographically.
func (d *DAG) Edges() [][2]int {
	var out [][2]int
	for it := d.g.Edges(); it.Next(); {
		e := it.Edge()
		out = append(out, [2]int{int(e.From().ID()), int(e.To().ID())})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// #endregion accessors

// #region subgraphs
// Induced returns the subgraph induced by vs. Vertices absent from d are ignored.
func (d *DAG) Induced(vs []int) *DAG {
	keep := make(map[int]bool, len(vs))
	out := newDAG(d.arena)
	for _, v := range vs {
		if d.Has(v) {
			keep[v] = true
			out.addVertex(v)
		}
	}
	for v := range keep {
		for _, c := range d.Children(v) {
			if keep[c] {
				out.addEdge(v, c)
			}
		}
	}
	return out
}

// Without returns the subgraph induced by every vertex not in vs.
func (d *DAG) Without(vs []int) *DAG {
	drop := make(map[int]bool, len(vs))
	for _, v := range vs {
		drop[v] = true
	}
	var keep []int
	for _, v := range d.Vertices() {
		if !drop[v] {
			keep = append(keep, v)
		}
	}
	return d.Induced(keep)
}

// Union merges the vertices and edges of d and o. Both must share an arena.
func (d *DAG) Union(o *DAG) *DAG {
	out := newDAG(d.arena)
	for _, src := range []*DAG{d, o} {
		for _, v := range src.Vertices() {
			out.addVertex(v)
		}
		for _, e := range src.Edges() {
			out.addEdge(e[0], e[1])
		}
	}
	return out
}

// #endregion subgraphs

// #region traversal
// Within returns every vertex at undirected distance <= r from v, v included.
func (d *DAG) Within(v, r int) []int {
	if !d.Has(v) {
		return nil
	}
	var out []int
	var bf traverse.BreadthFirst
	bf.Walk(graph.Undirect{G: d.g}, simple.Node(v), func(n graph.Node, depth int) bool {
		if depth > r {
			return true
		}
		out = append(out, int(n.ID()))
		return false
	})
	sort.Ints(out)
	return out
}

// Ego returns the radius-r ego graph of v.
func (d *DAG) Ego(v, r int) *DAG {
	return d.Induced(d.Within(v, r))
}

// Neighborhood returns the subgraph induced by every vertex within undirected
// distance r of at least one seed. Seeds not in d are ignored.
func (d *DAG) Neighborhood(seeds []int, r int) *DAG {
	set := make(map[int]bool)
	for _, s := range seeds {
		for _, v := range d.Within(s, r) {
			set[v] = true
		}
	}
	vs := make([]int, 0, len(set))
	for v := range set {
		vs = append(vs, v)
	}
	return d.Induced(vs)
}

// PathTo returns the shortest undirected path from v to the nearest vertex
// satisfying target, both ends included, or nil when none is reachable.
func (d *DAG) PathTo(v int, target func(int) bool) []int {
	if !d.Has(v) {
		return nil
	}
	parent := make(map[int]int)
	cur := -1
	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) { parent[int(n.ID())] = cur },
	}
	found := bf.Walk(graph.Undirect{G: d.g}, simple.Node(v), func(n graph.Node, _ int) bool {
		cur = int(n.ID())
		return target(cur)
	})
	if found == nil {
		return nil
	}
	var path []int
	for at := int(found.ID()); at >= 0; at = parent[at] {
		path = append(path, at)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Components returns the weakly connected components, each sorted, ordered by
// their smallest vertex.
func (d *DAG) Components() [][]int {
	ccs := topo.ConnectedComponents(graph.Undirect{G: d.g})
	out := make([][]int, 0, len(ccs))
	for _, cc := range ccs {
		ids := make([]int, len(cc))
		for i, n := range cc {
			ids[i] = int(n.ID())
		}
		sort.Ints(ids)
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Diameter is the longest shortest undirected path inside any component.
func (d *DAG) Diameter() int {
	und := graph.Undirect{G: d.g}
	diameter := 0
	for _, v := range d.Vertices() {
		var bf traverse.BreadthFirst
		bf.Walk(und, simple.Node(v), func(_ graph.Node, depth int) bool {
			if depth > diameter {
				diameter = depth
			}
			return false
		})
	}
	return diameter
}

// #endregion traversal

// #region ordering
// TopoOrder returns the vertices root-to-leaf, ties broken by ascending index.
func (d *DAG) TopoOrder() ([]int, error) {
	sorted, err := topo.SortStabilized(d.g, func(ns []graph.Node) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].ID() < ns[j].ID() })
	})
	if err != nil {
		var u topo.Unorderable
		if errors.As(err, &u) {
			var cyclic [][]string
			for _, comp := range u {
				ids := make([]string, len(comp))
				for i, n := range comp {
					ids[i] = d.arena.ID(int(n.ID()))
				}
				sort.Strings(ids)
				cyclic = append(cyclic, ids)
			}
			return nil, fmt.Errorf("%w: %v", ErrCycle, cyclic)
		}
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}
	out := make([]int, len(sorted))
	for i, n := range sorted {
		out[i] = int(n.ID())
	}
	return out, nil
}

// Acyclic reports whether d has a topological order.
func (d *DAG) Acyclic() bool {
	_, err := d.TopoOrder()
	return err == nil
}

// #endregion ordering

// #region helpers
func sortedIDs(it graph.Nodes) []int {
	out := make([]int, 0, it.Len())
	for it.Next() {
		out = append(out, int(it.Node().ID()))
	}
	sort.Ints(out)
	return out
}

// #endregion helpers
