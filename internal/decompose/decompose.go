// Package decompose splits an evidence neighborhood into clusters small enough to
// query on their own while keeping every vertex next to the evidence that shapes it.
package decompose

import (
	"sort"

	"github.com/danielpatrickdp/knowledge-state/internal/graph"
)

// #region decomposer
// Decomposer builds clusters from a neighborhood graph.
type Decomposer struct {
	config Config
}

// New creates a Decomposer.
func New(config Config) *Decomposer {
	return &Decomposer{config: config}
}

// Config returns the thresholds in use.
func (dc *Decomposer) Config() Config {
	return dc.config
}

// Neighborhood returns the subgraph of full within the configured radius of seeds.
func (dc *Decomposer) Neighborhood(full *graph.DAG, seeds []int) *graph.DAG {
	return full.Neighborhood(seeds, dc.config.Radius)
}

// Decompose splits n into clusters ordered by key. measured marks vertices with
// evidence for at least one student. Every vertex of n ends up in some cluster
// provided it is connected to a measured vertex.
func (dc *Decomposer) Decompose(n *graph.DAG, measured map[int]bool) []Cluster {
	cfg := dc.config

	// 1. split out high-valence vertices
	var high []int
	for _, v := range n.Vertices() {
		if n.Degree(v) >= cfg.HighValenceDegree {
			high = append(high, v)
		}
	}
	residual := n.Without(high)

	var clusters []Cluster

	// 2-3. residual components, measurement-extended
	for _, comp := range residual.Components() {
		if len(comp) < 2 {
			continue
		}
		g := dc.extend(n, comp, measured)
		clusters = append(clusters, Cluster{
			Key:    "B:" + n.ID(comp[0]),
			Kind:   KindBase,
			Graph:  g,
			Simple: g.Order() <= cfg.SimpleMaxOrder,
			Center: -1,
		})
	}

	// 4. star ego graphs
	for _, h := range high {
		ego := n.Ego(h, 1)
		clusters = append(clusters, Cluster{
			Key:    "S:" + n.ID(h),
			Kind:   KindStar,
			Graph:  ego,
			Star:   n.InDegree(h) <= cfg.StarMaxPredecessors,
			Simple: ego.Order() <= cfg.SimpleMaxOrder,
			Center: h,
		})
	}

	// 5. drop unmeasured and cyclic clusters
	kept := clusters[:0]
	for _, c := range clusters {
		if hasMeasured(c.Graph, measured) && c.Graph.Acyclic() {
			kept = append(kept, c)
		}
	}
	clusters = kept

	// 6. merge near-duplicates
	clusters = dc.merge(n, clusters)

	clusters = dc.isolated(n, clusters, measured)
	clusters = dc.repair(n, clusters, measured)

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Key < clusters[j].Key })
	return clusters
}

// #endregion decomposer

// #region extend
// extend adds the radius-1 neighborhood of every boundary vertex of comp, taken
// from the original graph. When that makes the cluster too wide, added vertices
// without evidence are dropped again.
func (dc *Decomposer) extend(n *graph.DAG, comp []int, measured map[int]bool) *graph.DAG {
	base := n.Induced(comp)
	in := make(map[int]bool, len(comp))
	for _, v := range comp {
		in[v] = true
	}
	ext := append([]int(nil), comp...)
	added := make(map[int]bool)
	for _, v := range comp {
		if base.InDegree(v) > 0 && base.OutDegree(v) > 0 {
			continue
		}
		for _, u := range n.Within(v, 1) {
			if !in[u] && !added[u] {
				added[u] = true
				ext = append(ext, u)
			}
		}
	}
	g := n.Induced(ext)
	if g.Diameter() < dc.config.PruneDiameter {
		return g
	}
	keep := append([]int(nil), comp...)
	for u := range added {
		if measured[u] {
			keep = append(keep, u)
		}
	}
	return n.Induced(keep)
}

// #endregion extend

// #region merge
// merge unions clusters that share a vertex and whose edge sets differ by at most
// MergeMaxEdgeDiff edges. The earlier cluster keeps its key.
func (dc *Decomposer) merge(n *graph.DAG, clusters []Cluster) []Cluster {
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(clusters) && !changed; i++ {
			for j := i + 1; j < len(clusters); j++ {
				a, b := clusters[i], clusters[j]
				if !overlaps(a.Graph, b.Graph) || edgeDiff(a.Graph, b.Graph) > dc.config.MergeMaxEdgeDiff {
					continue
				}
				u := n.Induced(a.Graph.Union(b.Graph).Vertices())
				a.Graph = u
				a.Star = a.Star || b.Star
				a.Simple = u.Order() <= dc.config.SimpleMaxOrder
				if a.Center < 0 {
					a.Center = b.Center
				}
				clusters[i] = a
				clusters = append(clusters[:j], clusters[j+1:]...)
				changed = true
				break
			}
		}
	}
	return clusters
}

func edgeDiff(a, b *graph.DAG) int {
	in := make(map[[2]int]bool)
	for _, e := range a.Edges() {
		in[e] = true
	}
	diff := 0
	for _, e := range b.Edges() {
		if in[e] {
			delete(in, e)
		} else {
			diff++
		}
	}
	return diff + len(in)
}

func overlaps(a, b *graph.DAG) bool {
	for _, v := range a.Vertices() {
		if b.Has(v) {
			return true
		}
	}
	return false
}

// #endregion merge

// #region coverage
// isolated gives every measured vertex not yet covered a single-vertex cluster.
func (dc *Decomposer) isolated(n *graph.DAG, clusters []Cluster, measured map[int]bool) []Cluster {
	covered := coverage(clusters)
	for _, v := range n.Vertices() {
		if measured[v] && !covered[v] {
			clusters = append(clusters, Cluster{
				Key:    "I:" + n.ID(v),
				Kind:   KindIsolated,
				Graph:  n.Induced([]int{v}),
				Simple: true,
				Center: -1,
			})
		}
	}
	return clusters
}

// repair attaches each uncovered vertex through its shortest path toward the
// nearest measured vertex. The path is cut at its first covered vertex and joined
// to the smallest cluster holding that vertex.
func (dc *Decomposer) repair(n *graph.DAG, clusters []Cluster, measured map[int]bool) []Cluster {
	covered := coverage(clusters)
	for _, v := range n.Vertices() {
		if covered[v] {
			continue
		}
		path := n.PathTo(v, func(u int) bool { return measured[u] })
		cut := -1
		for i, u := range path {
			if covered[u] {
				cut = i
				break
			}
		}
		if cut < 0 {
			continue
		}
		path = path[:cut+1]
		anchor := path[cut]
		best := -1
		for i, c := range clusters {
			if c.Graph.Has(anchor) && (best < 0 || c.Graph.Order() < clusters[best].Graph.Order()) {
				best = i
			}
		}
		c := clusters[best]
		c.Graph = n.Induced(append(c.Graph.Vertices(), path...))
		c.Simple = c.Graph.Order() <= dc.config.SimpleMaxOrder
		if c.Kind == KindIsolated {
			c.Kind = KindBase
		}
		clusters[best] = c
		for _, u := range path {
			covered[u] = true
		}
	}
	return clusters
}

func coverage(clusters []Cluster) map[int]bool {
	covered := make(map[int]bool)
	for _, c := range clusters {
		for _, v := range c.Graph.Vertices() {
			covered[v] = true
		}
	}
	return covered
}

func hasMeasured(g *graph.DAG, measured map[int]bool) bool {
	for _, v := range g.Vertices() {
		if measured[v] {
			return true
		}
	}
	return false
}

// #endregion coverage
