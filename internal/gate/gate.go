package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/knowledge-state/internal/graph"
)

// #region gate
// Gate decides between exact and approximate inference for a cluster.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Config returns the gate thresholds.
func (g *Gate) Config() GateConfig {
	return g.config
}

// Evaluate checks hard vetoes against exact inference; without a veto the cluster
// is solved exactly. Star and simple clusters are exempt from the order limit,
// which only applies to d when it comes from a complex cluster.
func (g *Gate) Evaluate(d *graph.DAG, k int, shape Shape) Decision {
	cells, width := Cost(d, k)
	var vetoes []VetoSignal

	// --- Hard veto pass ---

	// 1. Elimination cost
	if cells > g.config.ExactMaxCells {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoCost,
			Reason: fmt.Sprintf("estimated %d cells exceeds cap %d", cells, g.config.ExactMaxCells),
		})
	}

	// 2. Order, unless star or simple
	if d.Order() > g.config.ExactMaxOrder && !shape.Star && !shape.Simple {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoOrder,
			Reason: fmt.Sprintf("order %d exceeds exact limit %d", d.Order(), g.config.ExactMaxOrder),
		})
	}

	if len(vetoes) > 0 {
		return Decision{
			Approach:       Approximate,
			Reason:         fmt.Sprintf("exact vetoed: %s", vetoes[0].Reason),
			Vetoed:         true,
			VetoSignals:    vetoes,
			EstimatedCells: cells,
			Width:          width,
		}
	}

	reason := fmt.Sprintf("order %d within exact limit", d.Order())
	switch {
	case d.Order() <= g.config.ExactMaxOrder:
	case shape.Star:
		reason = fmt.Sprintf("star cluster of order %d, width %d", d.Order(), width)
	case shape.Simple:
		reason = fmt.Sprintf("simple cluster of order %d, width %d", d.Order(), width)
	}
	return Decision{
		Approach:       Exact,
		Reason:         reason,
		EstimatedCells: cells,
		Width:          width,
	}
}

// Affordable reports whether exact inference fits the cell budget, ignoring order.
func (g *Gate) Affordable(d *graph.DAG, k int) bool {
	cells, _ := Cost(d, k)
	return cells <= g.config.ExactMaxCells
}

// #endregion gate

// #region cost
// Cost simulates greedy min-fill elimination on the moral graph of d and returns
// the largest clique size in cells (saturating at math.MaxInt) and the induced width.
func Cost(d *graph.DAG, k int) (cells, width int) {
	adj := moralize(d)
	remaining := d.Vertices()
	maxClique := 0
	if len(remaining) > 0 {
		maxClique = 1
	}
	for len(remaining) > 0 {
		bestAt, bestFill := -1, 0
		for i, v := range remaining {
			fill := fillIn(adj, v)
			if bestAt < 0 || fill < bestFill || (fill == bestFill && len(adj[v]) < len(adj[remaining[bestAt]])) {
				bestAt, bestFill = i, fill
			}
		}
		z := remaining[bestAt]
		if c := len(adj[z]) + 1; c > maxClique {
			maxClique = c
		}
		for a := range adj[z] {
			for b := range adj[z] {
				if a != b {
					adj[a][b] = true
				}
			}
			delete(adj[a], z)
		}
		delete(adj, z)
		remaining = append(remaining[:bestAt], remaining[bestAt+1:]...)
	}
	return saturatingPow(k, maxClique), maxClique - 1
}

func moralize(d *graph.DAG) map[int]map[int]bool {
	adj := make(map[int]map[int]bool)
	link := func(a, b int) {
		if adj[a] == nil {
			adj[a] = make(map[int]bool)
		}
		if adj[b] == nil {
			adj[b] = make(map[int]bool)
		}
		adj[a][b] = true
		adj[b][a] = true
	}
	for _, v := range d.Vertices() {
		if adj[v] == nil {
			adj[v] = make(map[int]bool)
		}
		ps := d.Parents(v)
		for i, p := range ps {
			link(p, v)
			for _, q := range ps[i+1:] {
				link(p, q)
			}
		}
	}
	return adj
}

func fillIn(adj map[int]map[int]bool, v int) int {
	nb := make([]int, 0, len(adj[v]))
	for u := range adj[v] {
		nb = append(nb, u)
	}
	fill := 0
	for i := range nb {
		for j := i + 1; j < len(nb); j++ {
			if !adj[nb[i]][nb[j]] {
				fill++
			}
		}
	}
	return fill
}

func saturatingPow(k, n int) int {
	p := 1
	for i := 0; i < n; i++ {
		if p > math.MaxInt/k {
			return math.MaxInt
		}
		p *= k
	}
	return p
}

// #endregion cost
