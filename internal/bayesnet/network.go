// Package bayesnet builds discrete Bayesian networks over progression graphs and
// answers marginal queries through interchangeable inference backends.
package bayesnet

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
)

// #region errors
var (
	// ErrZeroProbability is returned when evidence has zero probability under the network.
	ErrZeroProbability = errors.New("evidence has zero probability")

	// ErrNotConverged is returned by approximate inference that hit its iteration cap.
	// The accompanying posterior holds the last beliefs.
	ErrNotConverged = errors.New("belief propagation did not converge")

	// ErrTooLarge is returned when an intermediate factor exceeds the configured size.
	ErrTooLarge = errors.New("factor exceeds size limit")

	// ErrUnsupported is returned for queries a backend cannot answer.
	ErrUnsupported = errors.New("query not supported by backend")

	// ErrInvalidEvidence is returned for evidence on unknown vertices or out-of-range states.
	ErrInvalidEvidence = errors.New("invalid evidence")
)

// #endregion errors

// #region network
// Network is a Bayesian network: one family factor P(v | parents) per vertex.
type Network struct {
	dag      *graph.DAG
	k        int
	order    []int
	families map[int]*Factor
}

type buildOptions struct {
	families map[int]*Factor
}

// Option customizes Build.
type Option func(*buildOptions)

// WithFamily replaces the repository table of v with f. f must contain v and may
// name any other network vertices as conditioning variables.
func WithFamily(v int, f *Factor) Option {
	return func(o *buildOptions) {
		if o.families == nil {
			o.families = make(map[int]*Factor)
		}
		o.families[v] = f
	}
}

// Build assigns each vertex the repository table for its parent count, walking
// the DAG root to leaf.
func Build(d *graph.DAG, repo *cpt.Repository, opts ...Option) (*Network, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	order, err := d.TopoOrder()
	if err != nil {
		return nil, err
	}
	k := repo.K()
	n := &Network{dag: d, k: k, order: order, families: make(map[int]*Factor, len(order))}
	for _, v := range order {
		if f, ok := o.families[v]; ok {
			if err := n.checkOverride(v, f); err != nil {
				return nil, err
			}
			n.families[v] = f
			continue
		}
		parents := d.Parents(v)
		table, err := repo.Table(len(parents))
		if err != nil {
			return nil, fmt.Errorf("vertex %s: %w", d.ID(v), err)
		}
		vars := append(append([]int(nil), parents...), v)
		f, err := NewFactor(vars, k, table)
		if err != nil {
			return nil, err
		}
		n.families[v] = f
	}
	return n, nil
}

func (n *Network) checkOverride(v int, f *Factor) error {
	if f.K != n.k || !f.Has(v) {
		return fmt.Errorf("family override for %s: scope %v k=%d", n.dag.ID(v), f.Vars, f.K)
	}
	for _, u := range f.Vars {
		if !n.dag.Has(u) {
			return fmt.Errorf("family override for %s: %w %d", n.dag.ID(v), graph.ErrUnknownVertex, u)
		}
	}
	return nil
}

// #endregion network

// #region accessors
// K is the number of states per variable.
func (n *Network) K() int {
	return n.k
}

// DAG returns the underlying graph.
func (n *Network) DAG() *graph.DAG {
	return n.dag
}

// Vertices returns the variables in topological order.
func (n *Network) Vertices() []int {
	return n.order
}

// Family returns the factor P(v | parents).
func (n *Network) Family(v int) *Factor {
	return n.families[v]
}

// Factors returns every family in topological order.
func (n *Network) Factors() []*Factor {
	out := make([]*Factor, len(n.order))
	for i, v := range n.order {
		out[i] = n.families[v]
	}
	return out
}

// Cells is the total size of all family tables.
func (n *Network) Cells() int {
	c := 0
	for _, f := range n.families {
		c += len(f.Values)
	}
	return c
}

// #endregion accessors
