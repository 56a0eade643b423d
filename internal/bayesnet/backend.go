package bayesnet

import (
	"context"
	"fmt"
	"sort"
)

// #region types
// Evidence maps a vertex to its observed category.
type Evidence map[int]int

// Posterior maps a vertex to its probability vector over categories.
type Posterior map[int][]float64

// Backend answers queries on a built network.
type Backend interface {
	// Name identifies the approach in diagnostics.
	Name() string
	// Marginals returns the posterior of every non-evidenced vertex.
	Marginals(ctx context.Context, net *Network, ev Evidence) (Posterior, error)
	// Joint returns the normalized posterior joint over vars, none of them evidenced.
	Joint(ctx context.Context, net *Network, ev Evidence, vars []int) (*Factor, error)
}

// #endregion types

// #region query
// Query validates evidence, runs the backend and adds a point mass for every
// evidenced vertex. A non-nil posterior may accompany ErrNotConverged.
func Query(ctx context.Context, b Backend, net *Network, ev Evidence) (Posterior, error) {
	if err := Validate(net, ev); err != nil {
		return nil, err
	}
	post, err := b.Marginals(ctx, net, ev)
	if post == nil {
		return nil, err
	}
	for v, s := range ev {
		post[v] = PointMass(net.k, s)
	}
	return post, err
}

// Validate checks that evidence names network vertices and valid states.
func Validate(net *Network, ev Evidence) error {
	for v, s := range ev {
		if _, ok := net.families[v]; !ok {
			return fmt.Errorf("%w: vertex %d not in network", ErrInvalidEvidence, v)
		}
		if s < 0 || s >= net.k {
			return fmt.Errorf("%w: vertex %s state %d", ErrInvalidEvidence, net.dag.ID(v), s)
		}
	}
	return nil
}

// PointMass is the degenerate distribution on category s.
func PointMass(k, s int) []float64 {
	p := make([]float64, k)
	p[s] = 1
	return p
}

// #endregion query

// #region helpers
// Unobserved returns network vertices without evidence, ascending.
func Unobserved(net *Network, ev Evidence) []int {
	var out []int
	for _, v := range net.order {
		if _, ok := ev[v]; !ok {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// Restrict returns the subset of ev on vertices of net.
func (ev Evidence) Restrict(net *Network) Evidence {
	out := make(Evidence, len(ev))
	for v, s := range ev {
		if _, ok := net.families[v]; ok {
			out[v] = s
		}
	}
	return out
}

// #endregion helpers

// #region answer
type answerKey struct{}

// Answer records the backend that actually answered a query. A backend that hands
// a query on to another one reports the delegate through Answered.
type Answer struct {
	name string
}

// WithAnswer returns a context carrying a fresh Answer.
func WithAnswer(ctx context.Context) (context.Context, *Answer) {
	a := &Answer{}
	return context.WithValue(ctx, answerKey{}, a), a
}

// Answered records name on the Answer carried by ctx, if any.
func Answered(ctx context.Context, name string) {
	if a, ok := ctx.Value(answerKey{}).(*Answer); ok {
		a.name = name
	}
}

// Name returns the recorded backend, or fallback when none was recorded.
func (a *Answer) Name(fallback string) string {
	if a == nil || a.name == "" {
		return fallback
	}
	return a.name
}

// #endregion answer
