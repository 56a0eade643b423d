package bayesnet

import (
	"context"
	"fmt"
	"slices"
)

// #region config
// ExactConfig bounds variable elimination.
type ExactConfig struct {
	MaxCells int `yaml:"max_cells" validate:"gt=0"` // largest intermediate factor
}

// DefaultExactConfig returns a 4M-cell ceiling.
func DefaultExactConfig() ExactConfig {
	return ExactConfig{MaxCells: 1 << 22}
}

// #endregion config

// #region exact
// Exact answers queries by variable elimination with a greedy min-fill order.
// Barren vertices (neither queried, evidenced, nor an ancestor of either) are
// pruned before elimination.
type Exact struct {
	config ExactConfig
}

// NewExact creates an Exact backend.
func NewExact(config ExactConfig) *Exact {
	return &Exact{config: config}
}

func (e *Exact) Name() string { return "exact" }

// Marginals runs one elimination per unobserved vertex.
func (e *Exact) Marginals(ctx context.Context, net *Network, ev Evidence) (Posterior, error) {
	post := make(Posterior)
	for _, v := range Unobserved(net, ev) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := e.eliminate(ctx, net, ev, []int{v})
		if err != nil {
			return nil, fmt.Errorf("marginal %s: %w", net.dag.ID(v), err)
		}
		post[v] = f.Values
	}
	return post, nil
}

// Joint returns P(vars | ev) laid out in vars order.
func (e *Exact) Joint(ctx context.Context, net *Network, ev Evidence, vars []int) (*Factor, error) {
	for _, v := range vars {
		if _, ok := ev[v]; ok {
			return nil, fmt.Errorf("%w: joint over evidenced vertex %s", ErrUnsupported, net.dag.ID(v))
		}
		if _, ok := net.families[v]; !ok {
			return nil, fmt.Errorf("%w: vertex %d not in network", ErrInvalidEvidence, v)
		}
	}
	return e.eliminate(ctx, net, ev, vars)
}

// #endregion exact

// #region eliminate
func (e *Exact) eliminate(ctx context.Context, net *Network, ev Evidence, keep []int) (*Factor, error) {
	targets := append([]int(nil), keep...)
	for v := range ev {
		targets = append(targets, v)
	}
	relevant := ancestors(net, targets)

	var pool []*Factor
	scope := make(map[int]bool)
	for _, v := range net.order {
		if !relevant[v] {
			continue
		}
		f := net.families[v].Reduce(ev)
		pool = append(pool, f)
		for _, u := range f.Vars {
			scope[u] = true
		}
	}
	var elim []int
	for u := range scope {
		if !slices.Contains(keep, u) {
			elim = append(elim, u)
		}
	}
	slices.Sort(elim)

	for len(elim) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		z := minFill(pool, elim)
		elim = slices.DeleteFunc(elim, func(u int) bool { return u == z })

		var with, rest []*Factor
		union := make(map[int]bool)
		for _, f := range pool {
			if f.Has(z) {
				with = append(with, f)
				for _, u := range f.Vars {
					union[u] = true
				}
			} else {
				rest = append(rest, f)
			}
		}
		if cells := pow(net.k, len(union)); cells > e.config.MaxCells {
			return nil, fmt.Errorf("%w: eliminating %s needs %d cells", ErrTooLarge, net.dag.ID(z), cells)
		}
		pool = append(rest, Product(with, net.k).SumOut(z))
	}

	joint := Product(pool, net.k)
	for _, v := range keep {
		if !joint.Has(v) {
			// keep vertex with no relevant factor cannot happen for network vertices
			return nil, fmt.Errorf("%w: vertex %d not reachable", ErrInvalidEvidence, v)
		}
	}
	return joint.Marginal(keep).Normalize()
}

// minFill picks the variable whose elimination adds the fewest fill edges, ties
// broken by fewest neighbours then lowest index.
func minFill(pool []*Factor, elim []int) int {
	adj := make(map[int]map[int]bool)
	for _, f := range pool {
		for _, a := range f.Vars {
			if adj[a] == nil {
				adj[a] = make(map[int]bool)
			}
			for _, b := range f.Vars {
				if a != b {
					adj[a][b] = true
				}
			}
		}
	}
	best, bestFill, bestDeg := -1, 0, 0
	for _, z := range elim {
		nb := make([]int, 0, len(adj[z]))
		for u := range adj[z] {
			nb = append(nb, u)
		}
		fill := 0
		for i := 0; i < len(nb); i++ {
			for j := i + 1; j < len(nb); j++ {
				if !adj[nb[i]][nb[j]] {
					fill++
				}
			}
		}
		if best < 0 || fill < bestFill || (fill == bestFill && len(nb) < bestDeg) {
			best, bestFill, bestDeg = z, fill, len(nb)
		}
	}
	return best
}

// ancestors returns targets plus all their ancestors in net.
func ancestors(net *Network, targets []int) map[int]bool {
	seen := make(map[int]bool)
	stack := append([]int(nil), targets...)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[v] {
			continue
		}
		seen[v] = true
		f, ok := net.families[v]
		if !ok {
			continue
		}
		for _, u := range f.Vars {
			if u != v && !seen[u] {
				stack = append(stack, u)
			}
		}
	}
	return seen
}

// #endregion eliminate
