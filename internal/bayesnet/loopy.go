package bayesnet

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// #region config
// LoopyConfig controls belief propagation.
type LoopyConfig struct {
	MaxIterations int     `yaml:"max_iterations" validate:"gt=0"`
	Tolerance     float64 `yaml:"tolerance" validate:"gt=0"`
	Damping       float64 `yaml:"damping" validate:"gte=0,lt=1"` // weight kept from the previous message
}

// DefaultLoopyConfig returns undamped propagation with a 200-iteration cap.
func DefaultLoopyConfig() LoopyConfig {
	return LoopyConfig{MaxIterations: 200, Tolerance: 1e-6, Damping: 0}
}

// #endregion config

// #region approximate
// Approximate answers queries by loopy belief propagation on the factor graph of
// the evidence-reduced families. It is exact on polytrees.
type Approximate struct {
	config LoopyConfig
}

// NewApproximate creates an Approximate backend.
func NewApproximate(config LoopyConfig) *Approximate {
	return &Approximate{config: config}
}

func (a *Approximate) Name() string { return "approximate" }

// Config returns the propagation settings.
func (a *Approximate) Config() LoopyConfig { return a.config }

// Marginals returns beliefs for every unobserved vertex. When the iteration cap is
// reached the last beliefs are returned together with ErrNotConverged.
func (a *Approximate) Marginals(ctx context.Context, net *Network, ev Evidence) (Posterior, error) {
	g, convErr := a.propagate(ctx, net, ev)
	if g == nil {
		return nil, convErr
	}
	post := make(Posterior, len(g.varFactors))
	for _, v := range Unobserved(net, ev) {
		b := make([]float64, net.k)
		for i := range b {
			b[i] = 1
		}
		for _, ref := range g.varFactors[v] {
			floats.Mul(b, g.f2v[ref.factor][ref.pos])
		}
		sum := floats.Sum(b)
		if sum <= 0 {
			return nil, fmt.Errorf("%w: belief of %s", ErrZeroProbability, net.dag.ID(v))
		}
		floats.Scale(1/sum, b)
		post[v] = b
	}
	return post, convErr
}

// Joint returns the belief of the smallest factor covering vars, marginalized to vars.
func (a *Approximate) Joint(ctx context.Context, net *Network, ev Evidence, vars []int) (*Factor, error) {
	g, err := a.propagate(ctx, net, ev)
	if g == nil {
		return nil, err
	}
	best := -1
	for i, f := range g.factors {
		covers := true
		for _, v := range vars {
			if !f.Has(v) {
				covers = false
				break
			}
		}
		if covers && (best < 0 || len(f.Values) < len(g.factors[best].Values)) {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: no factor covers %v", ErrUnsupported, vars)
	}
	belief := g.factors[best]
	for p, v := range belief.Vars {
		belief = Multiply(belief, Vector(v, net.k, g.v2f[best][p]))
	}
	out, nerr := belief.Marginal(vars).Normalize()
	if nerr != nil {
		return nil, nerr
	}
	return out, err
}

// #endregion approximate

// #region propagate
type slot struct{ factor, pos int }

type factorGraph struct {
	factors    []*Factor
	varFactors map[int][]slot
	f2v        [][][]float64
	v2f        [][][]float64
}

func (a *Approximate) propagate(ctx context.Context, net *Network, ev Evidence) (*factorGraph, error) {
	k := net.k
	g := &factorGraph{varFactors: make(map[int][]slot)}
	for _, f := range net.Factors() {
		r := f.Reduce(ev)
		if len(r.Vars) == 0 {
			if r.Values[0] == 0 {
				return nil, fmt.Errorf("%w: family of %v", ErrZeroProbability, f.Vars)
			}
			continue
		}
		i := len(g.factors)
		g.factors = append(g.factors, r)
		in := make([][]float64, len(r.Vars))
		out := make([][]float64, len(r.Vars))
		for p, v := range r.Vars {
			in[p] = uniform(k)
			out[p] = uniform(k)
			g.varFactors[v] = append(g.varFactors[v], slot{i, p})
		}
		g.f2v = append(g.f2v, out)
		g.v2f = append(g.v2f, in)
	}

	damping := a.config.Damping
	delta := math.Inf(1)
	for iter := 0; iter < a.config.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		delta = 0
		for i, f := range g.factors {
			msgs, err := factorMessages(f, g.v2f[i])
			if err != nil {
				return nil, err
			}
			for p, m := range msgs {
				old := g.f2v[i][p]
				for s := range m {
					m[s] = (1-damping)*m[s] + damping*old[s]
					if d := math.Abs(m[s] - old[s]); d > delta {
						delta = d
					}
				}
				g.f2v[i][p] = m
			}
		}
		for v, slots := range g.varFactors {
			for _, to := range slots {
				m := uniform(k)
				for _, from := range slots {
					if from != to {
						floats.Mul(m, g.f2v[from.factor][from.pos])
					}
				}
				sum := floats.Sum(m)
				if sum <= 0 {
					return nil, fmt.Errorf("%w: messages into %s", ErrZeroProbability, net.dag.ID(v))
				}
				floats.Scale(1/sum, m)
				g.v2f[to.factor][to.pos] = m
			}
		}
		if delta < a.config.Tolerance {
			return g, nil
		}
	}
	return g, fmt.Errorf("%w after %d iterations (delta %.2g)", ErrNotConverged, a.config.MaxIterations, delta)
}

// factorMessages computes every outgoing message of f in one pass, using prefix and
// suffix products of the incoming messages so no division is needed.
func factorMessages(f *Factor, in [][]float64) ([][]float64, error) {
	n, k := len(f.Vars), f.K
	out := make([][]float64, n)
	for p := range out {
		out[p] = make([]float64, k)
	}
	digits := make([]int, n)
	pre := make([]float64, n+1)
	suf := make([]float64, n+1)
	for _, val := range f.Values {
		if val != 0 {
			pre[0] = 1
			for p := 0; p < n; p++ {
				pre[p+1] = pre[p] * in[p][digits[p]]
			}
			suf[n] = 1
			for p := n - 1; p >= 0; p-- {
				suf[p] = suf[p+1] * in[p][digits[p]]
			}
			for p := 0; p < n; p++ {
				out[p][digits[p]] += val * pre[p] * suf[p+1]
			}
		}
		for d := n - 1; d >= 0; d-- {
			digits[d]++
			if digits[d] < k {
				break
			}
			digits[d] = 0
		}
	}
	for p, m := range out {
		sum := floats.Sum(m)
		if sum <= 0 {
			return nil, fmt.Errorf("%w: factor %v message to %d", ErrZeroProbability, f.Vars, f.Vars[p])
		}
		floats.Scale(1/sum, m)
	}
	return out, nil
}

func uniform(k int) []float64 {
	m := make([]float64, k)
	for i := range m {
		m[i] = 1 / float64(k)
	}
	return m
}

// #endregion propagate
