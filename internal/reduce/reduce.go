// Package reduce solves one cluster state, collapsing conditionally independent
// structure before handing the remaining network to an inference backend.
package reduce

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/danielpatrickdp/knowledge-state/internal/bayesnet"
	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/gate"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
)

// #region reducer
// Reducer picks a reduction for a cluster state and runs the resulting queries.
// It holds no mutable state and is safe for concurrent use.
type Reducer struct {
	config Config
	repo   *cpt.Repository
	gate   *gate.Gate
	exact  bayesnet.Backend
	approx bayesnet.Backend
}

// New creates a Reducer. exact must support Joint; approx is used when the gate
// vetoes exact inference.
func New(config Config, repo *cpt.Repository, g *gate.Gate, exact, approx bayesnet.Backend) *Reducer {
	return &Reducer{config: config, repo: repo, gate: g, exact: exact, approx: approx}
}

// Solve returns the posterior of every vertex of d given ev. Reductions are tried
// in order: hard separation, root evidence, identically distributed roots; when
// none applies the cluster is queried directly.
func (r *Reducer) Solve(ctx context.Context, d *graph.DAG, shape gate.Shape, ev bayesnet.Evidence) (Outcome, error) {
	ev = restrict(d, ev)
	if len(ev) == d.Order() {
		return Outcome{Path: PathObserved, Posterior: r.pointMasses(ev)}, nil
	}
	if !r.config.Disabled {
		if out, ok, err := r.separate(ctx, d, shape, ev); ok || err != nil {
			return out, err
		}
		if out, ok, err := r.rootEvidence(ctx, d, shape, ev); ok || err != nil {
			return out, err
		}
		if out, ok, err := r.identicalRoots(ctx, d, shape, ev); ok || err != nil {
			return out, err
		}
	}
	s, err := r.run(ctx, d, shape, ev, PathDirect, nil)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Path: PathDirect, Posterior: s.post, Queries: []Query{s.query}}, nil
}

// #endregion reducer

// #region run
type solved struct {
	net     *bayesnet.Network
	backend bayesnet.Backend
	post    bayesnet.Posterior
	query   Query
}

func (r *Reducer) backendFor(d *graph.DAG, shape gate.Shape) (bayesnet.Backend, string) {
	dec := r.gate.Evaluate(d, r.repo.K(), shape)
	if dec.Approach == gate.Exact {
		return r.exact, dec.Reason
	}
	return r.approx, dec.Reason
}

func (r *Reducer) run(ctx context.Context, d *graph.DAG, shape gate.Shape, ev bayesnet.Evidence, path Path, opts []bayesnet.Option) (solved, error) {
	net, err := bayesnet.Build(d, r.repo, opts...)
	if err != nil {
		return solved{}, fmt.Errorf("build network: %w", err)
	}
	backend, reason := r.backendFor(d, shape)
	ctx, answer := bayesnet.WithAnswer(ctx)
	start := time.Now()
	post, err := bayesnet.Query(ctx, backend, net, ev)
	q := Query{
		Path:      path,
		Approach:  answer.Name(backend.Name()),
		Reason:    reason,
		Order:     d.Order(),
		Edges:     d.Size(),
		Measured:  len(ev),
		Estimated: d.Order() - len(ev),
		Elapsed:   time.Since(start),
		Converged: true,
	}
	if err != nil {
		if !errors.Is(err, bayesnet.ErrNotConverged) || post == nil {
			return solved{}, fmt.Errorf("%s query: %w", backend.Name(), err)
		}
		q.Converged = false
	}
	return solved{net: net, backend: backend, post: post, query: q}, nil
}

// #endregion run

// #region separation
// separate splits the unmeasured vertices into components that are d-separated by
// the evidence and solves each on its own subgraph.
func (r *Reducer) separate(ctx context.Context, d *graph.DAG, shape gate.Shape, ev bayesnet.Evidence) (Outcome, bool, error) {
	if len(ev) == 0 {
		return Outcome{}, false, nil
	}
	comps := coupled(d, ev)
	if len(comps) < 2 {
		return Outcome{}, false, nil
	}
	out := Outcome{Path: PathSeparation, Posterior: r.pointMasses(ev)}
	for _, comp := range comps {
		sub := d.Induced(augment(d, comp, ev))
		res, err := r.Solve(ctx, sub, shape, ev)
		if err != nil {
			return Outcome{}, true, fmt.Errorf("component %s: %w", d.ID(comp[0]), err)
		}
		for _, v := range comp {
			out.Posterior[v] = res.Posterior[v]
		}
		for _, q := range res.Queries {
			if q.Path == PathDirect {
				q.Path = PathSeparation
			}
			out.Queries = append(out.Queries, q)
		}
	}
	return out, true, nil
}

// coupled groups unmeasured vertices that stay dependent given ev: neighbours in d,
// and co-parents of a measured child.
func coupled(d *graph.DAG, ev bayesnet.Evidence) [][]int {
	parent := make(map[int]int)
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra < rb {
			parent[rb] = ra
		} else if rb < ra {
			parent[ra] = rb
		}
	}
	for _, v := range d.Vertices() {
		if _, ok := ev[v]; !ok {
			parent[v] = v
		}
	}
	for _, e := range d.Edges() {
		_, m0 := ev[e[0]]
		_, m1 := ev[e[1]]
		if !m0 && !m1 {
			union(e[0], e[1])
		}
	}
	for m := range ev {
		var first = -1
		for _, p := range d.Parents(m) {
			if _, ok := ev[p]; ok {
				continue
			}
			if first < 0 {
				first = p
				continue
			}
			union(first, p)
		}
	}
	groups := make(map[int][]int)
	for v := range parent {
		root := find(v)
		groups[root] = append(groups[root], v)
	}
	out := make([][]int, 0, len(groups))
	for _, g := range groups {
		sort.Ints(g)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// augment returns comp, its neighbours and every parent of its measured children,
// which is enough to reproduce the component's posterior exactly.
func augment(d *graph.DAG, comp []int, ev bayesnet.Evidence) []int {
	set := make(map[int]bool)
	for _, v := range comp {
		set[v] = true
		for _, u := range d.Neighbors(v) {
			set[u] = true
		}
		for _, c := range d.Children(v) {
			if _, ok := ev[c]; ok {
				for _, p := range d.Parents(c) {
					set[p] = true
				}
			}
		}
	}
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// #endregion separation

// #region root-evidence
// rootEvidence applies when every measured vertex is a root: unmeasured roots with
// a single child cannot be reached by the evidence, so they keep the prior and are
// summed out of their child's table.
func (r *Reducer) rootEvidence(ctx context.Context, d *graph.DAG, shape gate.Shape, ev bayesnet.Evidence) (Outcome, bool, error) {
	for m := range ev {
		if !d.IsRoot(m) {
			return Outcome{}, false, nil
		}
	}
	var quiet []int
	for _, v := range d.Roots() {
		if _, ok := ev[v]; !ok && d.Degree(v) == 1 {
			quiet = append(quiet, v)
		}
	}
	if len(quiet) == 0 {
		return Outcome{}, false, nil
	}
	return r.collapse(ctx, d, shape, ev, groupByChild(d, quiet), PathRootEvidence)
}

// #endregion root-evidence

// #region identical-roots
// identicalRoots applies when some child has two or more unmeasured unit-valence
// root parents. Those roots are interchangeable: they are summed out of the child's
// table and their posterior is recovered from the child's family afterwards.
func (r *Reducer) identicalRoots(ctx context.Context, d *graph.DAG, shape gate.Shape, ev bayesnet.Evidence) (Outcome, bool, error) {
	var quiet []int
	for _, v := range d.Roots() {
		if _, ok := ev[v]; !ok && d.Degree(v) == 1 {
			quiet = append(quiet, v)
		}
	}
	groups := groupByChild(d, quiet)
	for c, us := range groups {
		if len(us) < 2 {
			delete(groups, c)
		}
	}
	if len(groups) == 0 {
		return Outcome{}, false, nil
	}
	return r.collapse(ctx, d, shape, ev, groups, PathIdenticalRoots)
}

// #endregion identical-roots

// #region collapse
// collapse removes the grouped roots, overrides each child's family with
// sum_U prod prior(u) P(c | pa(c)), queries the reduced network, then fills in
// the removed roots.
func (r *Reducer) collapse(ctx context.Context, d *graph.DAG, shape gate.Shape, ev bayesnet.Evidence, groups map[int][]int, path Path) (Outcome, bool, error) {
	k := r.repo.K()
	prior, err := r.repo.Prior()
	if err != nil {
		return Outcome{}, true, err
	}

	children := make([]int, 0, len(groups))
	for c := range groups {
		children = append(children, c)
	}
	sort.Ints(children)

	var removed []int
	var opts []bayesnet.Option
	joints := make(map[int]*bayesnet.Factor, len(groups))
	for _, c := range children {
		parents := d.Parents(c)
		if cpt.Cells(k, len(parents)) > r.config.MaxReducedCells {
			return Outcome{}, false, nil
		}
		table, err := r.repo.Table(len(parents))
		if err != nil {
			return Outcome{}, true, fmt.Errorf("vertex %s: %w", d.ID(c), err)
		}
		fam, err := bayesnet.NewFactor(append(append([]int(nil), parents...), c), k, table)
		if err != nil {
			return Outcome{}, true, err
		}
		t := fam
		for _, u := range groups[c] {
			t = bayesnet.Multiply(t, bayesnet.Vector(u, k, prior))
		}
		joints[c] = t
		opts = append(opts, bayesnet.WithFamily(c, t.SumOut(groups[c]...)))
		removed = append(removed, groups[c]...)
	}

	s, err := r.run(ctx, d.Without(removed), shape, ev, path, opts)
	if err != nil {
		return Outcome{}, true, err
	}
	out := Outcome{Path: path, Posterior: s.post, Queries: []Query{s.query}}

	for _, c := range children {
		us := groups[c]
		if path == PathRootEvidence {
			for _, u := range us {
				out.Posterior[u] = append([]float64(nil), prior...)
			}
			continue
		}
		post, err := r.recover(ctx, s, joints[c], us, ev)
		if err != nil {
			return Outcome{}, true, fmt.Errorf("recover roots of %s: %w", d.ID(c), err)
		}
		for u, p := range post {
			out.Posterior[u] = p
		}
	}
	return out, true, nil
}

// recover computes P(U | e) = sum P(U | c, O) P(c, O | e) where O are the other
// parents of c. Given c and O the roots are independent of all remaining evidence.
func (r *Reducer) recover(ctx context.Context, s solved, t *bayesnet.Factor, us []int, ev bayesnet.Evidence) (bayesnet.Posterior, error) {
	t = t.Reduce(ev)
	cond, err := bayesnet.Divide(t, t.SumOut(us...))
	if err != nil {
		return nil, err
	}
	var others []int
	for _, v := range t.Vars {
		if !slices.Contains(us, v) {
			others = append(others, v)
		}
	}
	joint := bayesnet.Unit(nil, t.K)
	if len(others) > 0 {
		joint, err = s.backend.Joint(ctx, s.net, ev, others)
		if err != nil && (!errors.Is(err, bayesnet.ErrNotConverged) || joint == nil) {
			return nil, err
		}
	}
	roots, err := bayesnet.Multiply(cond, joint).Marginal(us).Normalize()
	if err != nil {
		return nil, err
	}
	post := make(bayesnet.Posterior, len(us))
	for _, u := range us {
		post[u] = roots.Marginal([]int{u}).Values
	}
	return post, nil
}

// #endregion collapse

// #region helpers
func groupByChild(d *graph.DAG, roots []int) map[int][]int {
	out := make(map[int][]int)
	for _, u := range roots {
		c := d.Children(u)[0]
		out[c] = append(out[c], u)
	}
	return out
}

func restrict(d *graph.DAG, ev bayesnet.Evidence) bayesnet.Evidence {
	out := make(bayesnet.Evidence, len(ev))
	for v, s := range ev {
		if d.Has(v) {
			out[v] = s
		}
	}
	return out
}

func (r *Reducer) pointMasses(ev bayesnet.Evidence) bayesnet.Posterior {
	post := make(bayesnet.Posterior, len(ev))
	for v, s := range ev {
		post[v] = bayesnet.PointMass(r.repo.K(), s)
	}
	return post
}

// #endregion helpers
