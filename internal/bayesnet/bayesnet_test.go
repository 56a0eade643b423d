package bayesnet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
)

// #region fixtures
func chainRepo(t *testing.T) *cpt.Repository {
	t.Helper()
	repo, err := cpt.NewRepository(2, []cpt.Row{
		{Parents: 0, Cell: 0, Probability: 0.6, Root: true},
		{Parents: 0, Cell: 1, Probability: 0.4, Root: true},
		{Parents: 1, Cell: 0, Probability: 0.9},
		{Parents: 1, Cell: 1, Probability: 0.1},
		{Parents: 1, Cell: 2, Probability: 0.2},
		{Parents: 1, Cell: 3, Probability: 0.8},
	})
	require.NoError(t, err)
	return repo
}

func generatedRepo(t *testing.T, k, maxParents int) *cpt.Repository {
	t.Helper()
	repo, err := cpt.NewRepository(k, cpt.Generate(k, maxParents, cpt.DefaultGenerateConfig()))
	require.NoError(t, err)
	return repo
}

func build(t *testing.T, edges ...[2]string) *graph.DAG {
	t.Helper()
	var es []graph.Edge
	for _, e := range edges {
		es = append(es, graph.Edge{From: e[0], To: e[1], Type: graph.Progression})
	}
	d, err := graph.Build(nil, es)
	require.NoError(t, err)
	return d
}

func vid(t *testing.T, d *graph.DAG, id string) int {
	t.Helper()
	v, ok := d.Arena().Index(id)
	require.True(t, ok)
	return v
}

func backends() []Backend {
	return []Backend{NewExact(DefaultExactConfig()), NewApproximate(DefaultLoopyConfig())}
}

// bruteForce enumerates the full joint to get P(v | ev).
func bruteForce(net *Network, ev Evidence, v int) []float64 {
	vs := net.Vertices()
	k := net.K()
	out := make([]float64, k)
	digits := make([]int, len(vs))
	assign := make(map[int]int, len(vs))
	for a := 0; a < pow(k, len(vs)); a++ {
		cpt.Decode(a, k, digits)
		for i, u := range vs {
			assign[u] = digits[i]
		}
		match := true
		for u, s := range ev {
			if assign[u] != s {
				match = false
			}
		}
		if !match {
			continue
		}
		p := 1.0
		for _, f := range net.Factors() {
			idx := 0
			for _, u := range f.Vars {
				idx = idx*k + assign[u]
			}
			p *= f.Values[idx]
		}
		out[assign[v]] += p
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// #endregion fixtures

// #region scenarios
func TestChainWithRootEvidence(t *testing.T) {
	d := build(t, [2]string{"A", "B"})
	net, err := Build(d, chainRepo(t))
	require.NoError(t, err)
	a, b := vid(t, d, "A"), vid(t, d, "B")

	for _, be := range backends() {
		t.Run(be.Name(), func(t *testing.T) {
			post, err := Query(context.Background(), be, net, Evidence{a: 0})
			require.NoError(t, err)
			assert.Equal(t, []float64{1, 0}, post[a])
			assert.InDeltaSlice(t, []float64{0.9, 0.1}, post[b], 1e-9)
		})
	}
}

func TestChainWithoutEvidence(t *testing.T) {
	d := build(t, [2]string{"A", "B"})
	net, err := Build(d, chainRepo(t))
	require.NoError(t, err)
	a, b := vid(t, d, "A"), vid(t, d, "B")

	for _, be := range backends() {
		t.Run(be.Name(), func(t *testing.T) {
			post, err := Query(context.Background(), be, net, Evidence{})
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float64{0.6, 0.4}, post[a], 1e-9)
			assert.InDeltaSlice(t, []float64{0.62, 0.38}, post[b], 1e-9)
		})
	}
}

func TestChainDiagnosticEvidence(t *testing.T) {
	d := build(t, [2]string{"A", "B"})
	net, _ := Build(d, chainRepo(t))
	a, b := vid(t, d, "A"), vid(t, d, "B")

	// P(A=0 | B=1) = 0.06 / 0.38
	for _, be := range backends() {
		post, err := Query(context.Background(), be, net, Evidence{b: 1})
		require.NoError(t, err)
		assert.InDelta(t, 0.06/0.38, post[a][0], 1e-9, be.Name())
	}
}

// #endregion scenarios

// #region exact
func TestExactMatchesEnumeration(t *testing.T) {
	d := build(t,
		[2]string{"A", "C"}, [2]string{"B", "C"}, [2]string{"A", "D"},
		[2]string{"C", "E"}, [2]string{"D", "E"},
	)
	net, err := Build(d, generatedRepo(t, 3, 2))
	require.NoError(t, err)
	ex := NewExact(DefaultExactConfig())

	cases := []Evidence{
		{},
		{vid(t, d, "E"): 2},
		{vid(t, d, "B"): 0, vid(t, d, "E"): 2},
		{vid(t, d, "C"): 1, vid(t, d, "D"): 0},
	}
	for _, ev := range cases {
		post, err := Query(context.Background(), ex, net, ev)
		require.NoError(t, err)
		for _, v := range Unobserved(net, ev) {
			assert.InDeltaSlice(t, bruteForce(net, ev, v), post[v], 1e-9, "vertex %s ev %v", d.ID(v), ev)
		}
	}
}

func TestExactJointMarginalizesToMarginals(t *testing.T) {
	d := build(t, [2]string{"A", "C"}, [2]string{"B", "C"}, [2]string{"C", "D"})
	net, _ := Build(d, generatedRepo(t, 2, 2))
	ex := NewExact(DefaultExactConfig())
	a, b, dd := vid(t, d, "A"), vid(t, d, "B"), vid(t, d, "D")
	ev := Evidence{dd: 1}

	j, err := ex.Joint(context.Background(), net, ev, []int{b, a})
	require.NoError(t, err)
	assert.Equal(t, []int{b, a}, j.Vars)
	assert.InDelta(t, 1.0, j.Sum(), 1e-12)
	assert.InDeltaSlice(t, bruteForce(net, ev, a), j.Marginal([]int{a}).Values, 1e-9)
	assert.InDeltaSlice(t, bruteForce(net, ev, b), j.Marginal([]int{b}).Values, 1e-9)

	_, err = ex.Joint(context.Background(), net, ev, []int{dd})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestExactZeroProbabilityEvidence(t *testing.T) {
	repo, err := cpt.NewRepository(2, []cpt.Row{
		{Parents: 0, Cell: 0, Probability: 1, Root: true},
		{Parents: 0, Cell: 1, Probability: 0, Root: true},
		{Parents: 1, Cell: 0, Probability: 1},
		{Parents: 1, Cell: 1, Probability: 0},
		{Parents: 1, Cell: 2, Probability: 0},
		{Parents: 1, Cell: 3, Probability: 1},
	})
	require.NoError(t, err)
	d := build(t, [2]string{"A", "B"})
	net, _ := Build(d, repo)
	_, err = Query(context.Background(), NewExact(DefaultExactConfig()), net, Evidence{vid(t, d, "B"): 1})
	require.ErrorIs(t, err, ErrZeroProbability)
}

func TestExactTooLarge(t *testing.T) {
	d := build(t, [2]string{"A", "B"}, [2]string{"B", "C"})
	net, _ := Build(d, chainRepo(t))
	_, err := NewExact(ExactConfig{MaxCells: 2}).Marginals(context.Background(), net, Evidence{})
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestExactCancelled(t *testing.T) {
	d := build(t, [2]string{"A", "B"}, [2]string{"B", "C"})
	net, _ := Build(d, chainRepo(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExact(DefaultExactConfig()).Marginals(ctx, net, Evidence{})
	require.ErrorIs(t, err, context.Canceled)
}

// #endregion exact

// #region approximate
func TestApproximateExactOnPolytree(t *testing.T) {
	d := build(t, [2]string{"A", "C"}, [2]string{"B", "C"}, [2]string{"C", "D"}, [2]string{"C", "E"})
	net, _ := Build(d, generatedRepo(t, 3, 2))
	ev := Evidence{vid(t, d, "D"): 2, vid(t, d, "B"): 0}

	post, err := Query(context.Background(), NewApproximate(DefaultLoopyConfig()), net, ev)
	require.NoError(t, err)
	for _, v := range Unobserved(net, ev) {
		assert.InDeltaSlice(t, bruteForce(net, ev, v), post[v], 1e-5, d.ID(v))
	}
}

func TestApproximateLoopyIsNormalized(t *testing.T) {
	d := build(t, [2]string{"A", "B"}, [2]string{"A", "C"}, [2]string{"B", "D"}, [2]string{"C", "D"})
	net, _ := Build(d, generatedRepo(t, 3, 2))
	cfg := DefaultLoopyConfig()
	cfg.Damping = 0.3
	post, err := Query(context.Background(), NewApproximate(cfg), net, Evidence{vid(t, d, "D"): 2})
	if err != nil {
		require.True(t, errors.Is(err, ErrNotConverged), "unexpected error %v", err)
	}
	for v, p := range post {
		assert.InDelta(t, 1.0, floats.Sum(p), 1e-9, d.ID(v))
	}
}

func TestApproximateNotConvergedKeepsBeliefs(t *testing.T) {
	d := build(t, [2]string{"A", "B"}, [2]string{"B", "C"})
	net, _ := Build(d, chainRepo(t))
	post, err := Query(context.Background(), NewApproximate(LoopyConfig{MaxIterations: 1, Tolerance: 1e-12}), net, Evidence{})
	require.ErrorIs(t, err, ErrNotConverged)
	require.Len(t, post, 3)
}

func TestApproximateJoint(t *testing.T) {
	d := build(t, [2]string{"A", "B"})
	net, _ := Build(d, chainRepo(t))
	a, b := vid(t, d, "A"), vid(t, d, "B")
	j, err := NewApproximate(DefaultLoopyConfig()).Joint(context.Background(), net, Evidence{}, []int{a, b})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.54, 0.06, 0.08, 0.32}, j.Values, 1e-9)
}

// #endregion approximate

// #region build
func TestBuildMissingTable(t *testing.T) {
	d := build(t, [2]string{"A", "C"}, [2]string{"B", "C"})
	_, err := Build(d, chainRepo(t))
	require.ErrorIs(t, err, cpt.ErrMissingEntry)
}

func TestBuildWithFamilyOverride(t *testing.T) {
	d := build(t, [2]string{"A", "B"})
	a, b := vid(t, d, "A"), vid(t, d, "B")
	override, err := NewFactor([]int{b}, 2, []float64{0.3, 0.7})
	require.NoError(t, err)
	net, err := Build(d, chainRepo(t), WithFamily(b, override))
	require.NoError(t, err)
	post, err := Query(context.Background(), NewExact(DefaultExactConfig()), net, Evidence{a: 1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.3, 0.7}, post[b], 1e-12)

	bad, _ := NewFactor([]int{a}, 2, []float64{0.5, 0.5})
	_, err = Build(d, chainRepo(t), WithFamily(b, bad))
	require.Error(t, err)
}

func TestQueryRejectsInvalidEvidence(t *testing.T) {
	d := build(t, [2]string{"A", "B"})
	net, _ := Build(d, chainRepo(t))
	_, err := Query(context.Background(), NewExact(DefaultExactConfig()), net, Evidence{vid(t, d, "A"): 5})
	require.ErrorIs(t, err, ErrInvalidEvidence)
	_, err = Query(context.Background(), NewExact(DefaultExactConfig()), net, Evidence{99: 0})
	require.ErrorIs(t, err, ErrInvalidEvidence)
}

// #endregion build
