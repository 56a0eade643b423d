package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/knowledge-state/internal/assemble"
	"github.com/danielpatrickdp/knowledge-state/internal/bayesnet"
	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/evidence"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
	"github.com/danielpatrickdp/knowledge-state/internal/reduce"
	"github.com/danielpatrickdp/knowledge-state/internal/source"
)

// #region fixtures

var asOf = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func lowHigh() []mastery.Category {
	return []mastery.Category{
		{Name: "Low", Low: 0, High: 0.5},
		{Name: "High", Low: 0.5, High: 1},
	}
}

// pairCPT is P(root) = [0.6, 0.4] and P(child | parent) = [[0.9, 0.1], [0.2, 0.8]].
func pairCPT() []cpt.Row {
	return []cpt.Row{
		{Parents: 0, Cell: 0, Probability: 0.6, Root: true},
		{Parents: 0, Cell: 1, Probability: 0.4, Root: true},
		{Parents: 1, Cell: 0, Probability: 0.9},
		{Parents: 1, Cell: 1, Probability: 0.1},
		{Parents: 1, Cell: 2, Probability: 0.2},
		{Parents: 1, Cell: 3, Probability: 0.8},
	}
}

func rec(student, standard string, score float64) evidence.Record {
	return evidence.Record{StudentID: student, StandardID: standard, Score: score, Date: asOf.AddDate(0, 0, -7)}
}

func edges(pairs ...string) []graph.Edge {
	var out []graph.Edge
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, graph.Edge{From: pairs[i], To: pairs[i+1], Type: graph.Progression})
	}
	return out
}

func pairBatch(students ...string) source.Batch {
	return source.Batch{
		TenantID:   "t1",
		CourseID:   "c1",
		AsOf:       asOf,
		Students:   students,
		Standards:  []string{"A", "B"},
		Records:    []evidence.Record{rec("s1", "A", 0.2)},
		Edges:      edges("A", "B"),
		CPT:        pairCPT(),
		Categories: lowHigh(),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	return cfg
}

func runBatch(t *testing.T, cfg Config, b source.Batch, opts ...Option) Output {
	t.Helper()
	out, err := New(cfg, nil, opts...).Run(context.Background(), Input{RunID: "run-1", Batch: b})
	require.NoError(t, err)
	return out
}

func find(t *testing.T, rows []assemble.Row, student, standard string) assemble.Row {
	t.Helper()
	for _, r := range rows {
		if r.StudentID == student && r.StandardID == standard {
			return r
		}
	}
	t.Fatalf("no row for (%s, %s)", student, standard)
	return assemble.Row{}
}

// blocking waits for its context to end.
type blocking struct{}

func (blocking) Name() string { return "blocking" }

func (blocking) Marginals(ctx context.Context, _ *bayesnet.Network, _ bayesnet.Evidence) (bayesnet.Posterior, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blocking) Joint(ctx context.Context, _ *bayesnet.Network, _ bayesnet.Evidence, _ []int) (*bayesnet.Factor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// #endregion fixtures

// #region scenarios

func TestRun_SingleEdge(t *testing.T) {
	out := runBatch(t, testConfig(), pairBatch("s1"))

	require.Len(t, out.Estimates, 2)
	a := find(t, out.Estimates, "s1", "A")
	assert.Equal(t, assemble.Measured, a.Tag)
	assert.Equal(t, []float64{1, 0}, a.Probabilities)
	assert.InDelta(t, 0.2, a.Prevision, 1e-12)
	assert.Equal(t, "Low", a.Category)

	b := find(t, out.Estimates, "s1", "B")
	assert.Equal(t, assemble.Estimated, b.Tag)
	assert.InDeltaSlice(t, []float64{0.9, 0.1}, b.Probabilities, 1e-9)
	assert.InDelta(t, 0.3, b.Prevision, 1e-9)
	assert.Equal(t, "Low", b.Category)

	require.Len(t, out.Diagnostics, 1)
	assert.Equal(t, string(reduce.PathDirect), out.Diagnostics[0].Path)
	assert.Equal(t, "exact", out.Diagnostics[0].Approach)
	assert.Equal(t, "run-1", out.Diagnostics[0].RunID)
	assert.Empty(t, out.Failures)
	assert.True(t, out.Eval.Passed, out.Eval.Reason)
	assert.Equal(t, 1, out.Stats.Tasks)
	assert.Equal(t, 1, out.Stats.Queries)
}

func TestRun_StudentWithoutEvidenceGetsPriorMarginals(t *testing.T) {
	out := runBatch(t, DefaultConfig(), pairBatch("s1", "s2"))

	require.Len(t, out.Estimates, 4)
	a := find(t, out.Estimates, "s2", "A")
	assert.Equal(t, assemble.Estimated, a.Tag)
	assert.InDeltaSlice(t, []float64{0.6, 0.4}, a.Probabilities, 1e-9)
	b := find(t, out.Estimates, "s2", "B")
	assert.Equal(t, assemble.Estimated, b.Tag)
	assert.InDeltaSlice(t, []float64{0.62, 0.38}, b.Probabilities, 1e-9)
	assert.InDelta(t, 0.44, b.Prevision, 1e-9)
	assert.Equal(t, "Low", b.Category)

	// s1 is unaffected by the prior-only group
	assert.InDeltaSlice(t, []float64{0.9, 0.1}, find(t, out.Estimates, "s1", "B").Probabilities, 1e-9)
	assert.Equal(t, 2, out.Stats.Tasks)
	assert.Zero(t, out.Stats.Skipped)
	assert.Empty(t, out.Failures)
	assert.True(t, out.Eval.Passed, out.Eval.Reason)
}

func TestRun_SkipEmptyEvidence(t *testing.T) {
	cfg := testConfig()
	cfg.SkipEmptyEvidence = true
	out := runBatch(t, cfg, pairBatch("s1", "s2"))

	require.Len(t, out.Estimates, 4)
	for _, id := range []string{"A", "B"} {
		r := find(t, out.Estimates, "s2", id)
		assert.Equal(t, assemble.Unmeasured, r.Tag)
		assert.Equal(t, mastery.UnmeasuredName, r.Category)
		assert.Equal(t, assemble.UnmeasuredPrevision, r.Prevision)
	}
	assert.Equal(t, 1, out.Stats.Skipped)
	assert.Equal(t, 1, out.Stats.Tasks)
}

func TestRun_SeparatedChainMatchesExact(t *testing.T) {
	standards := []string{"a1", "a2", "m1", "m2", "b1", "b2"}
	b := source.Batch{
		TenantID:   "t1",
		CourseID:   "chain",
		AsOf:       asOf,
		Students:   []string{"s1"},
		Standards:  standards,
		Records:    []evidence.Record{rec("s1", "m1", 0.8), rec("s1", "m2", 0.2)},
		Edges:      edges("a1", "a2", "a2", "m1", "m1", "m2", "m2", "b1", "b1", "b2"),
		CPT:        cpt.Generate(2, 1, cpt.DefaultGenerateConfig()),
		Categories: lowHigh(),
	}
	out := runBatch(t, testConfig(), b)

	require.Len(t, out.Diagnostics, 2)
	for _, d := range out.Diagnostics {
		assert.Equal(t, string(reduce.PathSeparation), d.Path)
		assert.Equal(t, 3, d.Order)
	}

	// reference: one exact query on the whole chain
	full, err := graph.Build(standards, b.Edges)
	require.NoError(t, err)
	repo, err := cpt.NewRepository(2, b.CPT)
	require.NoError(t, err)
	net, err := bayesnet.Build(full, repo)
	require.NoError(t, err)
	m1, _ := full.Arena().Index("m1")
	m2, _ := full.Arena().Index("m2")
	want, err := bayesnet.NewExact(bayesnet.DefaultExactConfig()).Marginals(context.Background(), net, bayesnet.Evidence{m1: 1, m2: 0})
	require.NoError(t, err)

	for _, id := range []string{"a1", "a2", "b1", "b2"} {
		v, _ := full.Arena().Index(id)
		got := find(t, out.Estimates, "s1", id)
		assert.Equal(t, assemble.Estimated, got.Tag, id)
		assert.InDeltaSlice(t, want[v], got.Probabilities, 1e-9, id)
	}
}

func TestRun_MeasuredRootOfStarKeepsSiblingsAtPrior(t *testing.T) {
	b := source.Batch{
		TenantID:   "t1",
		CourseID:   "star",
		AsOf:       asOf,
		Students:   []string{"s1"},
		Standards:  []string{"c", "r", "s1", "s2", "s3", "s4", "s5"},
		Records:    []evidence.Record{rec("s1", "r", 0.9)},
		Edges:      edges("r", "c", "s1", "c", "s2", "c", "s3", "c", "s4", "c", "s5", "c"),
		CPT:        cpt.Generate(2, 6, cpt.DefaultGenerateConfig()),
		Categories: lowHigh(),
	}
	out := runBatch(t, testConfig(), b)

	require.Len(t, out.Diagnostics, 1)
	d := out.Diagnostics[0]
	assert.Equal(t, string(reduce.PathRootEvidence), d.Path)
	assert.Equal(t, 2, d.Order)
	assert.Equal(t, "S:c", d.ClusterKey)

	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		got := find(t, out.Estimates, "s1", id)
		assert.Equal(t, assemble.Estimated, got.Tag, id)
		assert.InDeltaSlice(t, []float64{0.5, 0.5}, got.Probabilities, 1e-12, id)
	}
	c := find(t, out.Estimates, "s1", "c")
	assert.Equal(t, assemble.Estimated, c.Tag)
	assert.InDelta(t, 1.0, c.Probabilities[0]+c.Probabilities[1], 1e-9)
	assert.Equal(t, 1, out.Stats.Clusters["star"])
}

// #endregion scenarios

// #region isolation

func TestRun_MissingTableFailsOnlyItsCluster(t *testing.T) {
	b := source.Batch{
		TenantID:   "t1",
		CourseID:   "mixed",
		AsOf:       asOf,
		Students:   []string{"s1"},
		Standards:  []string{"A", "B", "P1", "P2", "P3", "X"},
		Records:    []evidence.Record{rec("s1", "A", 0.2), rec("s1", "X", 0.7)},
		Edges:      edges("A", "B", "P1", "X", "P2", "X", "P3", "X"),
		CPT:        cpt.Generate(2, 1, cpt.DefaultGenerateConfig()),
		Categories: lowHigh(),
	}
	out := runBatch(t, testConfig(), b)

	require.Len(t, out.Failures, 1)
	f := out.Failures[0]
	assert.Equal(t, StageCPT, f.Stage)
	assert.True(t, errors.Is(f.Err, cpt.ErrMissingEntry))
	assert.Equal(t, 1, f.Students)
	assert.Equal(t, 1, out.Stats.Failures)

	assert.Equal(t, assemble.Estimated, find(t, out.Estimates, "s1", "B").Tag)
	assert.Equal(t, assemble.Measured, find(t, out.Estimates, "s1", "X").Tag)
	for _, id := range []string{"P1", "P2", "P3"} {
		assert.Equal(t, assemble.Unmeasured, find(t, out.Estimates, "s1", id).Tag, id)
	}
}

func TestRun_CycleAborts(t *testing.T) {
	b := pairBatch("s1")
	b.Edges = edges("A", "B", "B", "A")
	_, err := New(testConfig(), nil).Run(context.Background(), Input{Batch: b})
	require.ErrorIs(t, err, graph.ErrCycle)
}

func TestRun_InvalidScaleAborts(t *testing.T) {
	b := pairBatch("s1")
	b.Categories = b.Categories[:1]
	_, err := New(testConfig(), nil).Run(context.Background(), Input{Batch: b})
	require.ErrorIs(t, err, mastery.ErrInvalidScale)
}

func TestRun_QueryTimeoutIsIsolated(t *testing.T) {
	cfg := testConfig()
	cfg.QueryTimeout = 20 * time.Millisecond
	out := runBatch(t, cfg, pairBatch("s1"), WithBackends(blocking{}, blocking{}))

	require.Len(t, out.Failures, 1)
	assert.Equal(t, StageTimeout, out.Failures[0].Stage)
	assert.Equal(t, assemble.Measured, find(t, out.Estimates, "s1", "A").Tag)
	assert.Equal(t, assemble.Unmeasured, find(t, out.Estimates, "s1", "B").Tag)
}

func TestRun_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(), nil).Run(ctx, Input{Batch: pairBatch("s1")})
	require.ErrorIs(t, err, context.Canceled)
}

// #endregion isolation

// #region determinism

func TestRun_IdenticalEvidenceSharesOneQuery(t *testing.T) {
	b := pairBatch("s1", "s2")
	b.Records = append(b.Records, rec("s2", "A", 0.3))
	out := runBatch(t, testConfig(), b)

	assert.Equal(t, 1, out.Stats.Tasks)
	require.Len(t, out.Diagnostics, 1)
	assert.Equal(t, 2, out.Diagnostics[0].Students)
	assert.Equal(t, find(t, out.Estimates, "s1", "B").Probabilities, find(t, out.Estimates, "s2", "B").Probabilities)
	assert.True(t, out.Eval.Passed, out.Eval.Reason)
}

func TestRun_WorkerCountDoesNotChangeEstimates(t *testing.T) {
	b := source.Batch{
		TenantID:  "t1",
		CourseID:  "chain",
		AsOf:      asOf,
		Students:  []string{"s1", "s2", "s3"},
		Standards: []string{"a1", "a2", "m1", "m2", "b1", "b2"},
		Records: []evidence.Record{
			rec("s1", "m1", 0.8), rec("s1", "m2", 0.2),
			rec("s2", "a1", 0.1),
			rec("s3", "b2", 0.9), rec("s3", "m1", 0.3),
		},
		Edges:      edges("a1", "a2", "a2", "m1", "m1", "m2", "m2", "b1", "b1", "b2"),
		CPT:        cpt.Generate(2, 1, cpt.DefaultGenerateConfig()),
		Categories: lowHigh(),
	}
	one := testConfig()
	one.Workers = 1
	many := testConfig()
	many.Workers = 8

	a := runBatch(t, one, b)
	c := runBatch(t, many, b)
	assert.Equal(t, a.Estimates, c.Estimates)
	assert.Equal(t, len(a.Diagnostics), len(c.Diagnostics))
}

func TestRun_InfersScopeAndStudents(t *testing.T) {
	b := pairBatch()
	b.Standards = nil
	out := runBatch(t, testConfig(), b)

	assert.Equal(t, 1, out.Stats.Students)
	assert.Equal(t, 2, out.Stats.Standards)
	assert.Len(t, out.Estimates, 2)
}

// #endregion determinism
