package assemble

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/knowledge-state/internal/evidence"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
)

var asOf = time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)

func scale(t *testing.T) *mastery.Scale {
	t.Helper()
	s, err := mastery.NewScale([]mastery.Category{
		{Name: "NOVICE", Low: 0, High: 40},
		{Name: "DEVELOPING", Low: 40, High: 70},
		{Name: "PROFICIENT", Low: 70, High: 100},
	})
	require.NoError(t, err)
	return s
}

func setup(t *testing.T) (*evidence.State, []int) {
	t.Helper()
	arena := graph.NewArena()
	a, b, c := arena.Intern("A"), arena.Intern("B"), arena.Intern("C")
	recs := []evidence.Record{
		{StudentID: "s2", StandardID: "A", Score: 95, Date: asOf.AddDate(0, 0, -3)},
	}
	return evidence.NewState(arena, []string{"s2", "s1"}, recs, scale(t)), []int{a, b, c}
}

func TestAccumulatorMeans(t *testing.T) {
	acc := NewAccumulator(3)
	acc.Add(0, 1, []float64{0.2, 0.3, 0.5})
	acc.Add(0, 1, []float64{0.4, 0.3, 0.3})
	p, ok := acc.Mean(0, 1)
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{0.3, 0.3, 0.4}, p, 1e-12)
	assert.Equal(t, 2, acc.Count(0, 1))
	_, ok = acc.Mean(1, 1)
	assert.False(t, ok)
	assert.Equal(t, 1, acc.Len())
}

func TestAssembleFullCartesian(t *testing.T) {
	st, v := setup(t)
	acc := NewAccumulator(3)
	// s2 (row 0): measured A, estimated B from two overlapping clusters
	acc.Add(0, v[0], []float64{0, 0, 1})
	acc.Add(0, v[1], []float64{0.1, 0.2, 0.7})
	acc.Add(0, v[1], []float64{0.3, 0.2, 0.5})

	rows := New(DefaultConfig(), scale(t)).Assemble(acc, st, v, asOf)
	require.Len(t, rows, 6)

	// ordered by student then standard
	assert.Equal(t, "s1", rows[0].StudentID)
	assert.Equal(t, "A", rows[0].StandardID)
	assert.Equal(t, "s2", rows[3].StudentID)

	for _, r := range rows[:3] {
		assert.Equal(t, Unmeasured, r.Tag)
		assert.Equal(t, UnmeasuredPrevision, r.Prevision)
		assert.Equal(t, 1.0, r.Deviation)
		assert.Equal(t, mastery.UnmeasuredName, r.Category)
		assert.Nil(t, r.Probabilities)
	}

	measured := rows[3]
	assert.Equal(t, Measured, measured.Tag)
	assert.Equal(t, []float64{0, 0, 1}, measured.Probabilities)
	assert.Equal(t, 95.0, measured.Prevision)
	assert.Equal(t, "PROFICIENT", measured.Category)
	assert.InDelta(t, 0, measured.Deviation, 1e-9)
	require.NotNil(t, measured.EvidenceDate)
	assert.Equal(t, asOf.AddDate(0, 0, -3), *measured.EvidenceDate)

	est := rows[4]
	assert.Equal(t, Estimated, est.Tag)
	assert.InDeltaSlice(t, []float64{0.2, 0.2, 0.6}, est.Probabilities, 1e-12)
	// 0.2*20 + 0.2*55 + 0.6*85
	assert.InDelta(t, 66.0, est.Prevision, 1e-9)
	assert.Equal(t, "DEVELOPING", est.Category)
	assert.Nil(t, est.EvidenceDate)

	assert.Equal(t, Unmeasured, rows[5].Tag)
}

func TestAssembleMeasuredWithoutClusterStillPointMass(t *testing.T) {
	st, v := setup(t)
	rows := New(DefaultConfig(), scale(t)).Assemble(NewAccumulator(3), st, v[:1], asOf)
	require.Len(t, rows, 2)
	assert.Equal(t, Measured, rows[1].Tag)
	assert.Equal(t, []float64{0, 0, 1}, rows[1].Probabilities)
}

func TestEntropy(t *testing.T) {
	as := New(DefaultConfig(), scale(t))
	assert.InDelta(t, 1.0, as.Entropy([]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}), 1e-6)
	assert.InDelta(t, 0.0, as.Entropy([]float64{1, 0, 0}), 1e-9)
	h := as.Entropy([]float64{0.5, 0.5, 0})
	assert.InDelta(t, math.Ln2/math.Log(3), h, 1e-6)
}
