package evidence

import (
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/knowledge-state/internal/graph"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
)

func day(d int) time.Time {
	return time.Date(2025, time.September, d, 0, 0, 0, 0, time.UTC)
}

func twoBand(t *testing.T) *mastery.Scale {
	t.Helper()
	s, err := mastery.NewScale([]mastery.Category{
		{Name: "LOW", Low: 0, High: 50},
		{Name: "HIGH", Low: 50, High: 100},
	})
	require.NoError(t, err)
	return s
}

// #region reduce
func TestReduce_LatestWinsWeakestOnTie(t *testing.T) {
	recs := []Record{
		{StudentID: "s1", StandardID: "A", Score: 90, Date: day(1)},
		{StudentID: "s1", StandardID: "A", Score: 40, Date: day(3)},
		{StudentID: "s1", StandardID: "A", Score: 70, Date: day(3)},
		{StudentID: "s1", StandardID: "B", Score: 80, Date: day(2)},
		{StudentID: "s1", StandardID: "B", Score: 60, Date: day(2)},
		{StudentID: "s1", StandardID: "Z", Score: 60, Date: day(2)},
		{StudentID: "ghost", StandardID: "A", Score: 60, Date: day(2)},
	}
	out, rep := Reduce(recs, []string{"s1"}, []string{"A", "B"})
	require.Len(t, out, 2)
	assert.Equal(t, 40.0, out[0].Score)
	assert.Equal(t, "A", out[0].StandardID)
	assert.Equal(t, 60.0, out[1].Score)
	assert.Equal(t, Report{Input: 7, Kept: 2, Superseded: 3, OutOfScope: 1, Unenrolled: 1}, rep)
}

func TestReduce_NilScopeKeepsEverything(t *testing.T) {
	out, rep := Reduce([]Record{
		{StudentID: "s2", StandardID: "X", Score: 1, Date: day(1)},
		{StudentID: "s1", StandardID: "Y", Score: 1, Date: day(1)},
	}, nil, nil)
	require.Len(t, out, 2)
	assert.Equal(t, "s1", out[0].StudentID)
	assert.Zero(t, rep.OutOfScope+rep.Unenrolled)
}

// #endregion reduce

// #region grouping
func fixture(t *testing.T) (*State, []int) {
	t.Helper()
	arena := graph.NewArena()
	a, b, c := arena.Intern("A"), arena.Intern("B"), arena.Intern("C")
	recs := []Record{
		{StudentID: "s1", StandardID: "A", Score: 10, Date: day(1)},
		{StudentID: "s2", StandardID: "A", Score: 20, Date: day(1)},
		{StudentID: "s3", StandardID: "A", Score: 90, Date: day(1)},
		{StudentID: "s4", StandardID: "A", Score: 15, Date: day(1)},
		{StudentID: "s4", StandardID: "B", Score: 15, Date: day(1)},
	}
	st := NewState(arena, []string{"s1", "s2", "s3", "s4", "s5"}, recs, twoBand(t))
	return st, []int{a, b, c}
}

func TestStateCells(t *testing.T) {
	st, v := fixture(t)
	assert.Equal(t, 0, st.Category(0, v[0]))
	assert.Equal(t, 1, st.Category(2, v[0]))
	assert.Equal(t, mastery.Unmeasured, st.Category(0, v[1]))
	assert.Equal(t, []int{v[0], v[1]}, st.Seeds())
	assert.False(t, st.Measured(v[2]))

	r, ok := st.Record(3, v[1])
	require.True(t, ok)
	assert.Equal(t, "s4", r.StudentID)
	_, ok = st.Record(4, v[0])
	assert.False(t, ok)
}

func TestProfiles(t *testing.T) {
	st, v := fixture(t)
	ps := st.Profiles(v)
	require.Len(t, ps, 3)
	assert.Equal(t, "100", ps[0].Key)
	assert.Equal(t, []int{0, 1, 2}, ps[0].Students)
	assert.Equal(t, []int{v[0]}, ps[0].Measured)
	assert.Equal(t, "110", ps[1].Key)
	assert.Equal(t, "000", ps[2].Key)
	assert.Empty(t, ps[2].Measured)
}

func TestStatesDeduplicate(t *testing.T) {
	st, v := fixture(t)
	gs := st.States(st.Profiles(v)[0])
	require.Len(t, gs, 2)
	assert.Equal(t, []int{0, 1}, gs[0].Students)
	assert.Equal(t, map[int]int{v[0]: 0}, gs[0].Evidence)
	assert.Equal(t, []int{2}, gs[1].Students)
	assert.Equal(t, xxhash.Sum64String(gs[1].Key), gs[1].ID)
	assert.NotEqual(t, gs[0].ID, gs[1].ID)
}

func TestGroupsCountBoundedByStudents(t *testing.T) {
	st, v := fixture(t)
	gs := st.Groups(v)
	assert.Len(t, gs, 4)
	seen := 0
	for _, g := range gs {
		seen += len(g.Students)
	}
	assert.Equal(t, 5, seen)

	// restricting to C collapses everyone into one empty-evidence group
	gs = st.Groups([]int{v[2]})
	require.Len(t, gs, 1)
	assert.Empty(t, gs[0].Evidence)
}

// #endregion grouping
