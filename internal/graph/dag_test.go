package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, ids ...string) *DAG {
	t.Helper()
	var edges []Edge
	for i := 0; i+1 < len(ids); i++ {
		edges = append(edges, Edge{From: ids[i], To: ids[i+1], Type: Progression})
	}
	d, err := Build(ids, edges)
	require.NoError(t, err)
	return d
}

func idx(t *testing.T, d *DAG, ids ...string) []int {
	t.Helper()
	out := make([]int, len(ids))
	for i, id := range ids {
		v, ok := d.Arena().Index(id)
		require.True(t, ok, "vertex %s", id)
		out[i] = v
	}
	return out
}

func TestBuildIgnoresHierarchyAndKeepsIsolated(t *testing.T) {
	d, err := Build([]string{"a", "b", "lonely"}, []Edge{
		{From: "a", To: "b", Type: Progression},
		{From: "b", To: "a", Type: Hierarchy},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Order())
	assert.Equal(t, 1, d.Size())
	v := idx(t, d, "lonely")[0]
	assert.Equal(t, 0, d.Degree(v))
}

func TestBuildRejectsSelfLoop(t *testing.T) {
	_, err := Build(nil, []Edge{{From: "a", To: "a"}})
	require.ErrorIs(t, err, ErrCycle)
}

func TestParentsChildrenDegree(t *testing.T) {
	d, err := Build(nil, []Edge{
		{From: "p1", To: "c"}, {From: "p2", To: "c"}, {From: "c", To: "g"},
	})
	require.NoError(t, err)
	v := idx(t, d, "p1", "p2", "c", "g")
	assert.Equal(t, []int{v[0], v[1]}, d.Parents(v[2]))
	assert.Equal(t, []int{v[3]}, d.Children(v[2]))
	assert.Equal(t, 3, d.Degree(v[2]))
	assert.ElementsMatch(t, []int{v[0], v[1]}, d.Roots())
	assert.True(t, d.IsRoot(v[0]))
	assert.False(t, d.IsRoot(v[3]))
}

func TestWithinAndNeighborhood(t *testing.T) {
	d := chain(t, "a", "b", "c", "d", "e", "f")
	v := idx(t, d, "a", "b", "c", "d", "e", "f")

	assert.Equal(t, []int{v[0], v[1], v[2], v[3], v[4]}, d.Within(v[2], 2))
	assert.Equal(t, []int{v[4], v[5]}, d.Within(v[5], 1))

	n := d.Neighborhood([]int{v[0]}, 2)
	assert.Equal(t, []int{v[0], v[1], v[2]}, n.Vertices())
	assert.Equal(t, 2, n.Size())

	n = d.Neighborhood([]int{v[0], v[5]}, 1)
	assert.Equal(t, []int{v[0], v[1], v[4], v[5]}, n.Vertices())
	assert.Len(t, n.Components(), 2)
}

func TestNeighborhoodRespectsDirectionAgnosticDistance(t *testing.T) {
	// c is reached upward from the seed through b
	d, err := Build(nil, []Edge{{From: "c", To: "b"}, {From: "b", To: "seed"}, {From: "x", To: "c"}})
	require.NoError(t, err)
	v := idx(t, d, "seed", "b", "c", "x")
	n := d.Neighborhood([]int{v[0]}, 2)
	assert.True(t, n.Has(v[2]))
	assert.False(t, n.Has(v[3]))
}

func TestInducedWithoutUnion(t *testing.T) {
	d := chain(t, "a", "b", "c", "d")
	v := idx(t, d, "a", "b", "c", "d")

	w := d.Without([]int{v[1]})
	assert.Equal(t, 3, w.Order())
	assert.Equal(t, 1, w.Size())
	assert.Len(t, w.Components(), 2)

	u := d.Induced([]int{v[0], v[1]}).Union(d.Induced([]int{v[2], v[3]}))
	assert.Equal(t, 4, u.Order())
	assert.Equal(t, 2, u.Size())

	// source unchanged
	assert.Equal(t, 3, d.Size())
}

func TestDiameter(t *testing.T) {
	assert.Equal(t, 4, chain(t, "a", "b", "c", "d", "e").Diameter())

	star, err := Build(nil, []Edge{{From: "h", To: "x"}, {From: "h", To: "y"}, {From: "z", To: "h"}})
	require.NoError(t, err)
	assert.Equal(t, 2, star.Diameter())
}

func TestTopoOrderStable(t *testing.T) {
	d, err := Build([]string{"r1", "r2", "c"}, []Edge{{From: "r2", To: "c"}, {From: "r1", To: "c"}})
	require.NoError(t, err)
	order, err := d.TopoOrder()
	require.NoError(t, err)
	v := idx(t, d, "r1", "r2", "c")
	assert.Equal(t, v, order)
}

func TestEdgesSorted(t *testing.T) {
	d, err := Build(nil, []Edge{{From: "b", To: "c"}, {From: "a", To: "c"}, {From: "a", To: "b"}})
	require.NoError(t, err)
	v := idx(t, d, "b", "c", "a")
	assert.Equal(t, [][2]int{{v[0], v[1]}, {v[2], v[0]}, {v[2], v[1]}}, d.Edges())
}

func TestPathTo(t *testing.T) {
	d, err := Build([]string{"island"}, []Edge{{From: "a", To: "b"}, {From: "c", To: "b"}, {From: "c", To: "d"}})
	require.NoError(t, err)
	v := idx(t, d, "a", "b", "c", "d", "island")

	path := d.PathTo(v[0], func(u int) bool { return u == v[3] })
	assert.Equal(t, []int{v[0], v[1], v[2], v[3]}, path)
	assert.Equal(t, []int{v[2]}, d.PathTo(v[2], func(u int) bool { return u == v[2] }))
	assert.Nil(t, d.PathTo(v[4], func(u int) bool { return u == v[0] }))
}
