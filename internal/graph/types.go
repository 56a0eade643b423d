package graph

import "errors"

// #region errors
var (
	// ErrCycle is returned when progression edges do not form a DAG.
	ErrCycle = errors.New("progression graph contains a cycle")

	// ErrUnknownVertex is returned when a vertex id is not interned in the arena.
	ErrUnknownVertex = errors.New("unknown vertex")
)

// #endregion errors

// #region edge
// GraphType tags an edge as a prerequisite progression or a structural hierarchy link.
type GraphType string

const (
	Progression GraphType = "progression"
	Hierarchy   GraphType = "hierarchy"
)

// Edge is a directed link from a prerequisite (constituent) standard to its successor.
type Edge struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	Type GraphType `json:"type"`
}

// #endregion edge

// #region arena
// Arena interns learning-standard ids to dense vertex indexes shared by every
// subgraph cut from the same course graph.
type Arena struct {
	ids   []string
	index map[string]int
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{index: make(map[string]int)}
}

// Intern returns the index for id, assigning the next free index on first sight.
func (a *Arena) Intern(id string) int {
	if v, ok := a.index[id]; ok {
		return v
	}
	v := len(a.ids)
	a.ids = append(a.ids, id)
	a.index[id] = v
	return v
}

// Index looks up the vertex index of id.
func (a *Arena) Index(id string) (int, bool) {
	v, ok := a.index[id]
	return v, ok
}

// ID returns the standard id of vertex v.
func (a *Arena) ID(v int) string {
	if v < 0 || v >= len(a.ids) {
		return ""
	}
	return a.ids[v]
}

// Len is the number of interned vertices.
func (a *Arena) Len() int {
	return len(a.ids)
}

// #endregion arena
