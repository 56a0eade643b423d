package evidence

import (
	"sort"

	"github.com/danielpatrickdp/knowledge-state/internal/graph"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
)

// #region state
// State is the wide evidentiary state: one cell per (student, vertex) holding the
// observed category or mastery.Unmeasured.
type State struct {
	arena    *graph.Arena
	students []string
	rows     map[string]int
	width    int
	cells    []int // row-major, students x arena vertices
	recs     []int // index into records, -1 when unmeasured
	records  []Record
}

// NewState builds the wide state for students over every vertex in arena. Records
// must already be reduced; records naming an unknown student or standard are skipped.
func NewState(arena *graph.Arena, students []string, records []Record, scale *mastery.Scale) *State {
	s := &State{
		arena:    arena,
		students: append([]string(nil), students...),
		rows:     make(map[string]int, len(students)),
		width:    arena.Len(),
	}
	for i, id := range s.students {
		s.rows[id] = i
	}
	n := len(s.students) * s.width
	s.cells = make([]int, n)
	s.recs = make([]int, n)
	for i := range s.cells {
		s.cells[i] = mastery.Unmeasured
		s.recs[i] = -1
	}
	for _, r := range records {
		row, ok := s.rows[r.StudentID]
		if !ok {
			continue
		}
		v, ok := arena.Index(r.StandardID)
		if !ok || v >= s.width {
			continue
		}
		s.records = append(s.records, r)
		at := row*s.width + v
		s.cells[at] = scale.Categorize(r.Score)
		s.recs[at] = len(s.records) - 1
	}
	return s
}

// #endregion state

// #region accessors
// Students returns the student ids in row order.
func (s *State) Students() []string {
	return s.students
}

// Student returns the id of row.
func (s *State) Student(row int) string {
	return s.students[row]
}

// Arena returns the vertex arena the state is indexed by.
func (s *State) Arena() *graph.Arena {
	return s.arena
}

// Category returns the observed category of (row, v), or mastery.Unmeasured.
func (s *State) Category(row, v int) int {
	if v < 0 || v >= s.width {
		return mastery.Unmeasured
	}
	return s.cells[row*s.width+v]
}

// Record returns the reduced record behind (row, v).
func (s *State) Record(row, v int) (Record, bool) {
	if v < 0 || v >= s.width {
		return Record{}, false
	}
	i := s.recs[row*s.width+v]
	if i < 0 {
		return Record{}, false
	}
	return s.records[i], true
}

// Seeds returns every vertex measured for at least one student, ascending.
func (s *State) Seeds() []int {
	seen := make([]bool, s.width)
	for i, c := range s.cells {
		if c != mastery.Unmeasured {
			seen[i%s.width] = true
		}
	}
	var out []int
	for v, ok := range seen {
		if ok {
			out = append(out, v)
		}
	}
	return out
}

// Measured reports whether any student has evidence on v.
func (s *State) Measured(v int) bool {
	if v < 0 || v >= s.width {
		return false
	}
	for row := range s.students {
		if s.cells[row*s.width+v] != mastery.Unmeasured {
			return true
		}
	}
	return false
}

// MeasuredSet returns the subset of vertices measured for any student.
func (s *State) MeasuredSet(vertices []int) map[int]bool {
	out := make(map[int]bool)
	for _, v := range vertices {
		if s.Measured(v) {
			out[v] = true
		}
	}
	return out
}

// #endregion accessors

func sortedCopy(vs []int) []int {
	out := append([]int(nil), vs...)
	sort.Ints(out)
	return out
}
