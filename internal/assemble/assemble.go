// Package assemble merges per-cluster posteriors into one knowledge state per
// (student, standard).
package assemble

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/knowledge-state/internal/evidence"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
)

// #region types
// Tag says where an estimate came from.
type Tag string

const (
	Measured   Tag = "MEASURED"
	Estimated  Tag = "ESTIMATED"
	Unmeasured Tag = "UNMEASURED"
)

// UnmeasuredPrevision is the sentinel prevision for pairs without any estimate.
const UnmeasuredPrevision = -1.0

// Row is one knowledge-state estimate.
type Row struct {
	StudentID     string     `json:"student_id"`
	StandardID    string     `json:"standard_id"`
	Category      string     `json:"category"`
	CategoryIndex int        `json:"category_index"`
	Probabilities []float64  `json:"probabilities,omitempty"`
	Tag           Tag        `json:"tag"`
	Prevision     float64    `json:"prevision"`
	Deviation     float64    `json:"deviation"`
	EvidenceDate  *time.Time `json:"evidence_date,omitempty"`
	AsOf          time.Time  `json:"as_of"`
}

// Config tunes derived statistics.
type Config struct {
	EntropyFloor float64 `yaml:"entropy_floor" validate:"gt=0"`
}

// DefaultConfig returns a 1e-10 log floor.
func DefaultConfig() Config {
	return Config{EntropyFloor: 1e-10}
}

// #endregion types

// #region accumulator
type cell struct{ row, vertex int }

// Accumulator collects possibly overlapping posteriors and averages them. It is
// not safe for concurrent use.
type Accumulator struct {
	k      int
	sums   map[cell][]float64
	counts map[cell]int
}

// NewAccumulator creates an empty accumulator for k categories.
func NewAccumulator(k int) *Accumulator {
	return &Accumulator{k: k, sums: make(map[cell][]float64), counts: make(map[cell]int)}
}

// Add records one estimate of (row, vertex).
func (a *Accumulator) Add(row, vertex int, p []float64) {
	c := cell{row, vertex}
	s, ok := a.sums[c]
	if !ok {
		s = make([]float64, a.k)
		a.sums[c] = s
	}
	floats.Add(s, p)
	a.counts[c]++
}

// Mean returns the component-wise mean of every estimate of (row, vertex).
func (a *Accumulator) Mean(row, vertex int) ([]float64, bool) {
	c := cell{row, vertex}
	s, ok := a.sums[c]
	if !ok {
		return nil, false
	}
	out := append([]float64(nil), s...)
	floats.Scale(1/float64(a.counts[c]), out)
	return out, true
}

// Count is the number of estimates recorded for (row, vertex).
func (a *Accumulator) Count(row, vertex int) int {
	return a.counts[cell{row, vertex}]
}

// Len is the number of distinct (row, vertex) pairs.
func (a *Accumulator) Len() int {
	return len(a.sums)
}

// #endregion accumulator

// #region assembler
// Assembler turns accumulated posteriors into output rows.
type Assembler struct {
	config Config
	scale  *mastery.Scale
}

// New creates an Assembler.
func New(config Config, scale *mastery.Scale) *Assembler {
	return &Assembler{config: config, scale: scale}
}

// Assemble emits one row per student and scope vertex, ordered by student then
// standard id. Measured pairs always carry a point mass and their raw score as
// prevision; pairs with neither evidence nor estimate are UNMEASURED.
func (as *Assembler) Assemble(acc *Accumulator, st *evidence.State, scope []int, asOf time.Time) []Row {
	arena := st.Arena()
	vs := append([]int(nil), scope...)
	sort.Slice(vs, func(i, j int) bool { return arena.ID(vs[i]) < arena.ID(vs[j]) })

	order := make([]int, len(st.Students()))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return st.Student(order[i]) < st.Student(order[j]) })

	rows := make([]Row, 0, len(order)*len(vs))
	for _, r := range order {
		for _, v := range vs {
			rows = append(rows, as.row(acc, st, r, v, asOf))
		}
	}
	return rows
}

func (as *Assembler) row(acc *Accumulator, st *evidence.State, r, v int, asOf time.Time) Row {
	out := Row{
		StudentID:  st.Student(r),
		StandardID: st.Arena().ID(v),
		AsOf:       asOf,
	}
	if rec, ok := st.Record(r, v); ok {
		cat := st.Category(r, v)
		out.Tag = Measured
		out.Probabilities = as.scale.PointMass(cat)
		out.Prevision = rec.Score
		out.Deviation = as.Entropy(out.Probabilities)
		date := rec.Date
		out.EvidenceDate = &date
		out.CategoryIndex = as.scale.Categorize(out.Prevision)
		out.Category = as.scale.Name(out.CategoryIndex)
		return out
	}
	if p, ok := acc.Mean(r, v); ok {
		out.Tag = Estimated
		out.Probabilities = p
		out.Prevision = as.scale.Prevision(p)
		out.Deviation = as.Entropy(p)
		out.CategoryIndex = as.scale.Categorize(out.Prevision)
		out.Category = as.scale.Name(out.CategoryIndex)
		return out
	}
	out.Tag = Unmeasured
	out.Prevision = UnmeasuredPrevision
	out.Deviation = 1
	out.CategoryIndex = mastery.Unmeasured
	out.Category = mastery.UnmeasuredName
	return out
}

// Entropy is -sum p ln(p+floor) / ln k, clamped to [0, 1].
func (as *Assembler) Entropy(p []float64) float64 {
	if len(p) < 2 {
		return 0
	}
	h := 0.0
	for _, x := range p {
		h -= x * math.Log(x+as.config.EntropyFloor)
	}
	h /= math.Log(float64(len(p)))
	return math.Min(1, math.Max(0, h))
}

// #endregion assembler
