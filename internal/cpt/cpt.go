// Package cpt holds the canonical conditional probability tables shared by every
// vertex with the same number of prerequisite parents.
package cpt

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// #region errors
var (
	// ErrMissingEntry is returned when a table for a parent count is absent or incomplete.
	ErrMissingEntry = errors.New("missing CPT entry")

	// ErrNotNormalized is returned when a conditional row is too far from summing to 1.
	ErrNotNormalized = errors.New("CPT row not normalized")

	// ErrInvalidRow is returned for rows outside the table layout.
	ErrInvalidRow = errors.New("invalid CPT row")
)

// #endregion errors

// NormTolerance is the largest row-sum deviation that is silently renormalized.
const NormTolerance = 1e-3

// #region row
// Row is one input cell. Cell indexes a table of k^(Parents+1) cells laid out as
// parentAssignment*k + childState, first parent most significant.
type Row struct {
	Parents     int     `json:"constituent_count" yaml:"constituent_count"`
	Cell        int     `json:"cell_index" yaml:"cell_index"`
	Probability float64 `json:"probability" yaml:"probability"`
	Root        bool    `json:"is_root" yaml:"is_root"`
}

// #endregion row

// #region repository
// Repository owns the per-parent-count tables. It is read-only after construction
// and safe for concurrent use.
type Repository struct {
	k       int
	tables  map[int][]float64
	missing map[int][]int
}

// Cells is the table size k^(n+1) for k categories and n parents, saturating at
// math.MaxInt.
func Cells(k, n int) int {
	c := k
	for i := 0; i < n; i++ {
		if c > math.MaxInt/k {
			return math.MaxInt
		}
		c *= k
	}
	return c
}

// NewRepository validates rows and builds tables. Incomplete tables are kept aside
// and only fail when a network asks for that parent count.
func NewRepository(k int, rows []Row) (*Repository, error) {
	if k < 2 {
		return nil, fmt.Errorf("%w: k=%d", ErrInvalidRow, k)
	}
	raw := make(map[int]map[int]float64)
	for _, r := range rows {
		n := r.Parents
		if r.Root {
			n = 0
		}
		if n < 0 || r.Cell < 0 || r.Cell >= Cells(k, n) {
			return nil, fmt.Errorf("%w: parents=%d cell=%d", ErrInvalidRow, n, r.Cell)
		}
		if r.Probability < 0 || math.IsNaN(r.Probability) {
			return nil, fmt.Errorf("%w: parents=%d cell=%d probability=%v", ErrInvalidRow, n, r.Cell, r.Probability)
		}
		if raw[n] == nil {
			raw[n] = make(map[int]float64)
		}
		if _, dup := raw[n][r.Cell]; dup {
			return nil, fmt.Errorf("%w: duplicate parents=%d cell=%d", ErrInvalidRow, n, r.Cell)
		}
		raw[n][r.Cell] = r.Probability
	}

	repo := &Repository{k: k, tables: make(map[int][]float64), missing: make(map[int][]int)}
	for n, cells := range raw {
		size := Cells(k, n)
		table := make([]float64, size)
		var missing []int
		for c := 0; c < size; c++ {
			p, ok := cells[c]
			if !ok {
				missing = append(missing, c)
				continue
			}
			table[c] = p
		}
		if len(missing) > 0 {
			repo.missing[n] = missing
			continue
		}
		if err := normalizeRows(table, k); err != nil {
			return nil, fmt.Errorf("parents=%d: %w", n, err)
		}
		repo.tables[n] = table
	}
	return repo, nil
}

func normalizeRows(table []float64, k int) error {
	for at := 0; at < len(table); at += k {
		row := table[at : at+k]
		sum := floats.Sum(row)
		if math.Abs(sum-1) > NormTolerance {
			return fmt.Errorf("%w: row %d sums to %.6f", ErrNotNormalized, at/k, sum)
		}
		floats.Scale(1/sum, row)
	}
	return nil
}

// #endregion repository

// #region lookup
// K is the number of mastery categories.
func (r *Repository) K() int {
	return r.k
}

// Table returns the full table for n parents. The slice must not be modified.
func (r *Repository) Table(n int) ([]float64, error) {
	if t, ok := r.tables[n]; ok {
		return t, nil
	}
	if m, ok := r.missing[n]; ok {
		return nil, fmt.Errorf("%w: parents=%d cells %v", ErrMissingEntry, n, head(m, 8))
	}
	return nil, fmt.Errorf("%w: parents=%d", ErrMissingEntry, n)
}

// Lookup returns one cell.
func (r *Repository) Lookup(n, cell int) (float64, error) {
	t, err := r.Table(n)
	if err != nil {
		return 0, err
	}
	if cell < 0 || cell >= len(t) {
		return 0, fmt.Errorf("%w: parents=%d cell=%d", ErrMissingEntry, n, cell)
	}
	return t[cell], nil
}

// Prior returns the root distribution.
func (r *Repository) Prior() ([]float64, error) {
	return r.Table(0)
}

// ParentCounts lists the parent counts with complete tables, ascending.
func (r *Repository) ParentCounts() []int {
	out := make([]int, 0, len(r.tables))
	for n := range r.tables {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Rows flattens the repository back to input rows, for fixtures and bootstrap.
func (r *Repository) Rows() []Row {
	var out []Row
	for _, n := range r.ParentCounts() {
		for c, p := range r.tables[n] {
			out = append(out, Row{Parents: n, Cell: c, Probability: p, Root: n == 0})
		}
	}
	return out
}

func head(xs []int, n int) []int {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

// #endregion lookup
