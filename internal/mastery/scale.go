package mastery

import (
	"fmt"
	"sort"
)

// #region scale
// Scale is an ordered, contiguous partition of the evidence scale.
type Scale struct {
	categories []Category
	midpoints  []float64
}

// NewScale sorts the categories by lower bound, assigns indexes and validates the partition.
func NewScale(categories []Category) (*Scale, error) {
	if len(categories) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 categories, got %d", ErrInvalidScale, len(categories))
	}
	cats := make([]Category, len(categories))
	copy(cats, categories)
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Low < cats[j].Low })

	seen := make(map[string]bool, len(cats))
	for i := range cats {
		c := &cats[i]
		if c.Name == "" || c.Name == UnmeasuredName {
			return nil, fmt.Errorf("%w: category %d has reserved or empty name %q", ErrInvalidScale, i, c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidScale, c.Name)
		}
		seen[c.Name] = true
		if c.High < c.Low {
			return nil, fmt.Errorf("%w: category %q has high %.4f below low %.4f", ErrInvalidScale, c.Name, c.High, c.Low)
		}
		if i > 0 {
			prev := cats[i-1]
			if prev.Low == c.Low || prev.High > c.Low {
				return nil, fmt.Errorf("%w: categories %q and %q overlap", ErrInvalidScale, prev.Name, c.Name)
			}
		}
		c.Index = i
	}

	mids := make([]float64, len(cats))
	for i, c := range cats {
		mids[i] = c.Midpoint()
	}
	return &Scale{categories: cats, midpoints: mids}, nil
}

// K is the number of network states.
func (s *Scale) K() int {
	return len(s.categories)
}

// Categories returns a copy of the ordered categories.
func (s *Scale) Categories() []Category {
	out := make([]Category, len(s.categories))
	copy(out, s.categories)
	return out
}

// Midpoints returns a copy of the category midpoints in index order.
func (s *Scale) Midpoints() []float64 {
	out := make([]float64, len(s.midpoints))
	copy(out, s.midpoints)
	return out
}

// #endregion scale

// #region partition
// Categorize maps a raw score to the last category whose lower bound does not exceed it.
// Scores below the first bound fall into category 0.
func (s *Scale) Categorize(score float64) int {
	i := sort.Search(len(s.categories), func(i int) bool { return s.categories[i].Low > score })
	if i == 0 {
		return 0
	}
	return i - 1
}

// Name returns the label for a category index, including the UNMEASURED sentinel.
func (s *Scale) Name(index int) string {
	if index < 0 || index >= len(s.categories) {
		return UnmeasuredName
	}
	return s.categories[index].Name
}

// Index looks a category up by label.
func (s *Scale) Index(name string) (int, bool) {
	if name == UnmeasuredName {
		return Unmeasured, true
	}
	for _, c := range s.categories {
		if c.Name == name {
			return c.Index, true
		}
	}
	return 0, false
}

// #endregion partition

// #region prevision
// Prevision is the probability-weighted mean of the category midpoints.
func (s *Scale) Prevision(p []float64) float64 {
	var sum float64
	for i, v := range p {
		if i < len(s.midpoints) {
			sum += v * s.midpoints[i]
		}
	}
	return sum
}

// PointMass returns the degenerate distribution placing all mass on category.
func (s *Scale) PointMass(category int) []float64 {
	p := make([]float64, len(s.categories))
	if category >= 0 && category < len(p) {
		p[category] = 1
	}
	return p
}

// #endregion prevision
