package mastery

import "errors"

// #region sentinel
// Unmeasured is the category index used where no direct evidence exists.
// It is never a Bayesian-network state.
const Unmeasured = -1

// UnmeasuredName is the label reported for Unmeasured.
const UnmeasuredName = "UNMEASURED"

// ErrInvalidScale is returned when a category partition is empty, unordered or overlapping.
var ErrInvalidScale = errors.New("invalid mastery scale")

// #endregion sentinel

// #region category
// Category is one named bin of the evidence scale.
type Category struct {
	Name  string  `json:"name" yaml:"name"`
	Index int     `json:"index" yaml:"-"`
	Low   float64 `json:"low" yaml:"low"`
	High  float64 `json:"high" yaml:"high"`
}

// Midpoint is the representative score of the bin.
func (c Category) Midpoint() float64 {
	return (c.Low + c.High) / 2
}

// #endregion category
