package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/knowledge-state/internal/assemble"
	"github.com/danielpatrickdp/knowledge-state/internal/orchestrator"
	"github.com/danielpatrickdp/knowledge-state/internal/source"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string        `json:"description"`
	Config      FixtureConfig `json:"config"`
	Cases       []FixtureCase `json:"cases"`
}

// FixtureConfig overrides the pipeline defaults for a replay run. Zero values
// keep the default.
type FixtureConfig struct {
	Workers           int  `json:"workers,omitempty"`
	Radius            int  `json:"radius,omitempty"`
	HighValenceDegree int  `json:"high_valence_degree,omitempty"`
	SkipEmptyEvidence bool `json:"skip_empty_evidence,omitempty"`
	DisableReductions bool `json:"disable_reductions,omitempty"`
}

// FixtureCase is one batch and the estimates it must produce.
type FixtureCase struct {
	Name     string        `json:"name"`
	Batch    source.Batch  `json:"batch"`
	Expected []Expectation `json:"expected"`
}

// Expectation pins one (student, standard) estimate. Probabilities are only
// compared when present; Tolerance defaults to DefaultTolerance.
type Expectation struct {
	StudentID     string       `json:"student_id"`
	StandardID    string       `json:"standard_id"`
	Category      string       `json:"category"`
	Tag           assemble.Tag `json:"tag,omitempty"`
	Probabilities []float64    `json:"probabilities,omitempty"`
	Tolerance     float64      `json:"tolerance,omitempty"`
}

// DefaultTolerance is the absolute per-category probability tolerance.
const DefaultTolerance = 1e-6

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// Apply returns base with the fixture's overrides.
func (fc FixtureConfig) Apply(base orchestrator.Config) orchestrator.Config {
	if fc.Workers > 0 {
		base.Workers = fc.Workers
	}
	if fc.Radius > 0 {
		base.Decompose.Radius = fc.Radius
	}
	if fc.HighValenceDegree > 0 {
		base.Decompose.HighValenceDegree = fc.HighValenceDegree
	}
	base.SkipEmptyEvidence = base.SkipEmptyEvidence || fc.SkipEmptyEvidence
	base.Reduce.Disabled = base.Reduce.Disabled || fc.DisableReductions
	return base
}

// #endregion fixture-loader

// #region fixture-export

// NewCase captures a batch and the estimates it produced as a regression case.
// Unmeasured rows are left out unless withUnmeasured is set.
func NewCase(name string, b source.Batch, rows []assemble.Row, withUnmeasured bool) FixtureCase {
	c := FixtureCase{Name: name, Batch: b}
	for _, r := range rows {
		if r.Tag == assemble.Unmeasured && !withUnmeasured {
			continue
		}
		c.Expected = append(c.Expected, Expectation{
			StudentID:     r.StudentID,
			StandardID:    r.StandardID,
			Category:      r.Category,
			Tag:           r.Tag,
			Probabilities: r.Probabilities,
		})
	}
	return c
}

// #endregion fixture-export
