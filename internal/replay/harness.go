package replay

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/danielpatrickdp/knowledge-state/internal/assemble"
	"github.com/danielpatrickdp/knowledge-state/internal/orchestrator"
)

// #region types

// Action is the outcome of replaying one case.
type Action string

const (
	ActionMatch      Action = "match"
	ActionMismatch   Action = "mismatch"
	ActionEvalFailed Action = "eval_failed"
	ActionError      Action = "error"
)

// Mismatch is one expectation the replayed estimates did not meet.
type Mismatch struct {
	StudentID  string
	StandardID string
	Field      string // "row" | "category" | "tag" | "probabilities"
	Want       string
	Got        string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s/%s %s: want %s, got %s", m.StudentID, m.StandardID, m.Field, m.Want, m.Got)
}

// ReplayResult captures the outcome of replaying one case through the full pipeline.
type ReplayResult struct {
	Name       string
	Action     Action
	Reason     string
	Mismatches []Mismatch

	// nil when the batch aborted
	Output *orchestrator.Output
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalCases  int
	Matches     int
	Mismatches  int
	EvalFailed  int
	Errors      int
	Rows        int
	Failures    int
	Unconverged int
}

// #endregion types

// #region replay

// Replay runs every case through orch in order and checks its expectations. A
// case that aborts is reported as ActionError; the remaining cases still run.
// An eval failure is only reported when every expectation matched.
func Replay(ctx context.Context, orch *orchestrator.Orchestrator, cases []FixtureCase) []ReplayResult {
	results := make([]ReplayResult, 0, len(cases))
	for _, c := range cases {
		out, err := orch.Run(ctx, orchestrator.Input{Batch: c.Batch})
		if err != nil {
			results = append(results, ReplayResult{Name: c.Name, Action: ActionError, Reason: err.Error()})
			continue
		}

		res := ReplayResult{Name: c.Name, Output: &out}
		res.Mismatches = Check(out.Estimates, c.Expected)
		switch {
		case len(res.Mismatches) > 0:
			res.Action = ActionMismatch
			res.Reason = fmt.Sprintf("%d of %d expectations failed: %s",
				len(res.Mismatches), len(c.Expected), res.Mismatches[0])
		case !out.Eval.Passed:
			res.Action = ActionEvalFailed
			res.Reason = out.Eval.Reason
		default:
			res.Action = ActionMatch
		}
		results = append(results, res)
	}
	return results
}

// Check compares rows against expectations.
func Check(rows []assemble.Row, expected []Expectation) []Mismatch {
	type key struct{ student, standard string }
	index := make(map[key]assemble.Row, len(rows))
	for _, r := range rows {
		index[key{r.StudentID, r.StandardID}] = r
	}

	var out []Mismatch
	for _, e := range expected {
		miss := func(field, want, got string) {
			out = append(out, Mismatch{StudentID: e.StudentID, StandardID: e.StandardID, Field: field, Want: want, Got: got})
		}
		r, ok := index[key{e.StudentID, e.StandardID}]
		if !ok {
			miss("row", "present", "absent")
			continue
		}
		if r.Category != e.Category {
			miss("category", e.Category, r.Category)
		}
		if e.Tag != "" && r.Tag != e.Tag {
			miss("tag", string(e.Tag), string(r.Tag))
		}
		if len(e.Probabilities) > 0 {
			tol := e.Tolerance
			if tol <= 0 {
				tol = DefaultTolerance
			}
			if !within(e.Probabilities, r.Probabilities, tol) {
				miss("probabilities", vector(e.Probabilities), vector(r.Probabilities))
			}
		}
	}
	return out
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalCases: len(results)}
	for _, r := range results {
		switch r.Action {
		case ActionMatch:
			s.Matches++
		case ActionMismatch:
			s.Mismatches++
		case ActionEvalFailed:
			s.EvalFailed++
		case ActionError:
			s.Errors++
		}
		if r.Output != nil {
			s.Rows += len(r.Output.Estimates)
			s.Failures += r.Output.Stats.Failures
			s.Unconverged += r.Output.Stats.Unconverged
		}
	}
	return s
}

// #endregion replay

// #region helpers

func within(want, got []float64, tol float64) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > tol {
			return false
		}
	}
	return true
}

func vector(p []float64) string {
	parts := make([]string, len(p))
	for i, x := range p {
		parts[i] = fmt.Sprintf("%.6f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// #endregion helpers
