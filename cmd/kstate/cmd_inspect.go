package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/knowledge-state/internal/assemble"
	"github.com/danielpatrickdp/knowledge-state/internal/logging"
	"github.com/danielpatrickdp/knowledge-state/internal/orchestrator"
	"github.com/danielpatrickdp/knowledge-state/internal/state"
)

var inspectFlags struct {
	tenant      string
	course      string
	run         string
	student     string
	last        int
	diagnostics bool
	jsonOut     bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List runs of a course, or show the estimates of one run",
	Long: "Without --run, lists the most recent runs of the course and marks the active one.\n" +
		"With --run (or --run=active), prints that run's knowledge states.",
	RunE: runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&inspectFlags.tenant, "tenant", "", "tenant id (required)")
	f.StringVar(&inspectFlags.course, "course", "", "course id (required)")
	f.StringVar(&inspectFlags.run, "run", "", "run id, or \"active\"")
	f.StringVar(&inspectFlags.student, "student", "", "filter estimates to one student")
	f.IntVar(&inspectFlags.last, "last", 20, "show N most recent runs")
	f.BoolVar(&inspectFlags.diagnostics, "diagnostics", false, "show query diagnostics instead of estimates")
	f.BoolVar(&inspectFlags.jsonOut, "json", false, "output as JSON instead of table")

	_ = inspectCmd.MarkFlagRequired("tenant")
	_ = inspectCmd.MarkFlagRequired("course")
}

func runInspect(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openState(); err != nil {
		return err
	}

	if inspectFlags.run == "" {
		return listRuns(cmd, e.store)
	}
	runID := inspectFlags.run
	if runID == "active" {
		rec, err := e.store.GetActive(inspectFlags.tenant, inspectFlags.course)
		if err != nil {
			return err
		}
		runID = rec.RunID
	}
	if inspectFlags.diagnostics {
		return showDiagnostics(cmd, e.store, runID)
	}
	return showRun(cmd, e.store, runID)
}

// #region list-mode

type runRow struct {
	RunID     string                   `json:"run_id"`
	ParentID  string                   `json:"parent_id,omitempty"`
	Active    bool                     `json:"active"`
	AsOf      string                   `json:"as_of"`
	CreatedAt string                   `json:"created_at"`
	Rows      int                      `json:"rows"`
	Metrics   *orchestrator.RunMetrics `json:"metrics,omitempty"`
}

func listRuns(cmd *cobra.Command, store *state.Store) error {
	runs, err := store.ListRuns(inspectFlags.tenant, inspectFlags.course, inspectFlags.last)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no runs found")
		return nil
	}
	activeID := ""
	active, err := store.GetActive(inspectFlags.tenant, inspectFlags.course)
	switch {
	case err == nil:
		activeID = active.RunID
	case !errors.Is(err, state.ErrNoActiveRun):
		return err
	}

	rows := make([]runRow, len(runs))
	for i, r := range runs {
		rows[i] = runRow{
			RunID:     r.RunID,
			ParentID:  r.ParentID,
			Active:    r.RunID == activeID,
			AsOf:      r.AsOf.Format("2006-01-02"),
			CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z"),
			Rows:      r.Rows,
		}
		var m orchestrator.RunMetrics
		if r.MetricsJSON != "" && json.Unmarshal([]byte(r.MetricsJSON), &m) == nil {
			rows[i].Metrics = &m
		}
	}
	if inspectFlags.jsonOut {
		return printJSON(w, rows)
	}

	t := newTable(w, "", "Run", "Parent", "As of", "Created", "Rows", "States", "Failures", "Eval")
	for _, r := range rows {
		mark := ""
		if r.Active {
			mark = "*"
		}
		states, failures, eval := "-", "-", "-"
		if r.Metrics != nil {
			states = fmt.Sprint(r.Metrics.Stats.Tasks)
			failures = fmt.Sprint(r.Metrics.Stats.Failures)
			eval = "pass"
			if !r.Metrics.Eval.Passed {
				eval = "FAIL"
			}
		}
		t.AppendRow([]any{mark, shortID(r.RunID), shortID(r.ParentID), r.AsOf, r.CreatedAt, r.Rows, states, failures, eval})
	}
	t.Render()
	return nil
}

// #endregion list-mode

// #region detail-mode

func showRun(cmd *cobra.Command, store *state.Store, runID string) error {
	rows, err := store.Rows(runID)
	if err != nil {
		return err
	}
	if inspectFlags.student != "" {
		kept := rows[:0]
		for _, r := range rows {
			if r.StudentID == inspectFlags.student {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	w := cmd.OutOrStdout()
	if inspectFlags.jsonOut {
		return printJSON(w, rows)
	}

	t := newTable(w, "Student", "Standard", "Category", "Tag", "Prevision", "Deviation", "Probabilities")
	for _, r := range rows {
		t.AppendRow([]any{r.StudentID, r.StandardID, r.Category, r.Tag, previsionCell(r), fmt.Sprintf("%.3f", r.Deviation), probabilities(r.Probabilities)})
	}
	t.AppendFooter([]any{"", "", "", "", "", "rows", len(rows)})
	t.Render()
	return nil
}

func showDiagnostics(cmd *cobra.Command, store *state.Store, runID string) error {
	diags, err := logging.ListQueries(store.DB(), runID)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if inspectFlags.jsonOut {
		return printJSON(w, diags)
	}
	t := newTable(w, "Cluster", "State", "Path", "Approach", "Order", "Edges", "Measured", "Students", "Elapsed")
	for _, d := range diags {
		t.AppendRow([]any{d.ClusterKey, fmt.Sprintf("%016x", d.StateID), d.Path, d.Approach, d.Order, d.Edges, d.Measured, d.Students, d.Elapsed})
	}
	t.Render()
	return nil
}

func previsionCell(r assemble.Row) string {
	if r.Tag == assemble.Unmeasured {
		return "-"
	}
	return fmt.Sprintf("%.3f", r.Prevision)
}

func probabilities(p []float64) string {
	parts := make([]string, len(p))
	for i, x := range p {
		parts[i] = fmt.Sprintf("%.3f", x)
	}
	return strings.Join(parts, " ")
}

// #endregion detail-mode
