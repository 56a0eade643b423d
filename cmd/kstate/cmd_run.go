package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/knowledge-state/internal/decompose"
	"github.com/danielpatrickdp/knowledge-state/internal/orchestrator"
)

var runFlags struct {
	tenant  string
	course  string
	jsonOut bool
	dryRun  bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one batch for a course and commit it as the active run",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.tenant, "tenant", "", "tenant id (required)")
	f.StringVar(&runFlags.course, "course", "", "course id (required)")
	f.BoolVar(&runFlags.jsonOut, "json", false, "print run metrics as JSON")
	f.BoolVar(&runFlags.dryRun, "dry-run", false, "run without committing")

	_ = runCmd.MarkFlagRequired("tenant")
	_ = runCmd.MarkFlagRequired("course")
}

func runRun(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openSource(); err != nil {
		return err
	}
	if err := e.openState(); err != nil {
		return err
	}

	ctx := cmd.Context()
	batch, err := e.src.Load(ctx, runFlags.tenant, runFlags.course)
	if err != nil {
		return err
	}
	rec, err := e.store.NewRun(runFlags.tenant, runFlags.course, batch.AsOf)
	if err != nil {
		return err
	}
	orch := orchestrator.New(e.cfg.Pipeline, e.log)
	out, err := orch.Run(ctx, orchestrator.Input{RunID: rec.RunID, Batch: batch})
	if err != nil {
		return err
	}
	if !runFlags.dryRun {
		if err := orchestrator.Persist(e.store, rec, out); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if runFlags.jsonOut {
		return printJSON(w, out.Metrics())
	}
	printStats(cmd, out)
	return nil
}

func printStats(cmd *cobra.Command, out orchestrator.Output) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run:     %s\n", out.RunID)
	fmt.Fprintf(w, "Course:  %s/%s as of %s\n", out.TenantID, out.CourseID, out.AsOf.Format("2006-01-02"))

	s := out.Stats
	t := newTable(w, "Metric", "Value")
	t.AppendRow([]any{"students", s.Students})
	t.AppendRow([]any{"standards", s.Standards})
	t.AppendRow([]any{"records kept", fmt.Sprintf("%d of %d", s.Evidence.Kept, s.Evidence.Input)})
	t.AppendRow([]any{"neighborhood", s.Neighborhood})
	kinds := make([]decompose.Kind, 0, len(s.Clusters))
	for k := range s.Clusters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		t.AppendRow([]any{"clusters " + string(k), s.Clusters[k]})
	}
	t.AppendRow([]any{"cluster states", s.Tasks})
	t.AppendRow([]any{"skipped (no evidence)", s.Skipped})
	t.AppendRow([]any{"queries", s.Queries})
	t.AppendRow([]any{"unconverged", s.Unconverged})
	t.AppendRow([]any{"failures", s.Failures})
	t.AppendRow([]any{"estimates", len(out.Estimates)})
	t.AppendRow([]any{"elapsed", s.Elapsed.Round(time.Millisecond).String()})
	t.Render()

	e := newTable(w, "Check", "Value", "Pass")
	for _, m := range out.Eval.Metrics {
		e.AppendRow([]any{m.Name, fmt.Sprintf("%.6g", m.Value), m.Pass})
	}
	e.Render()
	if !out.Eval.Passed {
		fmt.Fprintf(w, "EVAL FAILED: %s\n", out.Eval.Reason)
	}
	for _, f := range out.Failures {
		fmt.Fprintf(w, "failed %s state %016x (%s): %v\n", f.ClusterKey, f.StateID, f.Stage, f.Err)
	}
}
