package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/knowledge-state/internal/orchestrator"
	"github.com/danielpatrickdp/knowledge-state/internal/replay"
)

var replayFlags struct {
	fixture string
	verbose bool
	jsonOut bool
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a JSON fixture and compare estimates with its expectations",
	RunE:  runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayFlags.fixture, "fixture", "f", "", "fixture path (required)")
	f.BoolVarP(&replayFlags.verbose, "verbose", "v", false, "list every mismatch")
	f.BoolVar(&replayFlags.jsonOut, "json", false, "print the summary as JSON")

	_ = replayCmd.MarkFlagRequired("fixture")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	fx, err := replay.LoadFixture(replayFlags.fixture)
	if err != nil {
		return err
	}
	orch := orchestrator.New(fx.Config.Apply(e.cfg.Pipeline), e.log)
	results := replay.Replay(cmd.Context(), orch, fx.Cases)
	summary := replay.Summarize(results)

	w := cmd.OutOrStdout()
	if replayFlags.jsonOut {
		if err := printJSON(w, summary); err != nil {
			return err
		}
	} else {
		if fx.Description != "" {
			fmt.Fprintln(w, fx.Description)
		}
		t := newTable(w, "Case", "Action", "Rows", "Failures", "Reason")
		for _, r := range results {
			rows, failures := 0, 0
			if r.Output != nil {
				rows, failures = len(r.Output.Estimates), r.Output.Stats.Failures
			}
			t.AppendRow([]any{r.Name, r.Action, rows, failures, r.Reason})
		}
		t.AppendFooter([]any{"total", fmt.Sprintf("%d/%d match", summary.Matches, summary.TotalCases), summary.Rows, summary.Failures, ""})
		t.Render()
		if replayFlags.verbose {
			for _, r := range results {
				for _, m := range r.Mismatches {
					fmt.Fprintf(w, "%s: %s\n", r.Name, m)
				}
			}
		}
	}

	if summary.Mismatches > 0 || summary.Errors > 0 {
		return fmt.Errorf("replay: %d mismatched, %d errored of %d cases", summary.Mismatches, summary.Errors, summary.TotalCases)
	}
	return nil
}
