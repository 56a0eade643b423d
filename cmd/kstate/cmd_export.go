package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/knowledge-state/internal/orchestrator"
	"github.com/danielpatrickdp/knowledge-state/internal/replay"
)

var exportFlags struct {
	tenant         string
	course         string
	out            string
	name           string
	withUnmeasured bool
}

var exportCmd = &cobra.Command{
	Use:   "export-fixture",
	Short: "Run a course without committing and write its inputs and estimates as a replay fixture",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.tenant, "tenant", "", "tenant id (required)")
	f.StringVar(&exportFlags.course, "course", "", "course id (required)")
	f.StringVarP(&exportFlags.out, "output", "o", "", "fixture path (required)")
	f.StringVar(&exportFlags.name, "name", "", "case name (default tenant/course)")
	f.BoolVar(&exportFlags.withUnmeasured, "with-unmeasured", false, "also pin UNMEASURED rows")

	_ = exportCmd.MarkFlagRequired("tenant")
	_ = exportCmd.MarkFlagRequired("course")
	_ = exportCmd.MarkFlagRequired("output")
}

func runExport(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openSource(); err != nil {
		return err
	}

	batch, err := e.src.Load(cmd.Context(), exportFlags.tenant, exportFlags.course)
	if err != nil {
		return err
	}
	out, err := orchestrator.New(e.cfg.Pipeline, e.log).Run(cmd.Context(), orchestrator.Input{Batch: batch})
	if err != nil {
		return err
	}
	if len(out.Failures) > 0 {
		e.log.Warn("exporting a run with failed cluster states", "failures", len(out.Failures))
	}

	name := exportFlags.name
	if name == "" {
		name = exportFlags.tenant + "/" + exportFlags.course
	}
	f := &replay.Fixture{
		Description: fmt.Sprintf("Exported from %s/%s as of %s", exportFlags.tenant, exportFlags.course, batch.AsOf.Format("2006-01-02")),
		Config: replay.FixtureConfig{
			SkipEmptyEvidence: e.cfg.Pipeline.SkipEmptyEvidence,
			DisableReductions: e.cfg.Pipeline.Reduce.Disabled,
		},
		Cases: []replay.FixtureCase{replay.NewCase(name, batch, out.Estimates, exportFlags.withUnmeasured)},
	}
	if err := replay.WriteFixture(exportFlags.out, f); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d expectations\n", exportFlags.out, len(f.Cases[0].Expected))
	return nil
}
