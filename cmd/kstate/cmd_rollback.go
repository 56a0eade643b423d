package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackFlags struct {
	tenant string
	course string
	run    string
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Make an earlier run the active run of a course",
	RunE:  runRollback,
}

func init() {
	f := rollbackCmd.Flags()
	f.StringVar(&rollbackFlags.tenant, "tenant", "", "tenant id (required)")
	f.StringVar(&rollbackFlags.course, "course", "", "course id (required)")
	f.StringVar(&rollbackFlags.run, "run", "", "target run id (required)")

	_ = rollbackCmd.MarkFlagRequired("tenant")
	_ = rollbackCmd.MarkFlagRequired("course")
	_ = rollbackCmd.MarkFlagRequired("run")
}

func runRollback(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openState(); err != nil {
		return err
	}
	if err := e.store.Rollback(rollbackFlags.tenant, rollbackFlags.course, rollbackFlags.run); err != nil {
		return err
	}
	e.log.Info("rolled back", "tenant_id", rollbackFlags.tenant, "course_id", rollbackFlags.course, "run_id", rollbackFlags.run)
	fmt.Fprintf(cmd.OutOrStdout(), "active run of %s/%s is now %s\n", rollbackFlags.tenant, rollbackFlags.course, rollbackFlags.run)
	return nil
}
