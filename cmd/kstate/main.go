// kstate estimates per-student knowledge states over a course's learning
// progression and stores them as versioned runs.
//
// Usage:
//
//	kstate bootstrap --tenant=<id> --course=<id> --dir=<csv dir>
//	kstate run --tenant=<id> --course=<id> [--json]
//	kstate inspect --tenant=<id> --course=<id> [--run=<id>] [--student=<id>]
//	kstate rollback --tenant=<id> --course=<id> --run=<id>
//	kstate export-fixture --tenant=<id> --course=<id> -o <fixture.json>
//	kstate replay -f <fixture.json>
//	kstate serve [--enqueue-all]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kstate",
	Short: "Group knowledge-state inference over learning progressions",
	Long: "kstate reduces assessment evidence, decomposes the course progression graph\n" +
		"into clusters, queries a Bayesian network per evidentiary state and writes\n" +
		"one knowledge state per enrolled student and standard.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("KSTATE_CONFIG"), "YAML config file")
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
