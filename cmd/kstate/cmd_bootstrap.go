package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/source"
)

var bootstrapFlags struct {
	tenant    string
	course    string
	dir       string
	noEnqueue bool
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Import a course from CSV files and queue it for inference",
	Long: `Imports <kind>.csv files from --dir into the source database. Recognized kinds:
categories, enrollment, standards, edges, evidence, cpt. Missing files are skipped.

When no cpt.csv is present a synthetic noisy-average CPT is generated for the
imported categories (categories.csv is then required).`,
	RunE: runBootstrap,
}

func init() {
	f := bootstrapCmd.Flags()
	f.StringVar(&bootstrapFlags.tenant, "tenant", "", "tenant id (required)")
	f.StringVar(&bootstrapFlags.course, "course", "", "course id (required)")
	f.StringVar(&bootstrapFlags.dir, "dir", ".", "directory holding the CSV files")
	f.BoolVar(&bootstrapFlags.noEnqueue, "no-enqueue", false, "import only, do not queue a job")

	_ = bootstrapCmd.MarkFlagRequired("tenant")
	_ = bootstrapCmd.MarkFlagRequired("course")
}

// categories come first so the generated CPT knows k.
var importOrder = []source.Kind{
	source.KindCategories,
	source.KindEnrollment,
	source.KindStandards,
	source.KindEdges,
	source.KindEvidence,
	source.KindCPT,
}

func runBootstrap(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openSource(); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	counts := make(map[source.Kind]int)
	for _, kind := range importOrder {
		path := filepath.Join(bootstrapFlags.dir, string(kind)+".csv")
		n, err := importFile(e.src, kind, path)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(w, "%-11s skipped (no %s)\n", kind, filepath.Base(path))
			continue
		}
		if err != nil {
			return err
		}
		counts[kind] = n
		fmt.Fprintf(w, "%-11s %d rows\n", kind, n)
	}

	if _, ok := counts[source.KindCPT]; !ok {
		k, ok := counts[source.KindCategories]
		if !ok {
			return fmt.Errorf("no cpt.csv and no categories.csv: cannot generate a CPT")
		}
		rows := cpt.Generate(k, e.cfg.Bootstrap.MaxParents, e.cfg.Bootstrap.CPT)
		if _, err := cpt.NewRepository(k, rows); err != nil {
			return fmt.Errorf("generated cpt: %w", err)
		}
		if err := e.src.SetCPT(bootstrapFlags.tenant, rows); err != nil {
			return err
		}
		fmt.Fprintf(w, "%-11s %d rows generated (k=%d, up to %d parents)\n", source.KindCPT, len(rows), k, e.cfg.Bootstrap.MaxParents)
	}

	if bootstrapFlags.noEnqueue {
		return nil
	}
	if err := e.openState(); err != nil {
		return err
	}
	if err := e.jobs.Enqueue(bootstrapFlags.tenant, bootstrapFlags.course); err != nil {
		return err
	}
	fmt.Fprintf(w, "queued %s/%s\n", bootstrapFlags.tenant, bootstrapFlags.course)
	return nil
}

func importFile(src *source.SQLiteSource, kind source.Kind, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := src.Import(bootstrapFlags.tenant, bootstrapFlags.course, kind, f)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", path, err)
	}
	return n, nil
}
