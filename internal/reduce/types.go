package reduce

import (
	"time"

	"github.com/danielpatrickdp/knowledge-state/internal/bayesnet"
)

// #region path
// Path names how a cluster state was solved.
type Path string

const (
	PathObserved       Path = "observed"        // every vertex measured, no query
	PathDirect         Path = "direct"          // plain query on the cluster
	PathSeparation     Path = "separation"      // independent queries per coupled component
	PathRootEvidence   Path = "root-evidence"   // quiescent unit roots removed
	PathIdenticalRoots Path = "identical-roots" // shared-child roots summed out and recovered
)

// #endregion path

// #region config
// Config bounds the hand-rolled reductions.
type Config struct {
	MaxReducedCells int  `yaml:"max_reduced_cells" validate:"gt=0"` // largest summed-out family table
	Disabled        bool `yaml:"disabled"`                          // always query directly
}

// DefaultConfig returns a 64K-cell family budget.
func DefaultConfig() Config {
	return Config{MaxReducedCells: 1 << 16}
}

// #endregion config

// #region outcome
// Query describes one network query issued while solving a cluster state.
type Query struct {
	Path      Path
	Approach  string
	Reason    string
	Order     int
	Edges     int
	Measured  int
	Estimated int
	Elapsed   time.Duration
	Converged bool
}

// Outcome is the posterior of every cluster vertex plus the queries that produced it.
// Measured vertices carry point masses.
type Outcome struct {
	Path      Path
	Posterior bayesnet.Posterior
	Queries   []Query
}

// #endregion outcome
