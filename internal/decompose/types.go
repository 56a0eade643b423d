package decompose

import (
	"github.com/danielpatrickdp/knowledge-state/internal/gate"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
)

// #region config
// Config holds the decomposition thresholds. They are empirical and meant to be
// tuned per deployment.
type Config struct {
	Radius              int `yaml:"radius" validate:"gte=1"`                // neighborhood radius around seeds
	HighValenceDegree   int `yaml:"high_valence_degree" validate:"gte=2"`   // degree at which a vertex is split out
	StarMaxPredecessors int `yaml:"star_max_predecessors" validate:"gte=1"` // predecessors allowed in a star ego graph
	SimpleMaxOrder      int `yaml:"simple_max_order" validate:"gte=1"`      // order of a non-complex cluster
	PruneDiameter       int `yaml:"prune_diameter" validate:"gte=1"`        // extended diameter that triggers pruning
	MergeMaxEdgeDiff    int `yaml:"merge_max_edge_diff" validate:"gte=0"`   // edge-set difference merged as duplicate
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Radius:              2,
		HighValenceDegree:   6,
		StarMaxPredecessors: 9,
		SimpleMaxOrder:      12,
		PruneDiameter:       4,
		MergeMaxEdgeDiff:    2,
	}
}

// #endregion config

// #region cluster
// Kind records how a cluster was produced.
type Kind string

const (
	KindBase     Kind = "base"     // residual component, measurement-extended
	KindStar     Kind = "star"     // ego graph of a high-valence vertex
	KindIsolated Kind = "isolated" // measured vertex with no edges in range
)

// Cluster is one independently queried subgraph.
type Cluster struct {
	Key    string
	Kind   Kind
	Graph  *graph.DAG
	Star   bool // predecessor count of the center within the star limit
	Simple bool // order within the non-complex limit
	Center int  // high-valence center, -1 for other kinds
}

// Vertices returns the cluster's vertex set.
func (c Cluster) Vertices() []int {
	return c.Graph.Vertices()
}

// Shape is the flag pair the gate reads when choosing an inference approach.
func (c Cluster) Shape() gate.Shape {
	return gate.Shape{Star: c.Star, Simple: c.Simple}
}

// #endregion cluster
