package orchestrator

// #region imports
import (
	"time"

	"github.com/danielpatrickdp/knowledge-state/internal/assemble"
	"github.com/danielpatrickdp/knowledge-state/internal/bayesnet"
	"github.com/danielpatrickdp/knowledge-state/internal/decompose"
	"github.com/danielpatrickdp/knowledge-state/internal/eval"
	"github.com/danielpatrickdp/knowledge-state/internal/evidence"
	"github.com/danielpatrickdp/knowledge-state/internal/gate"
	"github.com/danielpatrickdp/knowledge-state/internal/logging"
	"github.com/danielpatrickdp/knowledge-state/internal/reduce"
	"github.com/danielpatrickdp/knowledge-state/internal/source"
)

// #endregion

// #region config

// Config wires every pipeline stage.
type Config struct {
	Workers           int           `yaml:"workers" validate:"gte=1"`
	QueryTimeout      time.Duration `yaml:"query_timeout" validate:"gte=0"` // per cluster state, 0 disables
	SkipEmptyEvidence bool          `yaml:"skip_empty_evidence"`            // leave groups with no evidence in the cluster at UNMEASURED

	Decompose decompose.Config     `yaml:"decompose"`
	Gate      gate.GateConfig      `yaml:"gate"`
	Exact     bayesnet.ExactConfig `yaml:"exact"`
	Loopy     bayesnet.LoopyConfig `yaml:"loopy"`
	Reduce    reduce.Config        `yaml:"reduce"`
	Assemble  assemble.Config      `yaml:"assemble"`
	Eval      eval.EvalConfig      `yaml:"eval"`
}

// DefaultConfig returns four workers, a two minute query timeout and the
// default of every stage.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueryTimeout: 2 * time.Minute,
		Decompose:    decompose.DefaultConfig(),
		Gate:         gate.DefaultGateConfig(),
		Exact:        bayesnet.DefaultExactConfig(),
		Loopy:        bayesnet.DefaultLoopyConfig(),
		Reduce:       reduce.DefaultConfig(),
		Assemble:     assemble.DefaultConfig(),
		Eval:         eval.DefaultEvalConfig(),
	}
}

// #endregion

// #region input

// Input is one batch to run. RunID is generated when empty.
type Input struct {
	RunID string
	Batch source.Batch
}

// #endregion

// #region stage

// Stage names where an isolated failure happened.
type Stage string

const (
	StageSolve   Stage = "solve"   // network build or query
	StageCPT     Stage = "cpt"     // missing conditional probability table
	StageTimeout Stage = "timeout" // query timeout exceeded
)

// #endregion

// #region failure

// Failure is a cluster state that produced no estimate. Other clusters are unaffected.
type Failure struct {
	ClusterKey string
	StateID    uint64
	Students   int
	Stage      Stage
	Err        error
}

// #endregion

// #region stats

// Stats summarizes a batch.
type Stats struct {
	Students     int                    `json:"students"`
	Standards    int                    `json:"standards"`
	Evidence     evidence.Report        `json:"evidence"`
	Neighborhood int                    `json:"neighborhood"`
	Clusters     map[decompose.Kind]int `json:"clusters"`
	Tasks        int                    `json:"tasks"`
	Skipped      int                    `json:"skipped"`
	Queries      int                    `json:"queries"`
	Unconverged  int                    `json:"unconverged"`
	Failures     int                    `json:"failures"`
	Elapsed      time.Duration          `json:"elapsed"`
}

// #endregion

// #region output

// Output is the full result of a batch. Estimates hold one row per enrolled
// student and in-scope standard.
type Output struct {
	RunID       string
	TenantID    string
	CourseID    string
	AsOf        time.Time
	Estimates   []assemble.Row
	Diagnostics []logging.DiagnosticEntry
	Failures    []Failure
	Eval        eval.EvalResult
	Stats       Stats
}

// #endregion
