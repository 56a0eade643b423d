package gate

// #region approach
// Approach names an inference strategy.
type Approach string

const (
	Exact       Approach = "exact"
	Approximate Approach = "approximate"
)

// #endregion approach

// #region shape
// Shape carries the decomposer's flags for the cluster a query belongs to.
type Shape struct {
	Star   bool // star or quasi-star cluster, exempt from the order limit
	Simple bool // cluster within the non-complex order limit
}

// #endregion shape

// #region veto-type
// VetoType enumerates reasons exact inference is ruled out.
type VetoType string

const (
	VetoCost  VetoType = "cost"  // estimated elimination cost above the cell budget
	VetoOrder VetoType = "order" // too many vertices for a complex non-star cluster
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds thresholds for backend selection.
type GateConfig struct {
	ExactMaxOrder int `yaml:"exact_max_order" validate:"gt=0"` // largest complex non-star graph solved exactly
	ExactMaxCells int `yaml:"exact_max_cells" validate:"gt=0"` // largest elimination clique, in cells
}

// DefaultGateConfig returns the empirically tuned limits.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ExactMaxOrder: 12,
		ExactMaxCells: 1 << 20,
	}
}

// #endregion gate-config

// #region gate-decision
// Decision is the output of the gate evaluation.
type Decision struct {
	Approach       Approach
	Reason         string
	Vetoed         bool
	VetoSignals    []VetoSignal // non-empty if exact was vetoed
	EstimatedCells int          // k^(largest clique) under min-fill elimination
	Width          int          // largest clique size minus one
}

// #endregion gate-decision
