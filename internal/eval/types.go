package eval

// #region eval-config
// EvalConfig holds tolerances for post-batch validation.
type EvalConfig struct {
	Tolerance      float64 `yaml:"tolerance" validate:"gt=0"`        // max |sum(p) - 1|
	MaxFailureRate float64 `yaml:"max_failure_rate" validate:"gte=0"` // informational threshold on failed queries
}

// DefaultEvalConfig returns a 1e-6 normalization tolerance.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Tolerance:      1e-6,
		MaxFailureRate: 0.05,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-batch validation.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// Metric looks a metric up by name.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion eval-result

// #region coverage
// Coverage describes the decomposition of one batch by vertex index.
type Coverage struct {
	Neighborhood []int
	Measured     []int
	Clusters     [][]int
}

// #endregion coverage
