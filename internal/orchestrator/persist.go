package orchestrator

// #region imports
import (
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/knowledge-state/internal/eval"
	"github.com/danielpatrickdp/knowledge-state/internal/logging"
	"github.com/danielpatrickdp/knowledge-state/internal/state"
)

// #endregion

// #region metrics-json

// RunMetrics is the JSON stored with each persisted run.
type RunMetrics struct {
	Stats    Stats           `json:"stats"`
	Eval     eval.EvalResult `json:"eval"`
	Failures []FailureRecord `json:"failures,omitempty"`
}

// FailureRecord is the serialized form of a Failure.
type FailureRecord struct {
	ClusterKey string `json:"cluster_key"`
	StateID    string `json:"state_id"`
	Students   int    `json:"students"`
	Stage      Stage  `json:"stage"`
	Error      string `json:"error"`
}

// Metrics returns the serializable summary of an output.
func (out Output) Metrics() RunMetrics {
	m := RunMetrics{Stats: out.Stats, Eval: out.Eval}
	for _, f := range out.Failures {
		m.Failures = append(m.Failures, FailureRecord{
			ClusterKey: f.ClusterKey,
			StateID:    fmt.Sprintf("%016x", f.StateID),
			Students:   f.Students,
			Stage:      f.Stage,
			Error:      f.Err.Error(),
		})
	}
	return m
}

// #endregion

// #region persist

// Persist commits the estimates as run rec, making it the active run of its
// course, then writes the query diagnostics.
func Persist(store *state.Store, rec state.RunRecord, out Output) error {
	metrics, err := json.Marshal(out.Metrics())
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	rec.MetricsJSON = string(metrics)
	if err := store.CommitRun(rec, out.Estimates); err != nil {
		return fmt.Errorf("commit run %s: %w", rec.RunID, err)
	}
	diags := make([]logging.DiagnosticEntry, len(out.Diagnostics))
	for i, d := range out.Diagnostics {
		d.RunID = rec.RunID
		diags[i] = d
	}
	if err := logging.LogQueries(store.DB(), diags); err != nil {
		return fmt.Errorf("write diagnostics: %w", err)
	}
	return nil
}

// #endregion
