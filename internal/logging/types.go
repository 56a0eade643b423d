package logging

import "time"

// #region diagnostic-entry
// DiagnosticEntry is one row in the query_diagnostics table: a single network
// query issued for one evidentiary state of one cluster.
type DiagnosticEntry struct {
	RunID       string        `json:"run_id"`
	ClusterKey  string        `json:"cluster_key"`
	ClusterKind string        `json:"cluster_kind"`
	StateID     uint64        `json:"state_id"`
	Path        string        `json:"path"`
	Approach    string        `json:"approach"` // "exact" | "approximate" | "approximate-unconverged" | ""
	Reason      string        `json:"reason,omitempty"`
	Order       int           `json:"order"`
	Edges       int           `json:"edges"`
	Measured    int           `json:"measured"`
	Estimated   int           `json:"estimated"`
	Students    int           `json:"students"`
	Elapsed     time.Duration `json:"elapsed"`
	CreatedAt   time.Time     `json:"created_at"`
}

// #endregion diagnostic-entry
