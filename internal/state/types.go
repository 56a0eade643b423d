package state

import "time"

// #region run-record
// RunRecord is one persisted batch of knowledge-state estimates for a
// (tenant, course). Runs form a chain through ParentID.
type RunRecord struct {
	RunID       string
	ParentID    string
	TenantID    string
	CourseID    string
	AsOf        time.Time
	CreatedAt   time.Time
	MetricsJSON string
	Rows        int
}

// #endregion run-record
