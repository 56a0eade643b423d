// Package jobs tracks the per (tenant, course) status of inference runs.
package jobs

// #region imports
import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// #endregion imports

// #region types

// Status is the lifecycle state of a course job.
type Status string

const (
	Pending      Status = "PENDING"
	Running      Status = "RUNNING"
	Done         Status = "DONE"
	Error        Status = "ERROR"
	NotProcessed Status = "NOTPROCESSED"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == Done || s == Error || s == NotProcessed
}

// Job is one (tenant, course) status record.
type Job struct {
	TenantID  string
	CourseID  string
	Status    Status
	RunID     string
	Message   string
	UpdatedAt time.Time
}

// ErrNoJob is returned by Claim when nothing is pending and by Get for unknown jobs.
var ErrNoJob = errors.New("no job")

// ErrTransition is returned for a status change the lifecycle does not allow.
var ErrTransition = errors.New("invalid job transition")

// #endregion types

// #region store

// Store persists job status in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the jobs table if needed and returns a store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("jobs schema: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		tenant_id  TEXT NOT NULL,
		course_id  TEXT NOT NULL,
		status     TEXT NOT NULL,
		run_id     TEXT,
		message    TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, course_id)
	)`)
	return err
}

// Enqueue marks a course PENDING unless it is already RUNNING.
func (s *Store) Enqueue(tenantID, courseID string) error {
	res, err := s.db.Exec(
		`INSERT INTO jobs (tenant_id, course_id, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id, course_id) DO UPDATE
		   SET status = excluded.status, run_id = NULL, message = NULL, updated_at = excluded.updated_at
		   WHERE jobs.status <> ?`,
		tenantID, courseID, string(Pending), now(), string(Running),
	)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s is running", ErrTransition, tenantID, courseID)
	}
	return nil
}

// Claim moves the oldest PENDING job to RUNNING and returns it.
func (s *Store) Claim() (Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var j Job
	err = tx.QueryRow(
		`SELECT tenant_id, course_id FROM jobs WHERE status = ? ORDER BY updated_at, tenant_id, course_id LIMIT 1`,
		string(Pending),
	).Scan(&j.TenantID, &j.CourseID)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNoJob
	}
	if err != nil {
		return Job{}, fmt.Errorf("claim: %w", err)
	}
	ts := now()
	if _, err := tx.Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE tenant_id = ? AND course_id = ?`,
		string(Running), ts, j.TenantID, j.CourseID,
	); err != nil {
		return Job{}, fmt.Errorf("claim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Job{}, fmt.Errorf("commit claim: %w", err)
	}
	j.Status = Running
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	return j, nil
}

// Finish moves a RUNNING job to a terminal status.
func (s *Store) Finish(tenantID, courseID string, status Status, runID, message string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: finish with %s", ErrTransition, status)
	}
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, run_id = ?, message = ?, updated_at = ?
		 WHERE tenant_id = ? AND course_id = ? AND status = ?`,
		string(status), nullIfEmpty(runID), nullIfEmpty(message), now(), tenantID, courseID, string(Running),
	)
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s is not running", ErrTransition, tenantID, courseID)
	}
	return nil
}

// Get returns the job of a (tenant, course).
func (s *Store) Get(tenantID, courseID string) (Job, error) {
	row := s.db.QueryRow(
		`SELECT tenant_id, course_id, status, run_id, message, updated_at FROM jobs
		 WHERE tenant_id = ? AND course_id = ?`, tenantID, courseID,
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%s/%s: %w", tenantID, courseID, ErrNoJob)
	}
	return j, err
}

// List returns jobs with the given status, or every job when status is empty.
func (s *Store) List(status Status) ([]Job, error) {
	rows, err := s.db.Query(
		`SELECT tenant_id, course_id, status, run_id, message, updated_at FROM jobs
		 WHERE ? = '' OR status = ? ORDER BY tenant_id, course_id`, string(status), string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// #endregion store

// #region helpers

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var status, updated string
	var runID, msg sql.NullString
	if err := row.Scan(&j.TenantID, &j.CourseID, &status, &runID, &msg, &updated); err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	j.RunID = runID.String
	j.Message = msg.String
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return j, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
