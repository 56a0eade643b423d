// Package state persists knowledge-state runs with an active-run pointer per
// (tenant, course).
package state

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/knowledge-state/internal/assemble"
	"github.com/danielpatrickdp/knowledge-state/internal/logging"
)

// ErrNoActiveRun is returned when a (tenant, course) has never committed a run.
var ErrNoActiveRun = errors.New("no active run")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	parent_id     TEXT,
	tenant_id     TEXT NOT NULL,
	course_id     TEXT NOT NULL,
	as_of         TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	metrics_json  TEXT,
	row_count     INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (parent_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS knowledge_states (
	run_id         TEXT NOT NULL,
	student_id     TEXT NOT NULL,
	standard_id    TEXT NOT NULL,
	category       TEXT NOT NULL,
	category_index INTEGER NOT NULL,
	probabilities  BLOB,
	tag            TEXT NOT NULL,
	prevision      REAL NOT NULL,
	deviation      REAL NOT NULL,
	evidence_date  TEXT,
	as_of          TEXT NOT NULL,
	PRIMARY KEY (run_id, student_id, standard_id),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS active_run (
	tenant_id  TEXT NOT NULL,
	course_id  TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	PRIMARY KEY (tenant_id, course_id),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region store-struct
// Store manages knowledge-state runs in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations, including the query
// diagnostics table.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema + logging.DiagnosticsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for the diagnostics writer.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region new-run
// NewRun allocates a run id whose parent is the currently active run, if any.
// Nothing is written until CommitRun.
func (s *Store) NewRun(tenantID, courseID string, asOf time.Time) (RunRecord, error) {
	rec := RunRecord{
		RunID:     uuid.New().String(),
		TenantID:  tenantID,
		CourseID:  courseID,
		AsOf:      asOf.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	parent, err := s.GetActive(tenantID, courseID)
	switch {
	case err == nil:
		rec.ParentID = parent.RunID
	case errors.Is(err, ErrNoActiveRun):
	default:
		return RunRecord{}, err
	}
	return rec, nil
}

// #endregion new-run

// #region commit-run
// CommitRun inserts the run with its rows and moves the active pointer to it
// atomically.
func (s *Store) CommitRun(rec RunRecord, rows []assemble.Row) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, parent_id, tenant_id, course_id, as_of, created_at, metrics_json, row_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, nullIfEmpty(rec.ParentID), rec.TenantID, rec.CourseID,
		rec.AsOf.Format(time.RFC3339Nano), rec.CreatedAt.Format(time.RFC3339Nano),
		nullIfEmpty(rec.MetricsJSON), len(rows),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO knowledge_states (run_id, student_id, standard_id, category, category_index,
		  probabilities, tag, prevision, deviation, evidence_date, as_of)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare rows: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		var evDate interface{}
		if r.EvidenceDate != nil {
			evDate = r.EvidenceDate.Format(time.RFC3339Nano)
		}
		var probs interface{}
		if r.Probabilities != nil {
			probs = encodeProbabilities(r.Probabilities)
		}
		_, err := stmt.Exec(rec.RunID, r.StudentID, r.StandardID, r.Category, r.CategoryIndex,
			probs, string(r.Tag), r.Prevision, r.Deviation, evDate, r.AsOf.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert row %s/%s: %w", r.StudentID, r.StandardID, err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO active_run (tenant_id, course_id, run_id) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id, course_id) DO UPDATE SET run_id = excluded.run_id`,
		rec.TenantID, rec.CourseID, rec.RunID,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion commit-run

// #region get-active
// GetActive reads the active run of a (tenant, course).
func (s *Store) GetActive(tenantID, courseID string) (RunRecord, error) {
	var runID string
	err := s.db.QueryRow(
		`SELECT run_id FROM active_run WHERE tenant_id = ? AND course_id = ?`, tenantID, courseID,
	).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%s/%s: %w", tenantID, courseID, ErrNoActiveRun)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetRun(runID)
}

// #endregion get-active

// #region get-run
// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (RunRecord, error) {
	rec, err := scanRun(s.db.QueryRow(
		`SELECT run_id, parent_id, tenant_id, course_id, as_of, created_at, metrics_json, row_count
		 FROM runs WHERE run_id = ?`, id,
	))
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var parentID, metricsJSON sql.NullString
	var asOf, created string
	if err := row.Scan(&rec.RunID, &parentID, &rec.TenantID, &rec.CourseID, &asOf, &created, &metricsJSON, &rec.Rows); err != nil {
		return RunRecord{}, err
	}
	rec.ParentID = parentID.String
	rec.MetricsJSON = metricsJSON.String
	rec.AsOf, _ = time.Parse(time.RFC3339Nano, asOf)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, nil
}

// #endregion get-run

// #region rows
// Rows returns the knowledge-state rows of a run ordered by student then standard.
func (s *Store) Rows(runID string) ([]assemble.Row, error) {
	rows, err := s.db.Query(
		`SELECT student_id, standard_id, category, category_index, probabilities, tag,
		        prevision, deviation, evidence_date, as_of
		 FROM knowledge_states WHERE run_id = ? ORDER BY student_id, standard_id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	var out []assemble.Row
	for rows.Next() {
		var r assemble.Row
		var probs []byte
		var tag, asOf string
		var evDate sql.NullString
		if err := rows.Scan(&r.StudentID, &r.StandardID, &r.Category, &r.CategoryIndex, &probs, &tag,
			&r.Prevision, &r.Deviation, &evDate, &asOf); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Tag = assemble.Tag(tag)
		if probs != nil {
			r.Probabilities = decodeProbabilities(probs)
		}
		if evDate.Valid {
			t, err := time.Parse(time.RFC3339Nano, evDate.String)
			if err == nil {
				r.EvidenceDate = &t
			}
		}
		r.AsOf, _ = time.Parse(time.RFC3339Nano, asOf)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion rows

// #region rollback
// Rollback points the active run of a (tenant, course) at an earlier run of the
// same course.
func (s *Store) Rollback(tenantID, courseID, targetRunID string) error {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM runs WHERE run_id = ? AND tenant_id = ? AND course_id = ?`,
		targetRunID, tenantID, courseID,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found for %s/%s", targetRunID, tenantID, courseID)
	}

	_, err = s.db.Exec(
		`UPDATE active_run SET run_id = ? WHERE tenant_id = ? AND course_id = ?`,
		targetRunID, tenantID, courseID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-runs
// ListRuns returns the most recent runs of a (tenant, course).
func (s *Store) ListRuns(tenantID, courseID string, limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, parent_id, tenant_id, course_id, as_of, created_at, metrics_json, row_count
		 FROM runs WHERE tenant_id = ? AND course_id = ? ORDER BY created_at DESC LIMIT ?`,
		tenantID, courseID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-runs

// #region encoding
func encodeProbabilities(p []float64) []byte {
	buf := make([]byte, len(p)*8)
	for i, f := range p {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeProbabilities(b []byte) []float64 {
	p := make([]float64, len(b)/8)
	for i := range p {
		p[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return p
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion encoding
