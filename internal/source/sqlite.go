// Package source loads the tabular inputs of an inference run.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/evidence"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS enrollment (
	tenant_id  TEXT NOT NULL,
	course_id  TEXT NOT NULL,
	student_id TEXT NOT NULL,
	PRIMARY KEY (tenant_id, course_id, student_id)
);

CREATE TABLE IF NOT EXISTS course_standards (
	tenant_id   TEXT NOT NULL,
	course_id   TEXT NOT NULL,
	standard_id TEXT NOT NULL,
	PRIMARY KEY (tenant_id, course_id, standard_id)
);

CREATE TABLE IF NOT EXISTS evidence (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id    TEXT NOT NULL,
	student_id   TEXT NOT NULL,
	standard_id  TEXT NOT NULL,
	score        REAL NOT NULL,
	assessed_on  TEXT NOT NULL,
	work_product TEXT
);
CREATE INDEX IF NOT EXISTS idx_evidence_student ON evidence(tenant_id, student_id);

CREATE TABLE IF NOT EXISTS cpt (
	tenant_id         TEXT NOT NULL,
	constituent_count INTEGER NOT NULL,
	cell_index        INTEGER NOT NULL,
	probability       REAL NOT NULL,
	is_root           INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, constituent_count, cell_index)
);

CREATE TABLE IF NOT EXISTS mastery_categories (
	tenant_id TEXT NOT NULL,
	position  INTEGER NOT NULL,
	name      TEXT NOT NULL,
	low       REAL NOT NULL,
	high      REAL NOT NULL,
	PRIMARY KEY (tenant_id, position)
);
`

// #endregion schema

// #region sqlite-source
// SQLiteSource reads batches from local input tables. Progression edges live in
// the graph package's edge store on the same database.
type SQLiteSource struct {
	db    *sql.DB
	edges *graph.EdgeStore
	now   func() time.Time
}

// NewSQLiteSource opens dbPath and migrates the input tables.
func NewSQLiteSource(dbPath string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	edges, err := graph.NewEdgeStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSource{db: db, edges: edges, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *SQLiteSource) DB() *sql.DB {
	return s.db
}

// Edges returns the progression edge store.
func (s *SQLiteSource) Edges() *graph.EdgeStore {
	return s.edges
}

// #endregion sqlite-source

// #region load
// Load assembles the batch for one (tenant, course). Evidence is restricted to
// enrolled students but not yet reduced; the orchestrator owns reduction.
func (s *SQLiteSource) Load(ctx context.Context, tenantID, courseID string) (Batch, error) {
	b := Batch{TenantID: tenantID, CourseID: courseID, AsOf: s.now().UTC()}
	var err error

	if b.Students, err = s.column(ctx,
		`SELECT student_id FROM enrollment WHERE tenant_id = ? AND course_id = ? ORDER BY student_id`,
		tenantID, courseID); err != nil {
		return Batch{}, fmt.Errorf("load enrollment: %w", err)
	}
	if len(b.Students) == 0 {
		return Batch{}, fmt.Errorf("%s/%s: %w", tenantID, courseID, ErrNoEnrollment)
	}
	if b.Standards, err = s.column(ctx,
		`SELECT standard_id FROM course_standards WHERE tenant_id = ? AND course_id = ? ORDER BY standard_id`,
		tenantID, courseID); err != nil {
		return Batch{}, fmt.Errorf("load standards: %w", err)
	}
	if b.Records, err = s.records(ctx, tenantID, courseID); err != nil {
		return Batch{}, err
	}
	if b.Edges, err = s.edges.Edges(courseID, graph.Progression); err != nil {
		return Batch{}, fmt.Errorf("load edges: %w", err)
	}
	if b.CPT, err = s.cpt(ctx, tenantID); err != nil {
		return Batch{}, err
	}
	if b.Categories, err = s.categories(ctx, tenantID); err != nil {
		return Batch{}, err
	}
	return b, nil
}

func (s *SQLiteSource) column(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteSource) records(ctx context.Context, tenantID, courseID string) ([]evidence.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.student_id, e.standard_id, e.score, e.assessed_on, e.work_product
		 FROM evidence e
		 JOIN enrollment en ON en.tenant_id = e.tenant_id AND en.student_id = e.student_id
		 WHERE e.tenant_id = ? AND en.course_id = ?
		 ORDER BY e.id`, tenantID, courseID)
	if err != nil {
		return nil, fmt.Errorf("load evidence: %w", err)
	}
	defer rows.Close()
	var out []evidence.Record
	for rows.Next() {
		var r evidence.Record
		var date string
		var wp sql.NullString
		if err := rows.Scan(&r.StudentID, &r.StandardID, &r.Score, &date, &wp); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		if r.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("evidence %s/%s: %w", r.StudentID, r.StandardID, err)
		}
		r.WorkProduct = wp.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteSource) cpt(ctx context.Context, tenantID string) ([]cpt.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT constituent_count, cell_index, probability, is_root
		 FROM cpt WHERE tenant_id = ? ORDER BY constituent_count, cell_index`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load cpt: %w", err)
	}
	defer rows.Close()
	var out []cpt.Row
	for rows.Next() {
		var r cpt.Row
		if err := rows.Scan(&r.Parents, &r.Cell, &r.Probability, &r.Root); err != nil {
			return nil, fmt.Errorf("scan cpt: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteSource) categories(ctx context.Context, tenantID string) ([]mastery.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, low, high FROM mastery_categories WHERE tenant_id = ? ORDER BY position`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	defer rows.Close()
	var out []mastery.Category
	for rows.Next() {
		var c mastery.Category
		if err := rows.Scan(&c.Name, &c.Low, &c.High); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// #endregion load

// #region writers
// Enroll adds students to a course.
func (s *SQLiteSource) Enroll(tenantID, courseID string, students ...string) error {
	return s.insertAll(`INSERT OR IGNORE INTO enrollment (tenant_id, course_id, student_id) VALUES (?, ?, ?)`,
		len(students), func(i int) []any { return []any{tenantID, courseID, students[i]} })
}

// AddStandards puts standards in a course's scope.
func (s *SQLiteSource) AddStandards(tenantID, courseID string, standards ...string) error {
	return s.insertAll(`INSERT OR IGNORE INTO course_standards (tenant_id, course_id, standard_id) VALUES (?, ?, ?)`,
		len(standards), func(i int) []any { return []any{tenantID, courseID, standards[i]} })
}

// AddEvidence appends raw evidence records.
func (s *SQLiteSource) AddEvidence(tenantID string, records ...evidence.Record) error {
	return s.insertAll(`INSERT INTO evidence (tenant_id, student_id, standard_id, score, assessed_on, work_product) VALUES (?, ?, ?, ?, ?, ?)`,
		len(records), func(i int) []any {
			r := records[i]
			return []any{tenantID, r.StudentID, r.StandardID, r.Score, r.Date.UTC().Format(time.RFC3339), nullIfEmpty(r.WorkProduct)}
		})
}

// SetCPT replaces a tenant's CPT.
func (s *SQLiteSource) SetCPT(tenantID string, rows []cpt.Row) error {
	if _, err := s.db.Exec(`DELETE FROM cpt WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("clear cpt: %w", err)
	}
	return s.insertAll(`INSERT INTO cpt (tenant_id, constituent_count, cell_index, probability, is_root) VALUES (?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			r := rows[i]
			return []any{tenantID, r.Parents, r.Cell, r.Probability, r.Root}
		})
}

// SetCategories replaces a tenant's mastery scale.
func (s *SQLiteSource) SetCategories(tenantID string, cats []mastery.Category) error {
	if _, err := s.db.Exec(`DELETE FROM mastery_categories WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	return s.insertAll(`INSERT INTO mastery_categories (tenant_id, position, name, low, high) VALUES (?, ?, ?, ?, ?)`,
		len(cats), func(i int) []any {
			c := cats[i]
			return []any{tenantID, i, c.Name, c.Low, c.High}
		})
}

// Courses lists every (tenant, course) with at least one enrolled student or
// standard in scope.
func (s *SQLiteSource) Courses(ctx context.Context) ([][2]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, course_id FROM enrollment
		 UNION SELECT tenant_id, course_id FROM course_standards
		 ORDER BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()
	var out [][2]string
	for rows.Next() {
		var c [2]string
		if err := rows.Scan(&c[0], &c[1]); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteSource) insertAll(query string, n int, args func(int) []any) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.Exec(args(i)...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// #endregion writers

// #region helpers
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
