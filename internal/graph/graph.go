package graph

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS progression_edges (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    course_id      TEXT NOT NULL,
    constituent_id TEXT NOT NULL,
    standard_id    TEXT NOT NULL,
    graph_type     TEXT NOT NULL,
    created_at     TEXT NOT NULL,
    UNIQUE(course_id, constituent_id, standard_id, graph_type)
);
CREATE INDEX IF NOT EXISTS idx_progression_course ON progression_edges(course_id, graph_type);
CREATE INDEX IF NOT EXISTS idx_progression_constituent ON progression_edges(constituent_id);
`

// #endregion schema

// #region types
// EdgeStore manages the progression_edges table.
type EdgeStore struct {
	db *sql.DB
}

// #endregion types

// #region constructor
// NewEdgeStore creates tables and returns an EdgeStore.
func NewEdgeStore(db *sql.DB) (*EdgeStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return &EdgeStore{db: db}, nil
}

// #endregion constructor

// #region add-edge
// AddEdge inserts an edge for courseID. Duplicates are ignored.
func (s *EdgeStore) AddEdge(courseID string, e Edge) error {
	if e.Type == "" {
		e.Type = Progression
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO progression_edges (course_id, constituent_id, standard_id, graph_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		courseID, e.From, e.To, string(e.Type), now,
	)
	return err
}

// AddEdges inserts a batch of edges in one transaction.
func (s *EdgeStore) AddEdges(courseID string, edges []Edge) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO progression_edges (course_id, constituent_id, standard_id, graph_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		gt := e.Type
		if gt == "" {
			gt = Progression
		}
		if _, err := stmt.Exec(courseID, e.From, e.To, string(gt), now); err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", e.From, e.To, err)
		}
	}
	return tx.Commit()
}

// #endregion add-edge

// #region query
// Edges returns every edge of courseID with the given graph type, ordered for determinism.
func (s *EdgeStore) Edges(courseID string, gt GraphType) ([]Edge, error) {
	rows, err := s.db.Query(
		`SELECT constituent_id, standard_id, graph_type
		 FROM progression_edges
		 WHERE course_id = ? AND graph_type = ?
		 ORDER BY constituent_id, standard_id`,
		courseID, string(gt),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// Successors returns the edges leaving standardID in any course.
func (s *EdgeStore) Successors(standardID string) ([]Edge, error) {
	rows, err := s.db.Query(
		`SELECT constituent_id, standard_id, graph_type
		 FROM progression_edges
		 WHERE constituent_id = ?
		 ORDER BY standard_id`,
		standardID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var edges []Edge
	for rows.Next() {
		var e Edge
		var gt string
		if err := rows.Scan(&e.From, &e.To, &gt); err != nil {
			return nil, err
		}
		e.Type = GraphType(gt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// #endregion query

// #region load
// Load builds the progression DAG of courseID restricted to scope. Edges with an
// endpoint outside scope are skipped; an empty scope keeps every edge.
func (s *EdgeStore) Load(courseID string, scope []string) (*DAG, error) {
	edges, err := s.Edges(courseID, Progression)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	return Build(scope, Restrict(edges, scope))
}

// Restrict keeps only progression edges whose endpoints are both in scope.
func Restrict(edges []Edge, scope []string) []Edge {
	if len(scope) == 0 {
		return edges
	}
	in := make(map[string]bool, len(scope))
	for _, id := range scope {
		in[id] = true
	}
	var out []Edge
	for _, e := range edges {
		if in[e.From] && in[e.To] {
			out = append(out, e)
		}
	}
	return out
}

// #endregion load

// #region sever
// SeverVertex deletes all edges where standardID is either endpoint.
func (s *EdgeStore) SeverVertex(standardID string) error {
	_, err := s.db.Exec(
		`DELETE FROM progression_edges WHERE constituent_id = ? OR standard_id = ?`,
		standardID, standardID,
	)
	return err
}

// #endregion sever
