package graph

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// #region test-add-edge
func TestAddEdge(t *testing.T) {
	db := setupTestDB(t)
	s, err := NewEdgeStore(db)
	if err != nil {
		t.Fatalf("new edge store: %v", err)
	}

	if err := s.AddEdge("c1", Edge{From: "a", To: "b"}); err != nil {
		t.Fatalf("add edge: %v", err)
	}
	// Duplicate insert should be ignored
	if err := s.AddEdge("c1", Edge{From: "a", To: "b", Type: Progression}); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}

	edges, err := s.Edges("c1", Progression)
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].From != "a" || edges[0].To != "b" || edges[0].Type != Progression {
		t.Errorf("unexpected edge: %+v", edges[0])
	}
}

// #endregion test-add-edge

// #region test-graph-types
func TestEdgesFilterByGraphType(t *testing.T) {
	db := setupTestDB(t)
	s, _ := NewEdgeStore(db)

	err := s.AddEdges("c1", []Edge{
		{From: "a", To: "b", Type: Progression},
		{From: "a", To: "c", Type: Hierarchy},
		{From: "b", To: "c", Type: Progression},
	})
	if err != nil {
		t.Fatalf("add edges: %v", err)
	}
	// another course must not leak in
	s.AddEdge("c2", Edge{From: "x", To: "y"})

	prog, _ := s.Edges("c1", Progression)
	if len(prog) != 2 {
		t.Fatalf("expected 2 progression edges, got %d", len(prog))
	}
	hier, _ := s.Edges("c1", Hierarchy)
	if len(hier) != 1 || hier[0].To != "c" {
		t.Fatalf("unexpected hierarchy edges: %+v", hier)
	}

	succ, err := s.Successors("a")
	if err != nil {
		t.Fatalf("successors: %v", err)
	}
	if len(succ) != 2 {
		t.Errorf("expected 2 successors of a, got %d", len(succ))
	}
}

// #endregion test-graph-types

// #region test-load
func TestLoadRestrictsScope(t *testing.T) {
	db := setupTestDB(t)
	s, _ := NewEdgeStore(db)
	s.AddEdges("c1", []Edge{
		{From: "a", To: "b"},
		{From: "b", To: "c"},
		{From: "c", To: "z"},
	})

	d, err := s.Load("c1", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if d.Order() != 3 {
		t.Errorf("expected order 3, got %d", d.Order())
	}
	if d.Size() != 2 {
		t.Errorf("expected 2 edges, got %d", d.Size())
	}
	if _, ok := d.Arena().Index("z"); ok {
		t.Error("out-of-scope vertex z should not be interned")
	}
}

func TestLoadCycleIsFatal(t *testing.T) {
	db := setupTestDB(t)
	s, _ := NewEdgeStore(db)
	s.AddEdges("c1", []Edge{
		{From: "a", To: "b"},
		{From: "b", To: "c"},
		{From: "c", To: "a"},
	})

	_, err := s.Load("c1", nil)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

// #endregion test-load

// #region test-sever
func TestSeverVertex(t *testing.T) {
	db := setupTestDB(t)
	s, _ := NewEdgeStore(db)
	s.AddEdges("c1", []Edge{
		{From: "a", To: "b"},
		{From: "b", To: "c"},
		{From: "c", To: "d"},
	})

	if err := s.SeverVertex("b"); err != nil {
		t.Fatalf("sever: %v", err)
	}
	edges, _ := s.Edges("c1", Progression)
	if len(edges) != 1 || edges[0].From != "c" {
		t.Errorf("expected only c->d to remain, got %+v", edges)
	}
}

// #endregion test-sever
