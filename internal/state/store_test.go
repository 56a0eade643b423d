package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/knowledge-state/internal/assemble"
	"github.com/danielpatrickdp/knowledge-state/internal/logging"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var asOf = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func sampleRows() []assemble.Row {
	measured := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	return []assemble.Row{
		{StudentID: "s1", StandardID: "a", Category: "Proficient", CategoryIndex: 1,
			Probabilities: []float64{0, 1}, Tag: assemble.Measured, Prevision: 0.75, EvidenceDate: &measured, AsOf: asOf},
		{StudentID: "s1", StandardID: "b", Category: "Proficient", CategoryIndex: 1,
			Probabilities: []float64{0.38, 0.62}, Tag: assemble.Estimated, Prevision: 0.56, Deviation: 0.96, AsOf: asOf},
		{StudentID: "s2", StandardID: "a", Category: "UNMEASURED", CategoryIndex: -1,
			Tag: assemble.Unmeasured, Prevision: assemble.UnmeasuredPrevision, AsOf: asOf},
	}
}

func TestNewRunWithoutActive(t *testing.T) {
	s := tempDB(t)

	rec, err := s.NewRun("t1", "c1", asOf)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	if rec.RunID == "" {
		t.Fatal("expected non-empty run ID")
	}
	if rec.ParentID != "" {
		t.Fatalf("expected empty parent, got %s", rec.ParentID)
	}

	_, err = s.GetActive("t1", "c1")
	if !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("expected ErrNoActiveRun, got %v", err)
	}
}

func TestCommitRunAndRows(t *testing.T) {
	s := tempDB(t)

	rec, _ := s.NewRun("t1", "c1", asOf)
	rec.MetricsJSON = `{"passed":true}`
	if err := s.CommitRun(rec, sampleRows()); err != nil {
		t.Fatalf("CommitRun: %v", err)
	}

	cur, err := s.GetActive("t1", "c1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if cur.RunID != rec.RunID {
		t.Fatalf("expected %s, got %s", rec.RunID, cur.RunID)
	}
	if cur.Rows != 3 {
		t.Fatalf("expected 3 rows, got %d", cur.Rows)
	}
	if cur.MetricsJSON != `{"passed":true}` {
		t.Fatalf("unexpected metrics %q", cur.MetricsJSON)
	}
	if !cur.AsOf.Equal(asOf) {
		t.Fatalf("expected as_of %v, got %v", asOf, cur.AsOf)
	}

	rows, err := s.Rows(rec.RunID)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1].Probabilities[1] != 0.62 {
		t.Fatalf("expected probability 0.62, got %v", rows[1].Probabilities)
	}
	if rows[0].EvidenceDate == nil || rows[1].EvidenceDate != nil {
		t.Fatal("evidence dates did not round trip")
	}
	if rows[2].Probabilities != nil || rows[2].Tag != assemble.Unmeasured {
		t.Fatalf("unexpected unmeasured row %+v", rows[2])
	}
}

func TestCommitAndRollback(t *testing.T) {
	s := tempDB(t)

	r1, _ := s.NewRun("t1", "c1", asOf)
	if err := s.CommitRun(r1, sampleRows()); err != nil {
		t.Fatalf("CommitRun: %v", err)
	}

	r2, _ := s.NewRun("t1", "c1", asOf.Add(24*time.Hour))
	if r2.ParentID != r1.RunID {
		t.Fatalf("expected parent %s, got %s", r1.RunID, r2.ParentID)
	}
	if err := s.CommitRun(r2, sampleRows()[:1]); err != nil {
		t.Fatalf("CommitRun: %v", err)
	}

	cur, _ := s.GetActive("t1", "c1")
	if cur.RunID != r2.RunID {
		t.Fatalf("expected %s, got %s", r2.RunID, cur.RunID)
	}

	if err := s.Rollback("t1", "c1", r1.RunID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	cur, _ = s.GetActive("t1", "c1")
	if cur.RunID != r1.RunID {
		t.Fatalf("expected %s after rollback, got %s", r1.RunID, cur.RunID)
	}
}

func TestRollbackOtherCourse(t *testing.T) {
	s := tempDB(t)

	r1, _ := s.NewRun("t1", "c1", asOf)
	s.CommitRun(r1, nil)
	r2, _ := s.NewRun("t1", "c2", asOf)
	s.CommitRun(r2, nil)

	if err := s.Rollback("t1", "c2", r1.RunID); err == nil {
		t.Fatal("expected error rolling back to a run of another course")
	}
	if err := s.Rollback("t1", "c1", "nonexistent-id"); err == nil {
		t.Fatal("expected error for non-existent run")
	}
}

func TestListRuns(t *testing.T) {
	s := tempDB(t)

	r1, _ := s.NewRun("t1", "c1", asOf)
	s.CommitRun(r1, nil)
	r2, _ := s.NewRun("t1", "c1", asOf)
	s.CommitRun(r2, nil)
	r3, _ := s.NewRun("t1", "other", asOf)
	s.CommitRun(r3, nil)

	runs, err := s.ListRuns("t1", "c1", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}

func TestDiagnosticsTableMigrated(t *testing.T) {
	s := tempDB(t)

	if err := logging.LogQuery(s.DB(), logging.DiagnosticEntry{RunID: "r", ClusterKey: "B:a", Path: "direct"}); err != nil {
		t.Fatalf("LogQuery: %v", err)
	}
	got, err := logging.ListQueries(s.DB(), "r")
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 diagnostics row, got %d (%v)", len(got), err)
	}
}

func TestProbabilityRoundTrip(t *testing.T) {
	original := []float64{0.1, 0.2, 0.30000000000000004, 0.4}
	decoded := decodeProbabilities(encodeProbabilities(original))
	for i := range original {
		if original[i] != decoded[i] {
			t.Fatalf("mismatch at %d: %v != %v", i, original[i], decoded[i])
		}
	}
}

func TestNewStoreInvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "test.db"))
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := tempDB(t)

	if _, err := s.GetRun("nonexistent-id"); err == nil {
		t.Fatal("expected error for nonexistent run")
	}
}
