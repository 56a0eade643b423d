package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/evidence"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
)

// #region kinds
// Kind names a CSV input table.
type Kind string

const (
	KindEvidence   Kind = "evidence"   // student_id,standard_id,score,assessed_on[,work_product]
	KindEdges      Kind = "edges"      // constituent_id,standard_id[,graph_type]
	KindCPT        Kind = "cpt"        // constituent_count,cell_index,probability,is_root
	KindCategories Kind = "categories" // name,low,high
	KindEnrollment Kind = "enrollment" // student_id
	KindStandards  Kind = "standards"  // standard_id
)

// Kinds lists every importable table.
var Kinds = []Kind{KindEvidence, KindEdges, KindCPT, KindCategories, KindEnrollment, KindStandards}

// #endregion kinds

// #region import
// Import reads a headed CSV of the given kind into the source tables and
// returns the number of data rows written.
func (s *SQLiteSource) Import(tenantID, courseID string, kind Kind, r io.Reader) (int, error) {
	recs, err := readCSV(r)
	if err != nil {
		return 0, fmt.Errorf("read %s csv: %w", kind, err)
	}
	switch kind {
	case KindEvidence:
		rows, err := parseEvidence(recs)
		if err != nil {
			return 0, err
		}
		return len(rows), s.AddEvidence(tenantID, rows...)
	case KindEdges:
		edges, err := parseEdges(recs)
		if err != nil {
			return 0, err
		}
		return len(edges), s.edges.AddEdges(courseID, edges)
	case KindCPT:
		rows, err := parseCPT(recs)
		if err != nil {
			return 0, err
		}
		return len(rows), s.SetCPT(tenantID, rows)
	case KindCategories:
		cats, err := parseCategories(recs)
		if err != nil {
			return 0, err
		}
		return len(cats), s.SetCategories(tenantID, cats)
	case KindEnrollment:
		ids := firstColumn(recs)
		return len(ids), s.Enroll(tenantID, courseID, ids...)
	case KindStandards:
		ids := firstColumn(recs)
		return len(ids), s.AddStandards(tenantID, courseID, ids...)
	}
	return 0, fmt.Errorf("unknown csv kind %q", kind)
}

// readCSV drops the header row and blank lines.
func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	all, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, errors.New("empty file")
	}
	var out [][]string
	for _, rec := range all[1:] {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// #endregion import

// #region parsers
func parseEvidence(recs [][]string) ([]evidence.Record, error) {
	out := make([]evidence.Record, 0, len(recs))
	for i, rec := range recs {
		if len(rec) < 4 {
			return nil, fmt.Errorf("evidence line %d: want at least 4 fields, got %d", i+2, len(rec))
		}
		score, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("evidence line %d: score: %w", i+2, err)
		}
		date, err := parseDate(rec[3])
		if err != nil {
			return nil, fmt.Errorf("evidence line %d: %w", i+2, err)
		}
		r := evidence.Record{StudentID: rec[0], StandardID: rec[1], Score: score, Date: date}
		if len(rec) > 4 {
			r.WorkProduct = rec[4]
		}
		out = append(out, r)
	}
	return out, nil
}

func parseEdges(recs [][]string) ([]graph.Edge, error) {
	out := make([]graph.Edge, 0, len(recs))
	for i, rec := range recs {
		if len(rec) < 2 {
			return nil, fmt.Errorf("edges line %d: want at least 2 fields, got %d", i+2, len(rec))
		}
		e := graph.Edge{From: rec[0], To: rec[1], Type: graph.Progression}
		if len(rec) > 2 && rec[2] != "" {
			e.Type = graph.GraphType(strings.ToLower(rec[2]))
		}
		out = append(out, e)
	}
	return out, nil
}

func parseCPT(recs [][]string) ([]cpt.Row, error) {
	out := make([]cpt.Row, 0, len(recs))
	for i, rec := range recs {
		if len(rec) < 4 {
			return nil, fmt.Errorf("cpt line %d: want 4 fields, got %d", i+2, len(rec))
		}
		n, err1 := strconv.Atoi(rec[0])
		cell, err2 := strconv.Atoi(rec[1])
		p, err3 := strconv.ParseFloat(rec[2], 64)
		root, err4 := parseBool(rec[3])
		if err := errors.Join(err1, err2, err3, err4); err != nil {
			return nil, fmt.Errorf("cpt line %d: %w", i+2, err)
		}
		out = append(out, cpt.Row{Parents: n, Cell: cell, Probability: p, Root: root})
	}
	return out, nil
}

func parseCategories(recs [][]string) ([]mastery.Category, error) {
	out := make([]mastery.Category, 0, len(recs))
	for i, rec := range recs {
		if len(rec) < 3 {
			return nil, fmt.Errorf("categories line %d: want 3 fields, got %d", i+2, len(rec))
		}
		low, err1 := strconv.ParseFloat(rec[1], 64)
		high, err2 := strconv.ParseFloat(rec[2], 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("categories line %d: %w", i+2, err)
		}
		out = append(out, mastery.Category{Name: rec[0], Low: low, High: high})
	}
	return out, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y":
		return true, nil
	case "0", "false", "f", "no", "n", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

func firstColumn(recs [][]string) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		if len(rec) > 0 && rec[0] != "" {
			out = append(out, rec[0])
		}
	}
	return out
}

// #endregion parsers
