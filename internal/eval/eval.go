// Package eval checks the invariants every finished batch must satisfy.
package eval

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/knowledge-state/internal/assemble"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
)

// #region eval-harness
// EvalHarness runs post-batch validation.
type EvalHarness struct {
	config EvalConfig
	scale  *mastery.Scale
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig, scale *mastery.Scale) *EvalHarness {
	return &EvalHarness{config: config, scale: scale}
}

// Run validates a batch. queries and failures feed the informational failure
// rate, which never fails the batch on its own.
func (h *EvalHarness) Run(rows []assemble.Row, cov Coverage, queries, failures int) EvalResult {
	var metrics []EvalMetric
	var failReasons []string
	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Normalization over every row carrying a distribution
	worst := h.normalization(rows)
	check("normalization", worst, worst <= h.config.Tolerance,
		fmt.Sprintf("probability sum off by %.3g", worst))

	// 2. Measured rows are point masses on their category
	bad := h.pointMass(rows)
	check("point_mass", float64(bad), bad == 0,
		fmt.Sprintf("%d measured rows are not point masses", bad))

	// 3. Clusters cover the neighborhood and every measured vertex
	missing := coverage(cov)
	check("coverage", float64(missing), missing == 0,
		fmt.Sprintf("%d vertices outside every cluster", missing))

	// 4. Prevision of a point mass maps back to its category
	bad = h.roundTrip(rows)
	check("round_trip", float64(bad), bad == 0,
		fmt.Sprintf("%d measured rows fail the category round trip", bad))

	// 5. Identical evidence yields identical vectors
	bad = dedup(rows)
	check("dedup", float64(bad), bad == 0,
		fmt.Sprintf("%d rows diverge from students with identical evidence", bad))

	// 6. Failure rate: informational only
	rate := 0.0
	if queries > 0 {
		rate = float64(failures) / float64(queries)
	}
	metrics = append(metrics, EvalMetric{Name: "failure_rate", Value: rate, Pass: rate <= h.config.MaxFailureRate})

	passed := len(failReasons) == 0
	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}
	return EvalResult{Passed: passed, Metrics: metrics, Reason: reason}
}

// #endregion eval-harness

// #region checks
func (h *EvalHarness) normalization(rows []assemble.Row) float64 {
	worst := 0.0
	for _, r := range rows {
		if r.Tag == assemble.Unmeasured {
			continue
		}
		if len(r.Probabilities) != h.scale.K() {
			return math.Inf(1)
		}
		worst = math.Max(worst, math.Abs(floats.Sum(r.Probabilities)-1))
	}
	return worst
}

func (h *EvalHarness) pointMass(rows []assemble.Row) int {
	bad := 0
	for _, r := range rows {
		if r.Tag != assemble.Measured {
			continue
		}
		if !slices.Equal(r.Probabilities, h.scale.PointMass(r.CategoryIndex)) {
			bad++
		}
	}
	return bad
}

func (h *EvalHarness) roundTrip(rows []assemble.Row) int {
	bad := 0
	for _, r := range rows {
		if r.Tag != assemble.Measured || len(r.Probabilities) == 0 {
			continue
		}
		cat := floats.MaxIdx(r.Probabilities)
		if h.scale.Categorize(h.scale.Prevision(r.Probabilities)) != cat {
			bad++
		}
	}
	return bad
}

func coverage(cov Coverage) int {
	covered := make(map[int]bool)
	for _, c := range cov.Clusters {
		for _, v := range c {
			covered[v] = true
		}
	}
	seen := make(map[int]bool)
	missing := 0
	for _, vs := range [][]int{cov.Neighborhood, cov.Measured} {
		for _, v := range vs {
			if !covered[v] && !seen[v] {
				missing++
			}
			seen[v] = true
		}
	}
	return missing
}

// dedup groups students by their measured (standard, category) pairs and counts
// rows whose vector differs from the first student of the group.
func dedup(rows []assemble.Row) int {
	byStudent := make(map[string][]assemble.Row)
	var students []string
	for _, r := range rows {
		if _, ok := byStudent[r.StudentID]; !ok {
			students = append(students, r.StudentID)
		}
		byStudent[r.StudentID] = append(byStudent[r.StudentID], r)
	}

	reference := make(map[string]map[string][]float64)
	bad := 0
	for _, s := range students {
		sig := signature(byStudent[s])
		ref, ok := reference[sig]
		if !ok {
			ref = make(map[string][]float64)
			for _, r := range byStudent[s] {
				ref[r.StandardID] = r.Probabilities
			}
			reference[sig] = ref
			continue
		}
		for _, r := range byStudent[s] {
			if !slices.Equal(ref[r.StandardID], r.Probabilities) {
				bad++
			}
		}
	}
	return bad
}

func signature(rows []assemble.Row) string {
	var b strings.Builder
	for _, r := range rows {
		if r.Tag != assemble.Measured {
			continue
		}
		b.WriteString(r.StandardID)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(r.CategoryIndex))
		b.WriteByte(';')
	}
	return b.String()
}

// #endregion checks
