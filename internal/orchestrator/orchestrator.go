// Package orchestrator runs one inference batch end to end: neighborhood,
// decomposition, grouping, parallel reduction and query, assembly and evaluation.
package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/knowledge-state/internal/assemble"
	"github.com/danielpatrickdp/knowledge-state/internal/bayesnet"
	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/decompose"
	"github.com/danielpatrickdp/knowledge-state/internal/eval"
	"github.com/danielpatrickdp/knowledge-state/internal/evidence"
	"github.com/danielpatrickdp/knowledge-state/internal/gate"
	"github.com/danielpatrickdp/knowledge-state/internal/graph"
	"github.com/danielpatrickdp/knowledge-state/internal/logging"
	"github.com/danielpatrickdp/knowledge-state/internal/mastery"
	"github.com/danielpatrickdp/knowledge-state/internal/reduce"
	"github.com/danielpatrickdp/knowledge-state/internal/source"
)

// #endregion

// #region orchestrator-struct

// Orchestrator is the top-level coordinator of a batch. It is safe for
// concurrent use by independent batches.
type Orchestrator struct {
	config Config
	log    *logging.Logger
	exact  bayesnet.Backend
	approx bayesnet.Backend
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithBackends replaces the exact and approximate backends.
func WithBackends(exact, approx bayesnet.Backend) Option {
	return func(o *Orchestrator) {
		o.exact = exact
		o.approx = approx
	}
}

// #endregion

// #region constructor

// New creates an orchestrator. The approximate backend defaults to the
// convergence ladder over loopy propagation.
func New(config Config, log *logging.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	o := &Orchestrator{config: config, log: log}
	for _, opt := range opts {
		opt(o)
	}
	if o.exact == nil {
		o.exact = bayesnet.NewExact(config.Exact)
	}
	if o.approx == nil {
		o.approx = NewLadder(config.Loopy, o.exact, gate.NewGate(config.Gate))
	}
	return o
}

// Config returns the pipeline configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// #endregion

// #region run

type task struct {
	cluster *decompose.Cluster
	group   evidence.Group
}

type result struct {
	out reduce.Outcome
	err error
}

// Run executes one batch. A cycle in the progression graph or an invalid scale
// or CPT aborts the batch; failures inside a cluster state are recorded in
// Output.Failures and the rest of the batch continues.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Output, error) {
	start := time.Now()
	b := in.Batch
	runID := in.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx, span := tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("tenant_id", b.TenantID),
		attribute.String("course_id", b.CourseID),
	))
	defer span.End()
	log := o.log.With("run_id", runID, "tenant_id", b.TenantID, "course_id", b.CourseID)

	out, err := o.run(ctx, log, runID, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		batchesTotal.WithLabelValues("error").Inc()
		log.Error("batch failed", "error", err)
		return Output{}, err
	}
	out.Stats.Elapsed = time.Since(start)
	if out.Eval.Passed {
		batchesTotal.WithLabelValues("ok").Inc()
	} else {
		batchesTotal.WithLabelValues("eval_failed").Inc()
		log.Warn("batch eval failed", "reason", out.Eval.Reason)
	}
	span.SetStatus(codes.Ok, "")
	log.Info("batch finished",
		"rows", len(out.Estimates),
		"tasks", out.Stats.Tasks,
		"queries", out.Stats.Queries,
		"failures", out.Stats.Failures,
		"elapsed", out.Stats.Elapsed,
	)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, log *logging.Logger, runID string, b source.Batch) (Output, error) {
	scale, err := mastery.NewScale(b.Categories)
	if err != nil {
		return Output{}, fmt.Errorf("load scale: %w", err)
	}
	repo, err := cpt.NewRepository(scale.K(), b.CPT)
	if err != nil {
		return Output{}, fmt.Errorf("load cpt: %w", err)
	}

	standards := b.Standards
	if len(standards) == 0 {
		standards = inferScope(b)
	}
	students := b.Students
	if len(students) == 0 {
		students = inferStudents(b.Records)
	}
	records, report := evidence.Reduce(b.Records, students, standards)
	log.Info("batch started",
		"students", len(students),
		"standards", len(standards),
		"records", report.Input,
		"kept", report.Kept,
		"superseded", report.Superseded,
		"out_of_scope", report.OutOfScope,
		"unenrolled", report.Unenrolled,
	)

	full, err := graph.Build(standards, graph.Restrict(b.Edges, standards))
	if err != nil {
		return Output{}, fmt.Errorf("build progression graph: %w", err)
	}
	st := evidence.NewState(full.Arena(), students, records, scale)

	dc := decompose.New(o.config.Decompose)
	n := dc.Neighborhood(full, st.Seeds())
	measured := st.MeasuredSet(n.Vertices())
	clusters := dc.Decompose(n, measured)

	stats := Stats{
		Students:     len(students),
		Standards:    full.Order(),
		Evidence:     report,
		Neighborhood: n.Order(),
		Clusters:     make(map[decompose.Kind]int),
	}
	var tasks []task
	for i := range clusters {
		c := &clusters[i]
		stats.Clusters[c.Kind]++
		clustersTotal.WithLabelValues(string(c.Kind)).Inc()
		for _, g := range st.Groups(c.Vertices()) {
			if len(g.Evidence) == 0 && o.config.SkipEmptyEvidence {
				stats.Skipped++
				continue
			}
			tasks = append(tasks, task{cluster: c, group: g})
		}
	}
	stats.Tasks = len(tasks)
	log.Debug("decomposed", "neighborhood", n.Order(), "clusters", len(clusters), "tasks", len(tasks), "skipped", stats.Skipped)

	results, err := o.dispatch(ctx, repo, tasks)
	if err != nil {
		return Output{}, err
	}

	out := Output{RunID: runID, TenantID: b.TenantID, CourseID: b.CourseID, AsOf: b.AsOf}
	acc := assemble.NewAccumulator(scale.K())
	for i, t := range tasks {
		res := results[i]
		if res.err != nil {
			f := Failure{
				ClusterKey: t.cluster.Key,
				StateID:    t.group.ID,
				Students:   len(t.group.Students),
				Stage:      stageOf(res.err),
				Err:        res.err,
			}
			out.Failures = append(out.Failures, f)
			failuresTotal.WithLabelValues(string(f.Stage)).Inc()
			log.Warn("cluster state failed",
				"cluster", f.ClusterKey, "state", fmt.Sprintf("%016x", f.StateID),
				"stage", f.Stage, "students", f.Students, "error", f.Err)
			continue
		}
		for _, row := range t.group.Students {
			for v, p := range res.out.Posterior {
				acc.Add(row, v, p)
			}
		}
		out.Diagnostics = append(out.Diagnostics, diagnostics(runID, t, res.out)...)
	}
	for _, d := range out.Diagnostics {
		if d.Order > 0 && d.Approach != "" {
			stats.Queries++
		}
		if d.Approach == unconverged {
			stats.Unconverged++
		}
	}
	stats.Failures = len(out.Failures)

	out.Estimates = assemble.New(o.config.Assemble, scale).Assemble(acc, st, full.Vertices(), b.AsOf)

	cov := eval.Coverage{Neighborhood: n.Vertices(), Clusters: make([][]int, len(clusters))}
	for v := range measured {
		cov.Measured = append(cov.Measured, v)
	}
	sort.Ints(cov.Measured)
	for i, c := range clusters {
		cov.Clusters[i] = c.Vertices()
	}
	out.Eval = eval.NewEvalHarness(o.config.Eval, scale).Run(out.Estimates, cov, len(tasks), len(out.Failures))
	out.Stats = stats
	return out, nil
}

// #endregion

// #region dispatch

// dispatch solves every task on a bounded worker pool. Each task writes only its
// own result slot, so merging afterwards in task order keeps aggregation
// deterministic. Only cancellation of ctx aborts the pool.
func (o *Orchestrator) dispatch(ctx context.Context, repo *cpt.Repository, tasks []task) ([]result, error) {
	reducer := reduce.New(o.config.Reduce, repo, gate.NewGate(o.config.Gate), o.exact, o.approx)
	results := make([]result, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Workers)
	for i := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := o.solve(gctx, reducer, tasks[i])
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			results[i] = result{out: out, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	return results, nil
}

func (o *Orchestrator) solve(ctx context.Context, reducer *reduce.Reducer, t task) (reduce.Outcome, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.solve", trace.WithAttributes(
		attribute.String("cluster", t.cluster.Key),
		attribute.Int("order", t.cluster.Graph.Order()),
		attribute.Int("evidence", len(t.group.Evidence)),
	))
	defer span.End()

	if o.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.QueryTimeout)
		defer cancel()
	}
	out, err := reducer.Solve(ctx, t.cluster.Graph, t.cluster.Shape(), bayesnet.Evidence(t.group.Evidence))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reduce.Outcome{}, err
	}
	for _, q := range out.Queries {
		queriesTotal.WithLabelValues(q.Approach, string(q.Path)).Inc()
		queryDuration.WithLabelValues(q.Approach).Observe(q.Elapsed.Seconds())
	}
	span.SetAttributes(attribute.String("path", string(out.Path)), attribute.Int("queries", len(out.Queries)))
	return out, nil
}

// #endregion

// #region helpers

const unconverged = "approximate-unconverged"

func diagnostics(runID string, t task, out reduce.Outcome) []logging.DiagnosticEntry {
	base := logging.DiagnosticEntry{
		RunID:       runID,
		ClusterKey:  t.cluster.Key,
		ClusterKind: string(t.cluster.Kind),
		StateID:     t.group.ID,
		Students:    len(t.group.Students),
	}
	if len(out.Queries) == 0 {
		e := base
		e.Path = string(out.Path)
		e.Order = t.cluster.Graph.Order()
		e.Edges = t.cluster.Graph.Size()
		e.Measured = len(t.group.Evidence)
		e.Estimated = e.Order - e.Measured
		return []logging.DiagnosticEntry{e}
	}
	entries := make([]logging.DiagnosticEntry, 0, len(out.Queries))
	for _, q := range out.Queries {
		e := base
		e.Path = string(q.Path)
		e.Approach = q.Approach
		if !q.Converged {
			e.Approach = unconverged
		}
		e.Reason = q.Reason
		e.Order = q.Order
		e.Edges = q.Edges
		e.Measured = q.Measured
		e.Estimated = q.Estimated
		e.Elapsed = q.Elapsed
		entries = append(entries, e)
	}
	return entries
}

func stageOf(err error) Stage {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return StageTimeout
	case errors.Is(err, cpt.ErrMissingEntry):
		return StageCPT
	default:
		return StageSolve
	}
}

// inferScope is used when a batch names no standards: every vertex mentioned by
// an edge or a record is in scope.
func inferScope(b source.Batch) []string {
	seen := make(map[string]bool)
	for _, e := range b.Edges {
		seen[e.From] = true
		seen[e.To] = true
	}
	for _, r := range b.Records {
		seen[r.StandardID] = true
	}
	return sortedKeys(seen)
}

func inferStudents(records []evidence.Record) []string {
	seen := make(map[string]bool)
	for _, r := range records {
		seen[r.StudentID] = true
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// #endregion
