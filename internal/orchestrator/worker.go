package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/knowledge-state/internal/jobs"
	"github.com/danielpatrickdp/knowledge-state/internal/logging"
	"github.com/danielpatrickdp/knowledge-state/internal/source"
	"github.com/danielpatrickdp/knowledge-state/internal/state"
)

// #endregion

// #region worker

// Worker drives pending course jobs through the pipeline.
type Worker struct {
	orch  *Orchestrator
	src   source.Source
	store *state.Store
	jobs  *jobs.Store
	log   *logging.Logger
}

// NewWorker creates a worker.
func NewWorker(orch *Orchestrator, src source.Source, store *state.Store, js *jobs.Store, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.Nop()
	}
	return &Worker{orch: orch, src: src, store: store, jobs: js, log: log}
}

// #endregion

// #region run-once

// RunOnce claims one pending job and runs it to a terminal status. It returns
// jobs.ErrNoJob when nothing is pending. Pipeline errors end the job in ERROR
// and are not returned; only job bookkeeping errors are.
func (w *Worker) RunOnce(ctx context.Context) (jobs.Job, error) {
	job, err := w.jobs.Claim()
	if err != nil {
		return jobs.Job{}, err
	}
	log := w.log.With("tenant_id", job.TenantID, "course_id", job.CourseID)

	status, runID, msg := w.process(ctx, log, job)
	if err := w.jobs.Finish(job.TenantID, job.CourseID, status, runID, msg); err != nil {
		return job, fmt.Errorf("finish job: %w", err)
	}
	job.Status, job.RunID, job.Message = status, runID, msg
	log.Info("job finished", "status", status, "run_id", runID, "message", msg)
	return job, nil
}

func (w *Worker) process(ctx context.Context, log *logging.Logger, job jobs.Job) (jobs.Status, string, string) {
	batch, err := w.src.Load(ctx, job.TenantID, job.CourseID)
	if errors.Is(err, source.ErrNoEnrollment) {
		return jobs.NotProcessed, "", err.Error()
	}
	if err != nil {
		return jobs.Error, "", fmt.Sprintf("load batch: %v", err)
	}
	rec, err := w.store.NewRun(job.TenantID, job.CourseID, batch.AsOf)
	if err != nil {
		return jobs.Error, "", fmt.Sprintf("allocate run: %v", err)
	}
	out, err := w.orch.Run(ctx, Input{RunID: rec.RunID, Batch: batch})
	if err != nil {
		return jobs.Error, "", err.Error()
	}
	if err := Persist(w.store, rec, out); err != nil {
		log.Error("persist failed", "error", err)
		return jobs.Error, "", err.Error()
	}
	msg := ""
	if len(out.Failures) > 0 {
		msg = fmt.Sprintf("%d of %d cluster states failed", len(out.Failures), out.Stats.Tasks)
	}
	if !out.Eval.Passed {
		msg = out.Eval.Reason
	}
	return jobs.Done, rec.RunID, msg
}

// #endregion

// #region loop

// Loop polls for pending jobs every interval until ctx is done.
func (w *Worker) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			_, err := w.RunOnce(ctx)
			if errors.Is(err, jobs.ErrNoJob) {
				break
			}
			if err != nil {
				w.log.Error("job bookkeeping failed", "error", err)
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// #endregion
