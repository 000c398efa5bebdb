package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

const jobQueueDepth = 256

type queuedJob struct {
	orgID uuid.UUID
	jobID uuid.UUID
}

// JobRunner executes queued export jobs on a pool of workers.
type JobRunner struct {
	jobs         store.ExportJobStore
	orchestrator *Orchestrator
	workers      int
	jobTimeout   time.Duration

	queue  chan queuedJob
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewJobRunner creates a runner with the given worker count and binds it to
// the orchestrator so queued jobs are handed off automatically.
func NewJobRunner(jobs store.ExportJobStore, orchestrator *Orchestrator, workers int, jobTimeout time.Duration) *JobRunner {
	if workers <= 0 {
		workers = 4
	}
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}

	runner := &JobRunner{
		jobs:         jobs,
		orchestrator: orchestrator,
		workers:      workers,
		jobTimeout:   jobTimeout,
		queue:        make(chan queuedJob, jobQueueDepth),
	}
	orchestrator.runner = runner

	return runner
}

// Start launches the worker pool.
func (r *JobRunner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}

	log.Ctx(ctx).Info().Int("workers", r.workers).Msg("Export job runner started")
}

// Stop shuts the pool down and fails any job still waiting in the queue so
// no job is left queued forever.
func (r *JobRunner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	close(r.queue)
	r.wg.Wait()

	ctx := context.Background()
	for queued := range r.queue {
		r.abandon(ctx, queued)
	}
}

// Enqueue hands a queued job to the worker pool. When the queue is full the
// job stays in the store in queued state for a later sweep.
func (r *JobRunner) Enqueue(orgID, jobID uuid.UUID) {
	select {
	case r.queue <- queuedJob{orgID: orgID, jobID: jobID}:
	default:
		log.Warn().
			Str("job_id", jobID.String()).
			Msg("Job queue full, leaving job queued in store")
	}
}

func (r *JobRunner) worker(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case queued, ok := <-r.queue:
			if !ok {
				return
			}
			r.run(ctx, queued)
		}
	}
}

func (r *JobRunner) run(ctx context.Context, queued queuedJob) {
	ctx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	if err := r.orchestrator.executeJob(ctx, queued.orgID, queued.jobID); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("job_id", queued.jobID.String()).
			Msg("Export job execution failed")
	}
}

// abandon marks a job that never ran as failed, its terminal status must
// reflect that no output was produced.
func (r *JobRunner) abandon(ctx context.Context, queued queuedJob) {
	job, err := r.jobs.Get(ctx, queued.orgID, queued.jobID)
	if err != nil {
		return
	}
	if job.Status != models.ExportJobStatusQueued {
		return
	}

	now := time.Now()
	job.Status = models.ExportJobStatusFailed
	job.Error = "abandoned on shutdown"
	job.CompletedAt = &now

	if err := r.jobs.Update(ctx, job); err != nil {
		log.Error().Err(err).
			Str("job_id", queued.jobID.String()).
			Msg("Failed to mark abandoned job")
	}
}
