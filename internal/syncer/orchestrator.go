package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ledgerline/ledgerline/internal/blob"
	"github.com/ledgerline/ledgerline/internal/connections"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
	"github.com/ledgerline/ledgerline/internal/telemetry"
)

// DefaultSyncThreshold is the largest batch executed inline. Larger batches
// are routed to a background export job.
const DefaultSyncThreshold = 200

// ErrDestinationNotRunning rejects syncs against paused or archived
// destinations.
var ErrDestinationNotRunning = fmt.Errorf("destination is not running")

// ExportRequest selects the receipts, columns, and format of an export.
type ExportRequest struct {
	Filter   store.ReceiptFilter `json:"filter"`
	Columns  []string            `json:"columns,omitempty"`
	Format   ExportFormat        `json:"format,omitempty"`
	Compress bool                `json:"compress,omitempty"`
}

// ExportOutcome is either an inline artifact or a queued job, never both.
type ExportOutcome struct {
	Artifact *Artifact
	Job      *models.ExportJob
}

// SyncOutcome reports an inline destination sync, or the queued job when the
// batch exceeded the synchronous threshold.
type SyncOutcome struct {
	RowsWritten int
	RowsFailed  int
	Job         *models.ExportJob
}

type jobKind string

const (
	jobKindExport jobKind = "export"
	jobKindSync   jobKind = "sync"
)

// jobParams is the serialized request replayed by the background runner.
type jobParams struct {
	Kind          jobKind             `json:"kind"`
	DestinationID *uuid.UUID          `json:"destination_id,omitempty"`
	Filter        store.ReceiptFilter `json:"filter"`
	Columns       []string            `json:"columns,omitempty"`
	Format        ExportFormat        `json:"format,omitempty"`
	Compress      bool                `json:"compress,omitempty"`
}

// Orchestrator routes export and destination-sync requests between inline
// execution and background jobs, and owns the per-record write loop.
type Orchestrator struct {
	receipts     store.ReceiptStore
	destinations store.DestinationStore
	jobs         store.ExportJobStore
	connections  *connections.Manager
	blobs        blob.Store
	factories    writerFactories
	threshold    int
	runner       *JobRunner
}

// NewOrchestrator creates the sync/export orchestrator. The runner must be
// bound with Bind before async routing is used.
func NewOrchestrator(
	receipts store.ReceiptStore,
	destinations store.DestinationStore,
	jobs store.ExportJobStore,
	connManager *connections.Manager,
	blobs blob.Store,
	threshold int,
) *Orchestrator {
	if threshold <= 0 {
		threshold = DefaultSyncThreshold
	}

	return &Orchestrator{
		receipts:     receipts,
		destinations: destinations,
		jobs:         jobs,
		connections:  connManager,
		blobs:        blobs,
		threshold:    threshold,
		factories: writerFactories{
			models.ConnectionTypeGoogle: &SheetsWriterFactory{},
			models.ConnectionTypeNotion: &NotionWriterFactory{},
		},
	}
}

// RegisterWriterFactory overrides the writer factory for a destination type.
func (o *Orchestrator) RegisterWriterFactory(connType models.ConnectionType, factory WriterFactory) {
	o.factories[connType] = factory
}

// Export renders the selected receipts inline when the batch is at or below
// the threshold, otherwise queues an export job and returns its metadata.
func (o *Orchestrator) Export(ctx context.Context, orgID uuid.UUID, req ExportRequest) (*ExportOutcome, error) {
	if err := validateColumns(req.Columns); err != nil {
		return nil, err
	}

	matched, err := o.eligibleReceipts(ctx, orgID, req.Filter)
	if err != nil {
		return nil, err
	}

	if len(matched) <= o.threshold {
		artifact, err := o.render(ctx, matched, req)
		if err != nil {
			return nil, err
		}
		return &ExportOutcome{Artifact: artifact}, nil
	}

	job, err := o.queueJob(ctx, orgID, len(matched), jobParams{
		Kind:     jobKindExport,
		Filter:   req.Filter,
		Columns:  req.Columns,
		Format:   req.Format,
		Compress: req.Compress,
	})
	if err != nil {
		return nil, err
	}

	return &ExportOutcome{Job: job}, nil
}

// SyncDestination writes the selected receipts to a live destination,
// routing oversized batches to a background job. Precondition failures (a
// missing or non-running destination, an unusable connection) abort before
// any write; per-record write failures do not.
func (o *Orchestrator) SyncDestination(ctx context.Context, orgID, destinationID uuid.UUID, filter store.ReceiptFilter) (*SyncOutcome, error) {
	destination, err := o.destinations.Get(ctx, orgID, destinationID)
	if err != nil {
		return nil, err
	}
	if destination.Status != models.DestinationStatusRunning {
		return nil, ErrDestinationNotRunning
	}

	matched, err := o.eligibleReceipts(ctx, orgID, filter)
	if err != nil {
		return nil, err
	}

	if len(matched) > o.threshold {
		job, err := o.queueJob(ctx, orgID, len(matched), jobParams{
			Kind:          jobKindSync,
			DestinationID: &destinationID,
			Filter:        filter,
		})
		if err != nil {
			return nil, err
		}
		return &SyncOutcome{Job: job}, nil
	}

	written, failures, err := o.runSync(ctx, destination, matched)
	if err != nil {
		return nil, err
	}

	return &SyncOutcome{RowsWritten: written, RowsFailed: len(failures)}, nil
}

// eligibleReceipts lists extracted receipts matching the filter. Archived
// receipts never sync or export, and only extracted ones carry data.
func (o *Orchestrator) eligibleReceipts(ctx context.Context, orgID uuid.UUID, filter store.ReceiptFilter) ([]*models.Receipt, error) {
	filter.Statuses = []models.ReceiptStatus{models.ReceiptStatusExtracted}
	return o.receipts.List(ctx, orgID, filter)
}

func (o *Orchestrator) render(ctx context.Context, matched []*models.Receipt, req ExportRequest) (*Artifact, error) {
	started := time.Now()

	artifact, err := Render(matched, req.Columns, req.Format, req.Compress)
	if err != nil {
		return nil, err
	}

	telemetry.GetMetrics().ExportRenderDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	return artifact, nil
}

// runSync performs the per-record write loop. Every receipt is attempted,
// failures accumulate, and lastSyncedAt reflects the attempt either way.
func (o *Orchestrator) runSync(ctx context.Context, destination *models.Destination, matched []*models.Receipt) (int, []*DestinationWriteError, error) {
	metrics := telemetry.GetMetrics()

	token, err := o.connections.AccessToken(ctx, destination.OrgID, destination.ConnectionID)
	if err != nil {
		return 0, nil, err
	}

	factory, err := o.factories.forDestination(destination)
	if err != nil {
		return 0, nil, err
	}

	writer, err := factory.NewWriter(ctx, token, destination)
	if err != nil {
		return 0, nil, err
	}

	columns := destination.Config.Columns()
	if len(columns) == 0 {
		columns = DefaultColumns
	}

	var written int
	var failures []*DestinationWriteError
	for _, receipt := range matched {
		if err := writer.WriteReceipt(ctx, receipt, columns); err != nil {
			failures = append(failures, &DestinationWriteError{ReceiptID: receipt.ReceiptID, Err: err})
			metrics.DestinationWriteErrorsTotal.Add(ctx, 1)
			continue
		}
		written++
		metrics.DestinationWritesTotal.Add(ctx, 1)
	}

	now := time.Now()
	destination.LastSyncedAt = &now
	destination.SyncError = summarizeFailures(failures)
	destination.UpdatedAt = now

	if err := o.destinations.Update(ctx, destination); err != nil {
		return written, failures, err
	}

	metrics.SyncRunsTotal.Add(ctx, 1)

	log.Ctx(ctx).Info().
		Str("destination_id", destination.DestinationID.String()).
		Int("written", written).
		Int("failed", len(failures)).
		Msg("Destination sync run finished")

	return written, failures, nil
}

// summarizeFailures builds the destination error summary, empty on a clean
// run.
func summarizeFailures(failures []*DestinationWriteError) string {
	if len(failures) == 0 {
		return ""
	}

	shown := failures
	if len(shown) > 3 {
		shown = shown[:3]
	}

	parts := make([]string, 0, len(shown))
	for _, failure := range shown {
		parts = append(parts, failure.Error())
	}

	summary := fmt.Sprintf("%d write(s) failed: %s", len(failures), strings.Join(parts, "; "))
	if len(failures) > len(shown) {
		summary += "; …"
	}
	return summary
}

func (o *Orchestrator) queueJob(ctx context.Context, orgID uuid.UUID, receiptCount int, params jobParams) (*models.ExportJob, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job params: %w", err)
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job ID: %w", err)
	}

	job := &models.ExportJob{
		JobID:        jobID,
		OrgID:        orgID,
		Status:       models.ExportJobStatusQueued,
		ReceiptCount: receiptCount,
		Params:       encoded,
		CreatedAt:    time.Now(),
	}

	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if o.runner != nil {
		o.runner.Enqueue(orgID, jobID)
	}

	telemetry.GetMetrics().ExportJobsQueuedTotal.Add(ctx, 1)

	log.Ctx(ctx).Info().
		Str("job_id", jobID.String()).
		Str("org_id", orgID.String()).
		Str("kind", string(params.Kind)).
		Int("receipt_count", receiptCount).
		Msg("Export job queued")

	return job, nil
}

// executeJob replays a queued job. Called by the background runner.
func (o *Orchestrator) executeJob(ctx context.Context, orgID, jobID uuid.UUID) error {
	metrics := telemetry.GetMetrics()

	job, err := o.jobs.Get(ctx, orgID, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.ExportJobStatusQueued {
		return nil
	}

	job.Status = models.ExportJobStatusProcessing
	if err := o.jobs.Update(ctx, job); err != nil {
		return err
	}

	var params jobParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return o.failJob(ctx, job, fmt.Errorf("failed to unmarshal job params: %w", err))
	}

	switch params.Kind {
	case jobKindExport:
		matched, err := o.eligibleReceipts(ctx, orgID, params.Filter)
		if err != nil {
			return o.failJob(ctx, job, err)
		}

		artifact, err := o.render(ctx, matched, ExportRequest{
			Columns:  params.Columns,
			Format:   params.Format,
			Compress: params.Compress,
		})
		if err != nil {
			return o.failJob(ctx, job, err)
		}

		key := fmt.Sprintf("orgs/%s/exports/%s/%s", orgID, jobID, artifact.Filename)
		if err := o.blobs.Upload(ctx, key, artifact.ContentType, artifact.Data); err != nil {
			return o.failJob(ctx, job, err)
		}

		job.ArtifactKey = key
		job.ReceiptCount = len(matched)

	case jobKindSync:
		if params.DestinationID == nil {
			return o.failJob(ctx, job, fmt.Errorf("sync job missing destination id"))
		}

		destination, err := o.destinations.Get(ctx, orgID, *params.DestinationID)
		if err != nil {
			return o.failJob(ctx, job, err)
		}
		if destination.Status != models.DestinationStatusRunning {
			return o.failJob(ctx, job, ErrDestinationNotRunning)
		}

		matched, err := o.eligibleReceipts(ctx, orgID, params.Filter)
		if err != nil {
			return o.failJob(ctx, job, err)
		}

		// Per-record failures land on the destination summary; the job
		// itself still completes.
		if _, _, err := o.runSync(ctx, destination, matched); err != nil {
			return o.failJob(ctx, job, err)
		}
		job.ReceiptCount = len(matched)

	default:
		return o.failJob(ctx, job, fmt.Errorf("unknown job kind: %q", params.Kind))
	}

	now := time.Now()
	job.Status = models.ExportJobStatusCompleted
	job.CompletedAt = &now

	if err := o.jobs.Update(ctx, job); err != nil {
		return err
	}

	metrics.ExportJobsCompletedTotal.Add(ctx, 1)

	log.Ctx(ctx).Info().
		Str("job_id", jobID.String()).
		Msg("Export job completed")

	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, job *models.ExportJob, cause error) error {
	now := time.Now()
	job.Status = models.ExportJobStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &now

	if err := o.jobs.Update(ctx, job); err != nil {
		return err
	}

	telemetry.GetMetrics().ExportJobsFailedTotal.Add(ctx, 1)

	log.Ctx(ctx).Error().Err(cause).
		Str("job_id", job.JobID.String()).
		Msg("Export job failed")

	return cause
}

// GetJob returns a single export job scoped to the organization.
func (o *Orchestrator) GetJob(ctx context.Context, orgID, jobID uuid.UUID) (*models.ExportJob, error) {
	return o.jobs.Get(ctx, orgID, jobID)
}
