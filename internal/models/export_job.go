package models

import (
	"time"

	"github.com/google/uuid"
)

// ExportJobStatus is the lifecycle state of an export job.
type ExportJobStatus string

const (
	ExportJobStatusQueued     ExportJobStatus = "queued"
	ExportJobStatusProcessing ExportJobStatus = "processing"
	ExportJobStatusCompleted  ExportJobStatus = "completed"
	ExportJobStatusFailed     ExportJobStatus = "failed"
)

// ExportJob tracks an asynchronous export or destination-sync request that
// exceeded the synchronous routing threshold. Completed and Failed are
// terminal. There is no partial-success state: a run with some per-record
// write failures still completes, with the failure summary recorded on the
// destination rather than the job.
type ExportJob struct {
	JobID        uuid.UUID       `json:"job_id"` // UUIDv7
	OrgID        uuid.UUID       `json:"org_id"`
	Status       ExportJobStatus `json:"status"`
	ReceiptCount int             `json:"receipt_count"`
	Params       []byte          `json:"-"`                      // serialized request, replayed by the background runner
	ArtifactKey  string          `json:"artifact_key,omitempty"` // blob store key of the rendered artifact, exports only
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}
