package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/models"
)

// ExportJobStore defines the interface for export job storage operations.
type ExportJobStore interface {
	// Create creates a new export job.
	Create(ctx context.Context, job *models.ExportJob) error

	// Get retrieves an export job by ID within the organization.
	// Returns ErrExportJobNotFound if absent or owned by another organization.
	Get(ctx context.Context, orgID, jobID uuid.UUID) (*models.ExportJob, error)

	// Update updates an existing export job.
	Update(ctx context.Context, job *models.ExportJob) error

	// ListByOrg returns the organization's export jobs, newest first.
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.ExportJob, error)
}
