package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

// ExportJobStore implements store.ExportJobStore using PostgreSQL.
type ExportJobStore struct {
	pool *pgxpool.Pool
}

// NewExportJobStore creates a PostgreSQL-backed export job store.
func NewExportJobStore(pool *pgxpool.Pool) *ExportJobStore {
	return &ExportJobStore{pool: pool}
}

const exportJobColumns = `
	job_id, org_id, status, receipt_count, params, artifact_key,
	error, created_at, completed_at
`

func scanExportJob(row pgx.Row) (*models.ExportJob, error) {
	var job models.ExportJob
	err := row.Scan(
		&job.JobID,
		&job.OrgID,
		&job.Status,
		&job.ReceiptCount,
		&job.Params,
		&job.ArtifactKey,
		&job.Error,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Create creates a new export job.
func (s *ExportJobStore) Create(ctx context.Context, job *models.ExportJob) error {
	query := `
		INSERT INTO export_jobs (` + exportJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		job.JobID,
		job.OrgID,
		job.Status,
		job.ReceiptCount,
		job.Params,
		job.ArtifactKey,
		job.Error,
		job.CreatedAt,
		job.CompletedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrExportJobAlreadyExists
		}
		return fmt.Errorf("failed to create export job: %w", mapPostgresError(err))
	}

	return nil
}

// Get retrieves an export job by ID within the organization.
func (s *ExportJobStore) Get(ctx context.Context, orgID, jobID uuid.UUID) (*models.ExportJob, error) {
	query := `
		SELECT ` + exportJobColumns + `
		FROM export_jobs
		WHERE org_id = $1 AND job_id = $2
	`

	job, err := scanExportJob(s.pool.QueryRow(ctx, query, orgID, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrExportJobNotFound
		}
		return nil, fmt.Errorf("failed to get export job: %w", mapPostgresError(err))
	}

	return job, nil
}

// Update updates an existing export job.
func (s *ExportJobStore) Update(ctx context.Context, job *models.ExportJob) error {
	query := `
		UPDATE export_jobs SET
			status = $3,
			receipt_count = $4,
			artifact_key = $5,
			error = $6,
			completed_at = $7
		WHERE org_id = $1 AND job_id = $2
	`

	result, err := s.pool.Exec(ctx, query,
		job.OrgID,
		job.JobID,
		job.Status,
		job.ReceiptCount,
		job.ArtifactKey,
		job.Error,
		job.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update export job: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrExportJobNotFound
	}

	return nil
}

// ListByOrg returns all export jobs for the organization, newest first.
func (s *ExportJobStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.ExportJob, error) {
	query := `
		SELECT ` + exportJobColumns + `
		FROM export_jobs
		WHERE org_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list export jobs: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var jobs []*models.ExportJob
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}
