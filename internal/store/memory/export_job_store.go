package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

// ExportJobStore implements store.ExportJobStore using in-memory storage.
type ExportJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.ExportJob
}

// NewExportJobStore creates a new in-memory export job store.
func NewExportJobStore() *ExportJobStore {
	return &ExportJobStore{
		jobs: make(map[uuid.UUID]*models.ExportJob),
	}
}

// Create creates a new export job in memory.
func (s *ExportJobStore) Create(ctx context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return store.ErrExportJobAlreadyExists
	}

	s.jobs[job.JobID] = cloneExportJob(job)

	return nil
}

// Get retrieves an export job by ID, scoped to the organization.
func (s *ExportJobStore) Get(ctx context.Context, orgID, jobID uuid.UUID) (*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists || job.OrgID != orgID {
		return nil, store.ErrExportJobNotFound
	}

	return cloneExportJob(job), nil
}

// Update updates an existing export job.
func (s *ExportJobStore) Update(ctx context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; !exists {
		return store.ErrExportJobNotFound
	}

	s.jobs[job.JobID] = cloneExportJob(job)

	return nil
}

// ListByOrg returns the organization's export jobs, newest first.
func (s *ExportJobStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.ExportJob
	for _, j := range s.jobs {
		if j.OrgID != orgID {
			continue
		}
		result = append(result, cloneExportJob(j))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

func cloneExportJob(j *models.ExportJob) *models.ExportJob {
	clone := *j
	clone.Params = append([]byte(nil), j.Params...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}
