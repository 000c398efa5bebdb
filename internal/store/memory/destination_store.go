package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

// DestinationStore implements store.DestinationStore using in-memory storage.
type DestinationStore struct {
	mu           sync.RWMutex
	destinations map[uuid.UUID]*models.Destination
}

// NewDestinationStore creates a new in-memory destination store.
func NewDestinationStore() *DestinationStore {
	return &DestinationStore{
		destinations: make(map[uuid.UUID]*models.Destination),
	}
}

// Create creates a new destination in memory.
func (s *DestinationStore) Create(ctx context.Context, dest *models.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.destinations[dest.DestinationID]; exists {
		return store.ErrDestinationAlreadyExists
	}

	s.destinations[dest.DestinationID] = cloneDestination(dest)

	return nil
}

// Get retrieves a destination by ID, scoped to the organization.
func (s *DestinationStore) Get(ctx context.Context, orgID, destinationID uuid.UUID) (*models.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dest, exists := s.destinations[destinationID]
	if !exists || dest.OrgID != orgID {
		return nil, store.ErrDestinationNotFound
	}

	return cloneDestination(dest), nil
}

// Update updates an existing destination.
func (s *DestinationStore) Update(ctx context.Context, dest *models.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.destinations[dest.DestinationID]; !exists {
		return store.ErrDestinationNotFound
	}

	dest.UpdatedAt = time.Now()
	s.destinations[dest.DestinationID] = cloneDestination(dest)

	return nil
}

// ListByOrg returns all of the organization's destinations, newest first.
func (s *DestinationStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Destination
	for _, d := range s.destinations {
		if d.OrgID != orgID {
			continue
		}
		result = append(result, cloneDestination(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// CountNonArchived counts the organization's non-archived destinations.
func (s *DestinationStore) CountNonArchived(ctx context.Context, orgID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, d := range s.destinations {
		if d.OrgID != orgID || d.Status == models.DestinationStatusArchived {
			continue
		}
		count++
	}

	return count, nil
}

func cloneDestination(d *models.Destination) *models.Destination {
	clone := *d
	if d.Config.GoogleSheets != nil {
		cfg := *d.Config.GoogleSheets
		cfg.Columns = append([]string(nil), d.Config.GoogleSheets.Columns...)
		clone.Config.GoogleSheets = &cfg
	}
	if d.Config.Notion != nil {
		cfg := *d.Config.Notion
		cfg.Columns = append([]string(nil), d.Config.Notion.Columns...)
		clone.Config.Notion = &cfg
	}
	if d.LastSyncedAt != nil {
		t := *d.LastSyncedAt
		clone.LastSyncedAt = &t
	}
	return &clone
}
