package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

// ReceiptStore implements store.ReceiptStore using in-memory storage.
// This implementation is for development and tests - data is lost on restart.
type ReceiptStore struct {
	mu       sync.RWMutex
	receipts map[uuid.UUID]*models.Receipt
}

// NewReceiptStore creates a new in-memory receipt store.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		receipts: make(map[uuid.UUID]*models.Receipt),
	}
}

// Create creates a new receipt in memory.
func (s *ReceiptStore) Create(ctx context.Context, receipt *models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[receipt.ReceiptID]; exists {
		return store.ErrReceiptAlreadyExists
	}

	clone := cloneReceipt(receipt)
	s.receipts[receipt.ReceiptID] = clone

	return nil
}

// Get retrieves a receipt by ID, scoped to the organization.
func (s *ReceiptStore) Get(ctx context.Context, orgID, receiptID uuid.UUID) (*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, exists := s.receipts[receiptID]
	if !exists || receipt.OrgID != orgID {
		return nil, store.ErrReceiptNotFound
	}

	return cloneReceipt(receipt), nil
}

// Update updates an existing receipt.
func (s *ReceiptStore) Update(ctx context.Context, receipt *models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[receipt.ReceiptID]; !exists {
		return store.ErrReceiptNotFound
	}

	receipt.UpdatedAt = time.Now()
	s.receipts[receipt.ReceiptID] = cloneReceipt(receipt)

	return nil
}

// FindByImageHash returns the first receipt matching the hash query.
func (s *ReceiptStore) FindByImageHash(ctx context.Context, q store.HashQuery) (*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.receipts {
		if r.OrgID != q.OrgID || r.ImageHash != q.ImageHash {
			continue
		}
		if q.ExcludeReceiptID != nil && r.ReceiptID == *q.ExcludeReceiptID {
			continue
		}
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, r.Status) {
			continue
		}
		return cloneReceipt(r), nil
	}

	return nil, store.ErrReceiptNotFound
}

// List returns the organization's receipts matching the filter, newest first.
func (s *ReceiptStore) List(ctx context.Context, orgID uuid.UUID, filter store.ReceiptFilter) ([]*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Receipt
	for _, r := range s.receipts {
		if r.OrgID != orgID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, r.Status) {
			continue
		}
		if !matchesDateRange(r, filter.From, filter.To) {
			continue
		}
		if len(filter.Categories) > 0 {
			if r.Extraction == nil || !slices.Contains(filter.Categories, r.Extraction.Category) {
				continue
			}
		}
		result = append(result, cloneReceipt(r))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// CountNonArchivedSince counts non-archived receipts created at or after since.
func (s *ReceiptStore) CountNonArchivedSince(ctx context.Context, orgID uuid.UUID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.receipts {
		if r.OrgID != orgID || r.Status == models.ReceiptStatusArchived {
			continue
		}
		if r.CreatedAt.Before(since) {
			continue
		}
		count++
	}

	return count, nil
}

func matchesDateRange(r *models.Receipt, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	if r.Extraction == nil || r.Extraction.Date == nil {
		return false
	}
	d := *r.Extraction.Date
	if from != nil && d.Before(*from) {
		return false
	}
	if to != nil && d.After(*to) {
		return false
	}
	return true
}

// cloneReceipt deep-copies a receipt to avoid external modifications.
func cloneReceipt(r *models.Receipt) *models.Receipt {
	clone := *r
	if r.Extraction != nil {
		extraction := *r.Extraction
		clone.Extraction = &extraction
	}
	if r.ConfidenceScore != nil {
		score := *r.ConfidenceScore
		clone.ConfidenceScore = &score
	}
	return &clone
}
