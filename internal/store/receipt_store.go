package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/models"
)

// HashQuery is the dedup lookup surface: equality on organization and hash, a
// status membership filter, and an optional not-equal exclusion on receipt id.
// At most one record is returned (unordered first match).
type HashQuery struct {
	OrgID            uuid.UUID
	ImageHash        string
	Statuses         []models.ReceiptStatus
	ExcludeReceiptID *uuid.UUID
}

// ReceiptFilter selects receipts for listing, export and sync.
type ReceiptFilter struct {
	From       *time.Time             `json:"from,omitempty"` // inclusive, on the extracted transaction date
	To         *time.Time             `json:"to,omitempty"`   // inclusive
	Categories []string               `json:"categories,omitempty"`
	Statuses   []models.ReceiptStatus `json:"statuses,omitempty"`
}

// ReceiptStore defines the interface for receipt storage operations.
// All reads and writes are tenant-scoped: a receipt is only ever visible to
// its owning organization.
type ReceiptStore interface {
	// Create creates a new receipt.
	// Returns ErrReceiptAlreadyExists if the ID is already taken.
	Create(ctx context.Context, receipt *models.Receipt) error

	// Get retrieves a receipt by ID within the organization.
	// Returns ErrReceiptNotFound if absent or owned by another organization.
	Get(ctx context.Context, orgID, receiptID uuid.UUID) (*models.Receipt, error)

	// Update updates an existing receipt.
	// Returns ErrReceiptNotFound if the receipt doesn't exist.
	Update(ctx context.Context, receipt *models.Receipt) error

	// FindByImageHash returns the first receipt matching the hash query, or
	// ErrReceiptNotFound when nothing matches.
	FindByImageHash(ctx context.Context, q HashQuery) (*models.Receipt, error)

	// List returns the organization's receipts matching the filter, newest first.
	List(ctx context.Context, orgID uuid.UUID, filter ReceiptFilter) ([]*models.Receipt, error)

	// CountNonArchivedSince counts the organization's non-archived receipts
	// created at or after the given instant. Used by admission control.
	CountNonArchivedSince(ctx context.Context, orgID uuid.UUID, since time.Time) (int, error)
}
