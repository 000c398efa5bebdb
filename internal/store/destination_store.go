package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/models"
)

// DestinationStore defines the interface for destination storage operations.
type DestinationStore interface {
	// Create creates a new destination.
	Create(ctx context.Context, dest *models.Destination) error

	// Get retrieves a destination by ID within the organization.
	// Returns ErrDestinationNotFound if absent or owned by another organization.
	Get(ctx context.Context, orgID, destinationID uuid.UUID) (*models.Destination, error)

	// Update updates an existing destination.
	Update(ctx context.Context, dest *models.Destination) error

	// ListByOrg returns all of the organization's destinations, newest first.
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Destination, error)

	// CountNonArchived counts the organization's non-archived destinations.
	// Used by admission control.
	CountNonArchived(ctx context.Context, orgID uuid.UUID) (int, error)
}
