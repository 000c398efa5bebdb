package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/models"
)

// OrganizationStore defines the interface for organization storage operations.
// Generic org/user/membership CRUD lives outside this core; only the pieces
// the pipeline reads (plan tier, billing anchor) are modeled here.
type OrganizationStore interface {
	// Create creates a new organization in the store.
	// Returns ErrOrganizationAlreadyExists if the ID is already taken.
	Create(ctx context.Context, org *models.Organization) error

	// Get retrieves an organization by ID.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	// Update updates an existing organization.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Update(ctx context.Context, org *models.Organization) error
}
