package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/models"
)

// ConnectionStore defines the interface for connection storage operations.
// Credentials are stored only in encrypted form; this layer never sees
// plaintext.
type ConnectionStore interface {
	// Create creates a new connection.
	Create(ctx context.Context, conn *models.Connection) error

	// Get retrieves a connection by ID within the organization.
	// Returns ErrConnectionNotFound if absent or owned by another organization.
	Get(ctx context.Context, orgID, connectionID uuid.UUID) (*models.Connection, error)

	// Update updates an existing connection.
	Update(ctx context.Context, conn *models.Connection) error

	// ListByOrg returns all of the organization's connections, newest first.
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Connection, error)
}
