package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

// DestinationStore implements store.DestinationStore using PostgreSQL. The
// tagged configuration union is stored as JSONB.
type DestinationStore struct {
	pool *pgxpool.Pool
}

// NewDestinationStore creates a PostgreSQL-backed destination store.
func NewDestinationStore(pool *pgxpool.Pool) *DestinationStore {
	return &DestinationStore{pool: pool}
}

const destinationColumns = `
	destination_id, org_id, type, status, config, connection_id,
	last_synced_at, sync_error, created_at, updated_at
`

func scanDestination(row pgx.Row) (*models.Destination, error) {
	var destination models.Destination
	err := row.Scan(
		&destination.DestinationID,
		&destination.OrgID,
		&destination.Type,
		&destination.Status,
		&destination.Config,
		&destination.ConnectionID,
		&destination.LastSyncedAt,
		&destination.SyncError,
		&destination.CreatedAt,
		&destination.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &destination, nil
}

// Create creates a new destination.
func (s *DestinationStore) Create(ctx context.Context, destination *models.Destination) error {
	query := `
		INSERT INTO destinations (` + destinationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		destination.DestinationID,
		destination.OrgID,
		destination.Type,
		destination.Status,
		destination.Config,
		destination.ConnectionID,
		destination.LastSyncedAt,
		destination.SyncError,
		destination.CreatedAt,
		destination.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDestinationAlreadyExists
		}
		return fmt.Errorf("failed to create destination: %w", mapPostgresError(err))
	}

	return nil
}

// Get retrieves a destination by ID within the organization.
func (s *DestinationStore) Get(ctx context.Context, orgID, destinationID uuid.UUID) (*models.Destination, error) {
	query := `
		SELECT ` + destinationColumns + `
		FROM destinations
		WHERE org_id = $1 AND destination_id = $2
	`

	destination, err := scanDestination(s.pool.QueryRow(ctx, query, orgID, destinationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrDestinationNotFound
		}
		return nil, fmt.Errorf("failed to get destination: %w", mapPostgresError(err))
	}

	return destination, nil
}

// Update updates an existing destination.
func (s *DestinationStore) Update(ctx context.Context, destination *models.Destination) error {
	destination.UpdatedAt = time.Now()

	query := `
		UPDATE destinations SET
			status = $3,
			config = $4,
			last_synced_at = $5,
			sync_error = $6,
			updated_at = $7
		WHERE org_id = $1 AND destination_id = $2
	`

	result, err := s.pool.Exec(ctx, query,
		destination.OrgID,
		destination.DestinationID,
		destination.Status,
		destination.Config,
		destination.LastSyncedAt,
		destination.SyncError,
		destination.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update destination: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrDestinationNotFound
	}

	return nil
}

// ListByOrg returns all destinations for the organization, newest first.
func (s *DestinationStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Destination, error) {
	query := `
		SELECT ` + destinationColumns + `
		FROM destinations
		WHERE org_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var destinations []*models.Destination
	for rows.Next() {
		destination, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		destinations = append(destinations, destination)
	}

	return destinations, rows.Err()
}

// CountNonArchived counts the organization's non-archived destinations.
// Used by admission control.
func (s *DestinationStore) CountNonArchived(ctx context.Context, orgID uuid.UUID) (int, error) {
	query := `
		SELECT count(*)
		FROM destinations
		WHERE org_id = $1 AND status <> 'archived'
	`

	var count int
	if err := s.pool.QueryRow(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count destinations: %w", mapPostgresError(err))
	}

	return count, nil
}
