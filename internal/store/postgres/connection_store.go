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

// ConnectionStore implements store.ConnectionStore using PostgreSQL.
// Credentials are stored as ciphertext, encryption happens above this layer.
type ConnectionStore struct {
	pool *pgxpool.Pool
}

// NewConnectionStore creates a PostgreSQL-backed connection store.
func NewConnectionStore(pool *pgxpool.Pool) *ConnectionStore {
	return &ConnectionStore{pool: pool}
}

const connectionColumns = `
	connection_id, org_id, type, status, encrypted_credential,
	metadata, created_at, updated_at
`

func scanConnection(row pgx.Row) (*models.Connection, error) {
	var connection models.Connection
	err := row.Scan(
		&connection.ConnectionID,
		&connection.OrgID,
		&connection.Type,
		&connection.Status,
		&connection.EncryptedCredential,
		&connection.Metadata,
		&connection.CreatedAt,
		&connection.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &connection, nil
}

// Create creates a new connection.
func (s *ConnectionStore) Create(ctx context.Context, connection *models.Connection) error {
	query := `
		INSERT INTO connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		connection.ConnectionID,
		connection.OrgID,
		connection.Type,
		connection.Status,
		connection.EncryptedCredential,
		connection.Metadata,
		connection.CreatedAt,
		connection.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConnectionAlreadyExists
		}
		return fmt.Errorf("failed to create connection: %w", mapPostgresError(err))
	}

	return nil
}

// Get retrieves a connection by ID within the organization.
func (s *ConnectionStore) Get(ctx context.Context, orgID, connectionID uuid.UUID) (*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE org_id = $1 AND connection_id = $2
	`

	connection, err := scanConnection(s.pool.QueryRow(ctx, query, orgID, connectionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", mapPostgresError(err))
	}

	return connection, nil
}

// Update updates an existing connection.
func (s *ConnectionStore) Update(ctx context.Context, connection *models.Connection) error {
	connection.UpdatedAt = time.Now()

	query := `
		UPDATE connections SET
			status = $3,
			encrypted_credential = $4,
			metadata = $5,
			updated_at = $6
		WHERE org_id = $1 AND connection_id = $2
	`

	result, err := s.pool.Exec(ctx, query,
		connection.OrgID,
		connection.ConnectionID,
		connection.Status,
		connection.EncryptedCredential,
		connection.Metadata,
		connection.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update connection: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrConnectionNotFound
	}

	return nil
}

// ListByOrg returns all connections for the organization, newest first.
func (s *ConnectionStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE org_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		connection, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, connection)
	}

	return connections, rows.Err()
}
