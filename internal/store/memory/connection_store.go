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

// ConnectionStore implements store.ConnectionStore using in-memory storage.
type ConnectionStore struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*models.Connection
}

// NewConnectionStore creates a new in-memory connection store.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{
		connections: make(map[uuid.UUID]*models.Connection),
	}
}

// Create creates a new connection in memory.
func (s *ConnectionStore) Create(ctx context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.connections[conn.ConnectionID]; exists {
		return store.ErrConnectionAlreadyExists
	}

	s.connections[conn.ConnectionID] = cloneConnection(conn)

	return nil
}

// Get retrieves a connection by ID, scoped to the organization.
func (s *ConnectionStore) Get(ctx context.Context, orgID, connectionID uuid.UUID) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, exists := s.connections[connectionID]
	if !exists || conn.OrgID != orgID {
		return nil, store.ErrConnectionNotFound
	}

	return cloneConnection(conn), nil
}

// Update updates an existing connection.
func (s *ConnectionStore) Update(ctx context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.connections[conn.ConnectionID]; !exists {
		return store.ErrConnectionNotFound
	}

	conn.UpdatedAt = time.Now()
	s.connections[conn.ConnectionID] = cloneConnection(conn)

	return nil
}

// ListByOrg returns all of the organization's connections, newest first.
func (s *ConnectionStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Connection
	for _, c := range s.connections {
		if c.OrgID != orgID {
			continue
		}
		result = append(result, cloneConnection(c))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

func cloneConnection(c *models.Connection) *models.Connection {
	clone := *c
	clone.EncryptedCredential = append([]byte(nil), c.EncryptedCredential...)
	clone.Metadata.GrantedScopes = append([]string(nil), c.Metadata.GrantedScopes...)
	return &clone
}
