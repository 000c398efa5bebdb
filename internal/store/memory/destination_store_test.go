package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

func newDestination(t *testing.T, orgID uuid.UUID, status models.DestinationStatus) *models.Destination {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	now := time.Now()
	return &models.Destination{
		DestinationID: id,
		OrgID:         orgID,
		Type:          models.ConnectionTypeNotion,
		Status:        status,
		Config: models.DestinationConfig{
			Type:   models.ConnectionTypeNotion,
			Notion: &models.NotionConfig{DatabaseID: "db-1"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestDestinationStoreCountNonArchived(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	s := NewDestinationStore()

	require.NoError(t, s.Create(ctx, newDestination(t, orgID, models.DestinationStatusRunning)))
	require.NoError(t, s.Create(ctx, newDestination(t, orgID, models.DestinationStatusPaused)))
	require.NoError(t, s.Create(ctx, newDestination(t, orgID, models.DestinationStatusArchived)))
	require.NoError(t, s.Create(ctx, newDestination(t, uuid.New(), models.DestinationStatusRunning)))

	count, err := s.CountNonArchived(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestDestinationStoreTenantScoping(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	s := NewDestinationStore()

	destination := newDestination(t, orgID, models.DestinationStatusRunning)
	require.NoError(t, s.Create(ctx, destination))

	_, err := s.Get(ctx, uuid.New(), destination.DestinationID)
	require.ErrorIs(t, err, store.ErrDestinationNotFound)

	list, err := s.ListByOrg(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, list)

	list, err = s.ListByOrg(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
