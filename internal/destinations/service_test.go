package destinations

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/plans"
	"github.com/ledgerline/ledgerline/internal/store/memory"
)

type fixture struct {
	service      *Service
	orgID        uuid.UUID
	connectionID uuid.UUID
	connections  *memory.ConnectionStore
}

func newFixture(t *testing.T, table plans.Table) *fixture {
	t.Helper()
	ctx := context.Background()

	orgs := memory.NewOrganizationStore()
	receipts := memory.NewReceiptStore()
	destinations := memory.NewDestinationStore()
	connectionStore := memory.NewConnectionStore()

	orgID := uuid.New()
	require.NoError(t, orgs.Create(ctx, &models.Organization{
		OrgID:         orgID,
		Name:          "acme",
		PlanTier:      "free",
		BillingAnchor: time.Now().AddDate(0, -1, 0),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}))

	connectionID, err := uuid.NewV7()
	require.NoError(t, err)
	require.NoError(t, connectionStore.Create(ctx, &models.Connection{
		ConnectionID:        connectionID,
		OrgID:               orgID,
		Type:                models.ConnectionTypeNotion,
		Status:              models.ConnectionStatusActive,
		EncryptedCredential: []byte("sealed"),
		CreatedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}))

	service := NewService(destinations, connectionStore,
		plans.NewController(orgs, receipts, destinations, table))

	return &fixture{service: service, orgID: orgID, connectionID: connectionID, connections: connectionStore}
}

func notionConfig() models.DestinationConfig {
	return models.DestinationConfig{
		Type:   models.ConnectionTypeNotion,
		Notion: &models.NotionConfig{DatabaseID: "db-1", Columns: []string{"vendor"}},
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a running destination", func(t *testing.T) {
		f := newFixture(t, nil)

		destination, err := f.service.Create(ctx, f.orgID, notionConfig(), f.connectionID)
		require.NoError(t, err)
		require.Equal(t, models.DestinationStatusRunning, destination.Status)
		require.Equal(t, f.connectionID, destination.ConnectionID)
	})

	t.Run("rejects an invalid configuration", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.service.Create(ctx, f.orgID, models.DestinationConfig{Type: "quickbooks"}, f.connectionID)
		require.ErrorContains(t, err, "unrecognized destination type")
	})

	t.Run("rejects a mismatched connection type", func(t *testing.T) {
		f := newFixture(t, nil)

		config := models.DestinationConfig{
			Type:         models.ConnectionTypeGoogle,
			GoogleSheets: &models.GoogleSheetsConfig{SpreadsheetID: "sheet-1", SheetName: "Receipts"},
		}
		_, err := f.service.Create(ctx, f.orgID, config, f.connectionID)
		require.ErrorContains(t, err, "does not match destination type")
	})

	t.Run("rejects a revoked connection", func(t *testing.T) {
		f := newFixture(t, nil)

		connection, err := f.connections.Get(ctx, f.orgID, f.connectionID)
		require.NoError(t, err)
		connection.Status = models.ConnectionStatusRevoked
		require.NoError(t, f.connections.Update(ctx, connection))

		_, err = f.service.Create(ctx, f.orgID, notionConfig(), f.connectionID)
		require.ErrorIs(t, err, ErrConnectionNotUsable)
	})

	t.Run("denies at the plan limit with counts", func(t *testing.T) {
		f := newFixture(t, plans.Table{"free": {MaxReceiptsPerPeriod: 50, MaxDestinations: 1}})

		_, err := f.service.Create(ctx, f.orgID, notionConfig(), f.connectionID)
		require.NoError(t, err)

		_, err = f.service.Create(ctx, f.orgID, notionConfig(), f.connectionID)
		var limitErr *plans.LimitExceededError
		require.ErrorAs(t, err, &limitErr)
		require.Equal(t, "destinations", limitErr.Resource)
		require.Equal(t, 1, limitErr.CurrentCount)
		require.Equal(t, 1, limitErr.Limit)
	})

	t.Run("archived destinations free up the limit", func(t *testing.T) {
		f := newFixture(t, plans.Table{"free": {MaxReceiptsPerPeriod: 50, MaxDestinations: 1}})

		first, err := f.service.Create(ctx, f.orgID, notionConfig(), f.connectionID)
		require.NoError(t, err)

		_, err = f.service.Archive(ctx, f.orgID, first.DestinationID)
		require.NoError(t, err)

		_, err = f.service.Create(ctx, f.orgID, notionConfig(), f.connectionID)
		require.NoError(t, err)
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("pause and resume", func(t *testing.T) {
		f := newFixture(t, nil)

		destination, err := f.service.Create(ctx, f.orgID, notionConfig(), f.connectionID)
		require.NoError(t, err)

		paused, err := f.service.Pause(ctx, f.orgID, destination.DestinationID)
		require.NoError(t, err)
		require.Equal(t, models.DestinationStatusPaused, paused.Status)

		resumed, err := f.service.Resume(ctx, f.orgID, destination.DestinationID)
		require.NoError(t, err)
		require.Equal(t, models.DestinationStatusRunning, resumed.Status)
	})

	t.Run("archive is terminal and idempotent", func(t *testing.T) {
		f := newFixture(t, nil)

		destination, err := f.service.Create(ctx, f.orgID, notionConfig(), f.connectionID)
		require.NoError(t, err)

		archived, err := f.service.Archive(ctx, f.orgID, destination.DestinationID)
		require.NoError(t, err)
		require.Equal(t, models.DestinationStatusArchived, archived.Status)

		again, err := f.service.Archive(ctx, f.orgID, destination.DestinationID)
		require.NoError(t, err)
		require.Equal(t, models.DestinationStatusArchived, again.Status)

		_, err = f.service.Resume(ctx, f.orgID, destination.DestinationID)
		require.ErrorContains(t, err, "archived")
	})
}
