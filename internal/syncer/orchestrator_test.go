package syncer

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/blob"
	"github.com/ledgerline/ledgerline/internal/connections"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
	"github.com/ledgerline/ledgerline/internal/store/memory"
)

type fakeWriter struct {
	failReceipts map[uuid.UUID]bool
	written      []uuid.UUID
}

func (w *fakeWriter) WriteReceipt(ctx context.Context, receipt *models.Receipt, columns []string) error {
	if w.failReceipts[receipt.ReceiptID] {
		return fmt.Errorf("destination rejected record")
	}
	w.written = append(w.written, receipt.ReceiptID)
	return nil
}

type fakeWriterFactory struct {
	writer *fakeWriter
	err    error
}

func (f *fakeWriterFactory) NewWriter(ctx context.Context, token string, destination *models.Destination) (Writer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.writer, nil
}

type syncFixture struct {
	orchestrator *Orchestrator
	receipts     *memory.ReceiptStore
	destinations *memory.DestinationStore
	jobs         *memory.ExportJobStore
	blobs        *blob.MemoryStore
	writer       *fakeWriter
	orgID        uuid.UUID
	destination  *models.Destination
}

func newSyncFixture(t *testing.T, threshold int) *syncFixture {
	t.Helper()
	ctx := context.Background()

	receipts := memory.NewReceiptStore()
	destinations := memory.NewDestinationStore()
	jobs := memory.NewExportJobStore()
	connectionStore := memory.NewConnectionStore()
	blobs := blob.NewMemoryStore()

	cipher, err := connections.NewCipher(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	connManager := connections.NewManager(connectionStore, cipher, &connections.OAuthProviders{})

	orgID := uuid.New()
	connection, err := connManager.Create(ctx, orgID, models.ConnectionTypeNotion,
		connections.Credential{AccessToken: "live-token"}, models.ConnectionMetadata{})
	require.NoError(t, err)

	destinationID, err := uuid.NewV7()
	require.NoError(t, err)
	destination := &models.Destination{
		DestinationID: destinationID,
		OrgID:         orgID,
		Type:          models.ConnectionTypeNotion,
		Status:        models.DestinationStatusRunning,
		Config: models.DestinationConfig{
			Type:   models.ConnectionTypeNotion,
			Notion: &models.NotionConfig{DatabaseID: "db-1", Columns: []string{"vendor", "amount"}},
		},
		ConnectionID: connection.ConnectionID,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, destinations.Create(ctx, destination))

	orchestrator := NewOrchestrator(receipts, destinations, jobs, connManager, blobs, threshold)
	writer := &fakeWriter{failReceipts: map[uuid.UUID]bool{}}
	orchestrator.RegisterWriterFactory(models.ConnectionTypeNotion, &fakeWriterFactory{writer: writer})

	return &syncFixture{
		orchestrator: orchestrator,
		receipts:     receipts,
		destinations: destinations,
		jobs:         jobs,
		blobs:        blobs,
		writer:       writer,
		orgID:        orgID,
		destination:  destination,
	}
}

func (f *syncFixture) seedExtracted(t *testing.T, n int) []*models.Receipt {
	t.Helper()
	ctx := context.Background()

	seeded := make([]*models.Receipt, 0, n)
	for i := 0; i < n; i++ {
		receipt := extractedReceipt(fmt.Sprintf("Vendor %d", i), float64(i)+1)
		receipt.OrgID = f.orgID
		receipt.CreatedAt = time.Now()
		receipt.UpdatedAt = time.Now()
		require.NoError(t, f.receipts.Create(ctx, receipt))
		seeded = append(seeded, receipt)
	}
	return seeded
}

func TestExportRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("at threshold executes inline", func(t *testing.T) {
		f := newSyncFixture(t, 3)
		f.seedExtracted(t, 3)

		outcome, err := f.orchestrator.Export(ctx, f.orgID, ExportRequest{Columns: []string{"vendor"}})
		require.NoError(t, err)
		require.NotNil(t, outcome.Artifact)
		require.Nil(t, outcome.Job)
	})

	t.Run("above threshold queues a job", func(t *testing.T) {
		f := newSyncFixture(t, 3)
		f.seedExtracted(t, 4)

		outcome, err := f.orchestrator.Export(ctx, f.orgID, ExportRequest{Columns: []string{"vendor"}})
		require.NoError(t, err)
		require.Nil(t, outcome.Artifact)
		require.NotNil(t, outcome.Job)
		require.Equal(t, models.ExportJobStatusQueued, outcome.Job.Status)
		require.Equal(t, 4, outcome.Job.ReceiptCount)
	})

	t.Run("archived receipts are excluded", func(t *testing.T) {
		f := newSyncFixture(t, 3)
		seeded := f.seedExtracted(t, 4)

		seeded[0].Status = models.ReceiptStatusArchived
		require.NoError(t, f.receipts.Update(ctx, seeded[0]))

		outcome, err := f.orchestrator.Export(ctx, f.orgID, ExportRequest{Columns: []string{"vendor"}})
		require.NoError(t, err)
		require.NotNil(t, outcome.Artifact)
	})

	t.Run("unknown column aborts before routing", func(t *testing.T) {
		f := newSyncFixture(t, 3)

		_, err := f.orchestrator.Export(ctx, f.orgID, ExportRequest{Columns: []string{"nope"}})
		require.ErrorContains(t, err, "unknown export column")
	})
}

func TestSyncDestination(t *testing.T) {
	ctx := context.Background()

	t.Run("writes every record inline", func(t *testing.T) {
		f := newSyncFixture(t, 10)
		f.seedExtracted(t, 3)

		outcome, err := f.orchestrator.SyncDestination(ctx, f.orgID, f.destination.DestinationID, store.ReceiptFilter{})
		require.NoError(t, err)
		require.Equal(t, 3, outcome.RowsWritten)
		require.Zero(t, outcome.RowsFailed)

		updated, err := f.destinations.Get(ctx, f.orgID, f.destination.DestinationID)
		require.NoError(t, err)
		require.NotNil(t, updated.LastSyncedAt)
		require.Empty(t, updated.SyncError)
	})

	t.Run("a failing record does not abort the batch", func(t *testing.T) {
		f := newSyncFixture(t, 10)
		seeded := f.seedExtracted(t, 3)
		f.writer.failReceipts[seeded[1].ReceiptID] = true

		outcome, err := f.orchestrator.SyncDestination(ctx, f.orgID, f.destination.DestinationID, store.ReceiptFilter{})
		require.NoError(t, err)
		require.Equal(t, 2, outcome.RowsWritten)
		require.Equal(t, 1, outcome.RowsFailed)

		updated, err := f.destinations.Get(ctx, f.orgID, f.destination.DestinationID)
		require.NoError(t, err)
		require.NotNil(t, updated.LastSyncedAt)
		require.Contains(t, updated.SyncError, seeded[1].ReceiptID.String())
	})

	t.Run("a clean run clears the previous error", func(t *testing.T) {
		f := newSyncFixture(t, 10)
		seeded := f.seedExtracted(t, 2)

		f.writer.failReceipts[seeded[0].ReceiptID] = true
		_, err := f.orchestrator.SyncDestination(ctx, f.orgID, f.destination.DestinationID, store.ReceiptFilter{})
		require.NoError(t, err)

		delete(f.writer.failReceipts, seeded[0].ReceiptID)
		_, err = f.orchestrator.SyncDestination(ctx, f.orgID, f.destination.DestinationID, store.ReceiptFilter{})
		require.NoError(t, err)

		updated, err := f.destinations.Get(ctx, f.orgID, f.destination.DestinationID)
		require.NoError(t, err)
		require.Empty(t, updated.SyncError)
	})

	t.Run("above threshold queues a sync job", func(t *testing.T) {
		f := newSyncFixture(t, 2)
		f.seedExtracted(t, 3)

		outcome, err := f.orchestrator.SyncDestination(ctx, f.orgID, f.destination.DestinationID, store.ReceiptFilter{})
		require.NoError(t, err)
		require.NotNil(t, outcome.Job)
		require.Zero(t, outcome.RowsWritten)
		require.Empty(t, f.writer.written)
	})

	t.Run("paused destination is rejected before any write", func(t *testing.T) {
		f := newSyncFixture(t, 10)
		f.seedExtracted(t, 1)

		f.destination.Status = models.DestinationStatusPaused
		require.NoError(t, f.destinations.Update(ctx, f.destination))

		_, err := f.orchestrator.SyncDestination(ctx, f.orgID, f.destination.DestinationID, store.ReceiptFilter{})
		require.ErrorIs(t, err, ErrDestinationNotRunning)
		require.Empty(t, f.writer.written)
	})
}

func TestJobRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("completes a queued export job", func(t *testing.T) {
		f := newSyncFixture(t, 2)
		f.seedExtracted(t, 5)

		runner := NewJobRunner(f.jobs, f.orchestrator, 2, time.Minute)
		runner.Start(ctx)
		defer runner.Stop()

		outcome, err := f.orchestrator.Export(ctx, f.orgID, ExportRequest{Columns: []string{"vendor", "amount"}})
		require.NoError(t, err)
		require.NotNil(t, outcome.Job)

		require.Eventually(t, func() bool {
			job, err := f.jobs.Get(ctx, f.orgID, outcome.Job.JobID)
			return err == nil && job.Status == models.ExportJobStatusCompleted
		}, 5*time.Second, 10*time.Millisecond)

		job, err := f.jobs.Get(ctx, f.orgID, outcome.Job.JobID)
		require.NoError(t, err)
		require.NotEmpty(t, job.ArtifactKey)
		require.NotNil(t, job.CompletedAt)

		data, err := f.blobs.Download(ctx, job.ArtifactKey)
		require.NoError(t, err)
		require.Contains(t, string(data), "Vendor 0")
	})

	t.Run("completes a queued sync job with partial failures", func(t *testing.T) {
		f := newSyncFixture(t, 2)
		seeded := f.seedExtracted(t, 4)
		f.writer.failReceipts[seeded[2].ReceiptID] = true

		runner := NewJobRunner(f.jobs, f.orchestrator, 1, time.Minute)
		runner.Start(ctx)
		defer runner.Stop()

		outcome, err := f.orchestrator.SyncDestination(ctx, f.orgID, f.destination.DestinationID, store.ReceiptFilter{})
		require.NoError(t, err)
		require.NotNil(t, outcome.Job)

		require.Eventually(t, func() bool {
			job, err := f.jobs.Get(ctx, f.orgID, outcome.Job.JobID)
			return err == nil && job.Status == models.ExportJobStatusCompleted
		}, 5*time.Second, 10*time.Millisecond)

		updated, err := f.destinations.Get(ctx, f.orgID, f.destination.DestinationID)
		require.NoError(t, err)
		require.NotEmpty(t, updated.SyncError)
		require.NotNil(t, updated.LastSyncedAt)
	})
}
