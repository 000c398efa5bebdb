package receipts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/blob"
	"github.com/ledgerline/ledgerline/internal/dedup"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/plans"
	"github.com/ledgerline/ledgerline/internal/store/memory"
)

type stubExtractor struct {
	result     *models.ExtractionResult
	confidence float64
	err        error
	calls      int
}

func (e *stubExtractor) Extract(ctx context.Context, image []byte, contentType string) (*models.ExtractionResult, float64, error) {
	e.calls++
	if e.err != nil {
		return nil, 0, e.err
	}
	return e.result, e.confidence, nil
}

func (e *stubExtractor) Close() error { return nil }

type fixture struct {
	service   *Service
	receipts  *memory.ReceiptStore
	blobs     *blob.MemoryStore
	extractor *stubExtractor
	orgID     uuid.UUID
}

func newFixture(t *testing.T, table plans.Table) *fixture {
	t.Helper()

	ctx := context.Background()
	receiptStore := memory.NewReceiptStore()
	orgStore := memory.NewOrganizationStore()
	destinationStore := memory.NewDestinationStore()
	blobs := blob.NewMemoryStore()

	orgID := uuid.New()
	require.NoError(t, orgStore.Create(ctx, &models.Organization{
		OrgID:         orgID,
		Name:          "acme",
		PlanTier:      "free",
		BillingAnchor: time.Now().AddDate(0, -2, 0),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}))

	amount := 12.5
	extractor := &stubExtractor{
		result:     &models.ExtractionResult{Vendor: "Corner Deli", Amount: &amount, Currency: "USD"},
		confidence: 0.9,
	}

	service := NewService(
		receiptStore,
		dedup.NewCache(receiptStore),
		plans.NewController(orgStore, receiptStore, destinationStore, table),
		blobs,
		extractor,
	)

	return &fixture{service: service, receipts: receiptStore, blobs: blobs, extractor: extractor, orgID: orgID}
}

// ingest walks a fresh upload through request, upload, and confirm.
func (f *fixture) ingest(t *testing.T, content []byte) *models.Receipt {
	t.Helper()

	ctx := context.Background()
	grant, err := f.service.RequestUpload(ctx, f.orgID)
	require.NoError(t, err)
	require.NoError(t, f.blobs.Upload(ctx, grant.Receipt.OriginalImageKey, "image/png", content))

	receipt, err := f.service.ConfirmUpload(ctx, f.orgID, grant.Receipt.ReceiptID)
	require.NoError(t, err)
	return receipt
}

func TestRequestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("issues pending receipt with upload URL", func(t *testing.T) {
		f := newFixture(t, nil)

		grant, err := f.service.RequestUpload(ctx, f.orgID)
		require.NoError(t, err)
		require.Equal(t, models.ReceiptStatusPending, grant.Receipt.Status)
		require.Empty(t, grant.Receipt.ImageHash)
		require.NotEmpty(t, grant.Receipt.OriginalImageKey)
		require.NotEmpty(t, grant.UploadURL.URL)
	})

	t.Run("denies at plan limit with counts", func(t *testing.T) {
		f := newFixture(t, plans.Table{"free": {MaxReceiptsPerPeriod: 1, MaxDestinations: 1}})

		f.ingest(t, []byte("receipt one"))

		_, err := f.service.RequestUpload(ctx, f.orgID)
		var limitErr *plans.LimitExceededError
		require.ErrorAs(t, err, &limitErr)
		require.Equal(t, "receipts", limitErr.Resource)
		require.Equal(t, 1, limitErr.CurrentCount)
		require.Equal(t, 1, limitErr.Limit)
	})
}

func TestConfirmUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("moves pending receipt to processing with hash", func(t *testing.T) {
		f := newFixture(t, nil)

		receipt := f.ingest(t, []byte("some receipt image"))
		require.Equal(t, models.ReceiptStatusProcessing, receipt.Status)
		require.Len(t, receipt.ImageHash, 64)
	})

	t.Run("is idempotent", func(t *testing.T) {
		f := newFixture(t, nil)

		receipt := f.ingest(t, []byte("some receipt image"))

		again, err := f.service.ConfirmUpload(ctx, f.orgID, receipt.ReceiptID)
		require.NoError(t, err)
		require.Equal(t, models.ReceiptStatusProcessing, again.Status)
		require.Equal(t, receipt.ImageHash, again.ImageHash)
	})

	t.Run("fails before the object is uploaded", func(t *testing.T) {
		f := newFixture(t, nil)

		grant, err := f.service.RequestUpload(ctx, f.orgID)
		require.NoError(t, err)

		_, err = f.service.ConfirmUpload(ctx, f.orgID, grant.Receipt.ReceiptID)
		require.ErrorIs(t, err, ErrUploadNotFound)
	})

	t.Run("rejects in-flight duplicates", func(t *testing.T) {
		f := newFixture(t, nil)

		first := f.ingest(t, []byte("identical bytes"))

		grant, err := f.service.RequestUpload(ctx, f.orgID)
		require.NoError(t, err)
		require.NoError(t, f.blobs.Upload(ctx, grant.Receipt.OriginalImageKey, "image/png", []byte("identical bytes")))

		_, err = f.service.ConfirmUpload(ctx, f.orgID, grant.Receipt.ReceiptID)
		var dupErr *DuplicateUploadError
		require.ErrorAs(t, err, &dupErr)
		require.Equal(t, first.ReceiptID, dupErr.ExistingReceiptID)
	})

	t.Run("rejects archived receipts", func(t *testing.T) {
		f := newFixture(t, nil)

		receipt := f.ingest(t, []byte("archive me"))
		_, err := f.service.Archive(ctx, f.orgID, receipt.ReceiptID)
		require.NoError(t, err)

		_, err = f.service.ConfirmUpload(ctx, f.orgID, receipt.ReceiptID)
		var transitionErr *InvalidTransitionError
		require.ErrorAs(t, err, &transitionErr)
	})
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("extracts and transitions to extracted", func(t *testing.T) {
		f := newFixture(t, nil)

		receipt := f.ingest(t, []byte("fresh content"))

		processed, err := f.service.Process(ctx, f.orgID, receipt.ReceiptID)
		require.NoError(t, err)
		require.Equal(t, models.ReceiptStatusExtracted, processed.Status)
		require.NotNil(t, processed.Extraction)
		require.Equal(t, "Corner Deli", processed.Extraction.Vendor)
		require.NotNil(t, processed.ConfidenceScore)
		require.InDelta(t, 0.9, *processed.ConfidenceScore, 0.001)
		require.Equal(t, 1, f.extractor.calls)
	})

	t.Run("dedup hit copies cached result without calling the extractor", func(t *testing.T) {
		f := newFixture(t, nil)

		first := f.ingest(t, []byte("shared content"))
		extracted, err := f.service.Process(ctx, f.orgID, first.ReceiptID)
		require.NoError(t, err)
		require.Equal(t, 1, f.extractor.calls)

		// Two near-simultaneous uploads of identical content can both reach
		// processing before either extracts. Seed the racing twin directly.
		twinID, err := uuid.NewV7()
		require.NoError(t, err)
		now := time.Now()
		require.NoError(t, f.receipts.Create(ctx, &models.Receipt{
			ReceiptID:        twinID,
			OrgID:            f.orgID,
			Status:           models.ReceiptStatusProcessing,
			ImageHash:        extracted.ImageHash,
			OriginalImageKey: extracted.OriginalImageKey,
			CreatedAt:        now,
			UpdatedAt:        now,
		}))

		twin, err := f.service.Process(ctx, f.orgID, twinID)
		require.NoError(t, err)
		require.Equal(t, models.ReceiptStatusExtracted, twin.Status)
		require.NotNil(t, twin.Extraction)
		require.Equal(t, extracted.Extraction.Vendor, twin.Extraction.Vendor)
		require.Equal(t, *extracted.ConfidenceScore, *twin.ConfidenceScore)
		require.Equal(t, 1, f.extractor.calls)
	})

	t.Run("extraction failure leaves receipt in processing", func(t *testing.T) {
		f := newFixture(t, nil)
		f.extractor.err = fmt.Errorf("upstream unavailable")

		receipt := f.ingest(t, []byte("failing content"))

		_, err := f.service.Process(ctx, f.orgID, receipt.ReceiptID)
		require.Error(t, err)

		current, err := f.service.Get(ctx, f.orgID, receipt.ReceiptID)
		require.NoError(t, err)
		require.Equal(t, models.ReceiptStatusProcessing, current.Status)
		require.Nil(t, current.Extraction)
	})

	t.Run("is idempotent once extracted", func(t *testing.T) {
		f := newFixture(t, nil)

		receipt := f.ingest(t, []byte("once only"))
		_, err := f.service.Process(ctx, f.orgID, receipt.ReceiptID)
		require.NoError(t, err)

		again, err := f.service.Process(ctx, f.orgID, receipt.ReceiptID)
		require.NoError(t, err)
		require.Equal(t, models.ReceiptStatusExtracted, again.Status)
		require.Equal(t, 1, f.extractor.calls)
	})

	t.Run("rejects pending receipts", func(t *testing.T) {
		f := newFixture(t, nil)

		grant, err := f.service.RequestUpload(ctx, f.orgID)
		require.NoError(t, err)

		_, err = f.service.Process(ctx, f.orgID, grant.Receipt.ReceiptID)
		var transitionErr *InvalidTransitionError
		require.ErrorAs(t, err, &transitionErr)
	})
}

func TestArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("is legal from any state and idempotent", func(t *testing.T) {
		f := newFixture(t, nil)

		receipt := f.ingest(t, []byte("to archive"))
		archived, err := f.service.Archive(ctx, f.orgID, receipt.ReceiptID)
		require.NoError(t, err)
		require.Equal(t, models.ReceiptStatusArchived, archived.Status)

		again, err := f.service.Archive(ctx, f.orgID, receipt.ReceiptID)
		require.NoError(t, err)
		require.Equal(t, models.ReceiptStatusArchived, again.Status)
	})

	t.Run("removes dedup eligibility", func(t *testing.T) {
		f := newFixture(t, nil)

		first := f.ingest(t, []byte("dedup target"))
		_, err := f.service.Process(ctx, f.orgID, first.ReceiptID)
		require.NoError(t, err)

		_, err = f.service.Archive(ctx, f.orgID, first.ReceiptID)
		require.NoError(t, err)

		// Identical content is admitted again now that the only match is
		// archived, and extraction runs instead of a cache copy.
		second := f.ingest(t, []byte("dedup target"))
		processed, err := f.service.Process(ctx, f.orgID, second.ReceiptID)
		require.NoError(t, err)
		require.Equal(t, models.ReceiptStatusExtracted, processed.Status)
		require.Equal(t, 2, f.extractor.calls)
	})
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    models.ReceiptStatus
		to      models.ReceiptStatus
		allowed bool
	}{
		{models.ReceiptStatusPending, models.ReceiptStatusProcessing, true},
		{models.ReceiptStatusPending, models.ReceiptStatusExtracted, false},
		{models.ReceiptStatusPending, models.ReceiptStatusArchived, true},
		{models.ReceiptStatusProcessing, models.ReceiptStatusExtracted, true},
		{models.ReceiptStatusProcessing, models.ReceiptStatusPending, false},
		{models.ReceiptStatusProcessing, models.ReceiptStatusArchived, true},
		{models.ReceiptStatusExtracted, models.ReceiptStatusArchived, true},
		{models.ReceiptStatusExtracted, models.ReceiptStatusProcessing, false},
		{models.ReceiptStatusArchived, models.ReceiptStatusPending, false},
		{models.ReceiptStatusArchived, models.ReceiptStatusProcessing, false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s to %s", tc.from, tc.to), func(t *testing.T) {
			receipt := &models.Receipt{Status: tc.from}
			err := transition(receipt, tc.to)
			if tc.allowed {
				require.NoError(t, err)
				require.Equal(t, tc.to, receipt.Status)
			} else {
				var transitionErr *InvalidTransitionError
				require.ErrorAs(t, err, &transitionErr)
				require.Equal(t, tc.from, receipt.Status)
			}
		})
	}
}
