package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/ledgerline/ledgerline/internal/blob"
	"github.com/ledgerline/ledgerline/internal/dedup"
	"github.com/ledgerline/ledgerline/internal/extraction"
	"github.com/ledgerline/ledgerline/internal/fingerprint"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/plans"
	"github.com/ledgerline/ledgerline/internal/store"
	"github.com/ledgerline/ledgerline/internal/telemetry"
)

// ErrUploadNotFound is returned when confirm is called before the object
// landed in the blob store.
var ErrUploadNotFound = fmt.Errorf("uploaded object not found")

// DuplicateUploadError rejects an upload whose content already exists as a
// non-archived receipt for the organization.
type DuplicateUploadError struct {
	ExistingReceiptID uuid.UUID
}

func (e *DuplicateUploadError) Error() string {
	return fmt.Sprintf("duplicate of existing receipt %s", e.ExistingReceiptID)
}

// UploadGrant is issued when an upload slot is admitted: the pending receipt
// plus the pre-authorized URL to upload the image to.
type UploadGrant struct {
	Receipt   *models.Receipt
	UploadURL *blob.SignedURL
}

// Service drives receipts through their lifecycle: upload admission,
// confirmation, extraction, and archival.
type Service struct {
	receipts  store.ReceiptStore
	dedup     *dedup.Cache
	admission *plans.Controller
	blobs     blob.Store
	extractor extraction.Extractor
}

// NewService creates the receipt lifecycle service.
func NewService(receipts store.ReceiptStore, dedupCache *dedup.Cache, admission *plans.Controller, blobs blob.Store, extractor extraction.Extractor) *Service {
	return &Service{
		receipts:  receipts,
		dedup:     dedupCache,
		admission: admission,
		blobs:     blobs,
		extractor: extractor,
	}
}

// RequestUpload admits a new receipt against the organization's plan limits,
// creates it in pending state, and issues a signed upload URL for the image.
func (s *Service) RequestUpload(ctx context.Context, orgID uuid.UUID) (*UploadGrant, error) {
	decision, err := s.admission.CanAddReceipt(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &plans.LimitExceededError{
			Resource:     "receipts",
			CurrentCount: decision.CurrentCount,
			Limit:        decision.Limit,
		}
	}

	receiptID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate receipt ID: %w", err)
	}

	key := imageKey(orgID, receiptID)

	uploadURL, err := s.blobs.SignUpload(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload: %w", err)
	}

	now := time.Now()
	receipt := &models.Receipt{
		ReceiptID:        receiptID,
		OrgID:            orgID,
		Status:           models.ReceiptStatusPending,
		OriginalImageKey: key,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.receipts.Create(ctx, receipt); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("receipt_id", receiptID.String()).
		Str("org_id", orgID.String()).
		Msg("Upload slot issued")

	return &UploadGrant{Receipt: receipt, UploadURL: uploadURL}, nil
}

// ConfirmUpload moves a pending receipt to processing once its object exists
// in the blob store. The image is fingerprinted here, and uploads whose
// content duplicates a non-archived receipt are rejected early. Idempotent:
// confirming a receipt already at processing or later returns its current
// state.
func (s *Service) ConfirmUpload(ctx context.Context, orgID, receiptID uuid.UUID) (*models.Receipt, error) {
	receipt, err := s.receipts.Get(ctx, orgID, receiptID)
	if err != nil {
		return nil, err
	}

	switch receipt.Status {
	case models.ReceiptStatusProcessing, models.ReceiptStatusExtracted:
		return receipt, nil
	case models.ReceiptStatusArchived:
		return nil, &InvalidTransitionError{From: receipt.Status, To: models.ReceiptStatusProcessing}
	}

	exists, err := s.blobs.Exists(ctx, receipt.OriginalImageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check uploaded object: %w", err)
	}
	if !exists {
		return nil, ErrUploadNotFound
	}

	image, err := s.blobs.Download(ctx, receipt.OriginalImageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download uploaded object: %w", err)
	}

	hash := fingerprint.FromBytes(image)

	existingID, err := s.dedup.CheckDuplicate(ctx, orgID, hash)
	if err != nil {
		return nil, err
	}
	if existingID != uuid.Nil && existingID != receiptID {
		log.Ctx(ctx).Info().
			Str("receipt_id", receiptID.String()).
			Str("existing_receipt_id", existingID.String()).
			Msg("Upload rejected as duplicate")
		return nil, &DuplicateUploadError{ExistingReceiptID: existingID}
	}

	receipt.ImageHash = hash
	if err := transition(receipt, models.ReceiptStatusProcessing); err != nil {
		return nil, err
	}

	if err := s.receipts.Update(ctx, receipt); err != nil {
		return nil, err
	}

	telemetry.GetMetrics().ReceiptsIngestedTotal.Add(ctx, 1)

	return receipt, nil
}

// Process runs extraction for a receipt in processing state. The dedup cache
// is consulted first, a hit copies the cached result without invoking the
// extractor. An extraction failure leaves the receipt in processing so a
// retrier can pick it up.
func (s *Service) Process(ctx context.Context, orgID, receiptID uuid.UUID) (*models.Receipt, error) {
	receipt, err := s.receipts.Get(ctx, orgID, receiptID)
	if err != nil {
		return nil, err
	}

	if receipt.Status == models.ReceiptStatusExtracted {
		return receipt, nil
	}
	if receipt.Status != models.ReceiptStatusProcessing {
		return nil, &InvalidTransitionError{From: receipt.Status, To: models.ReceiptStatusExtracted}
	}

	cached, err := s.dedup.Lookup(ctx, orgID, receipt.ImageHash, &receiptID)
	if err != nil {
		return nil, err
	}

	if cached.Found {
		receipt.Extraction = cached.Extraction
		receipt.ConfidenceScore = cached.ConfidenceScore
		telemetry.GetMetrics().ExtractionsSkippedDedup.Add(ctx, 1)

		log.Ctx(ctx).Info().
			Str("receipt_id", receiptID.String()).
			Str("source_receipt_id", cached.ExistingReceiptID.String()).
			Msg("Extraction satisfied from dedup cache")
	} else {
		image, err := s.blobs.Download(ctx, receipt.OriginalImageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to download receipt image: %w", err)
		}

		result, confidence, err := s.extractor.Extract(ctx, image, "image/png")
		if err != nil {
			return nil, fmt.Errorf("extraction failed: %w", err)
		}

		receipt.Extraction = result
		receipt.ConfidenceScore = &confidence
	}

	if err := transition(receipt, models.ReceiptStatusExtracted); err != nil {
		return nil, err
	}

	if err := s.receipts.Update(ctx, receipt); err != nil {
		return nil, err
	}

	return receipt, nil
}

// Archive moves the receipt to its terminal archived state, removing it from
// dedup matching and destination sync. Idempotent.
func (s *Service) Archive(ctx context.Context, orgID, receiptID uuid.UUID) (*models.Receipt, error) {
	receipt, err := s.receipts.Get(ctx, orgID, receiptID)
	if err != nil {
		return nil, err
	}

	if receipt.Status == models.ReceiptStatusArchived {
		return receipt, nil
	}

	if err := transition(receipt, models.ReceiptStatusArchived); err != nil {
		return nil, err
	}

	if err := s.receipts.Update(ctx, receipt); err != nil {
		return nil, err
	}

	telemetry.GetMetrics().ReceiptsArchivedTotal.Add(ctx, 1)

	return receipt, nil
}

// Get returns a single receipt scoped to the organization.
func (s *Service) Get(ctx context.Context, orgID, receiptID uuid.UUID) (*models.Receipt, error) {
	return s.receipts.Get(ctx, orgID, receiptID)
}

// List returns the organization's receipts matching the filter, newest
// first.
func (s *Service) List(ctx context.Context, orgID uuid.UUID, filter store.ReceiptFilter) ([]*models.Receipt, error) {
	return s.receipts.List(ctx, orgID, filter)
}

// imageKey places each receipt image under its own prefix so existence
// checks stay cheap.
func imageKey(orgID, receiptID uuid.UUID) string {
	return fmt.Sprintf("orgs/%s/receipts/%s/original", orgID, base58.Encode(receiptID[:]))
}
