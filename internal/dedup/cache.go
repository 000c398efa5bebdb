// Package dedup implements content-hash deduplication over the receipt store.
// Extraction is the expensive, rate-limited step; the cache converts a repeat
// upload of byte-identical content into a single lookup.
package dedup

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
	"github.com/ledgerline/ledgerline/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Result is the outcome of a dedup lookup.
type Result struct {
	Found             bool
	ExistingReceiptID uuid.UUID
	Extraction        *models.ExtractionResult
	ConfidenceScore   *float64
}

// Cache is a read pattern over the receipt store; it holds no state of its
// own, so archiving a receipt removes it from future matches by virtue of the
// status filter.
type Cache struct {
	receipts store.ReceiptStore
}

// NewCache creates a dedup cache over the given receipt store.
func NewCache(receipts store.ReceiptStore) *Cache {
	return &Cache{receipts: receipts}
}

// Lookup returns a prior successful extraction for (org, hash). Only receipts
// in the extracted state are eligible; the organization boundary is absolute.
// When excludeReceiptID is non-nil, that record is never returned as its own
// match.
func (c *Cache) Lookup(ctx context.Context, orgID uuid.UUID, imageHash string, excludeReceiptID *uuid.UUID) (*Result, error) {
	match, err := c.receipts.FindByImageHash(ctx, store.HashQuery{
		OrgID:            orgID,
		ImageHash:        imageHash,
		Statuses:         []models.ReceiptStatus{models.ReceiptStatusExtracted},
		ExcludeReceiptID: excludeReceiptID,
	})
	if err != nil {
		if errors.Is(err, store.ErrReceiptNotFound) {
			telemetry.GetMetrics().DedupMissesTotal.Add(ctx, 1)
			return &Result{Found: false}, nil
		}
		return nil, err
	}

	telemetry.GetMetrics().DedupHitsTotal.Add(ctx, 1)
	log.Debug().
		Str("org_id", orgID.String()).
		Str("image_hash", imageHash).
		Str("existing_receipt_id", match.ReceiptID.String()).
		Msg("Dedup cache hit")

	return &Result{
		Found:             true,
		ExistingReceiptID: match.ReceiptID,
		Extraction:        match.Extraction,
		ConfidenceScore:   match.ConfidenceScore,
	}, nil
}

// CheckDuplicate widens eligibility to any non-archived status. Used to
// reject outright re-uploads of an in-flight duplicate, not just completed
// ones. Returns the existing receipt's id, or uuid.Nil when no duplicate
// exists.
func (c *Cache) CheckDuplicate(ctx context.Context, orgID uuid.UUID, imageHash string) (uuid.UUID, error) {
	match, err := c.receipts.FindByImageHash(ctx, store.HashQuery{
		OrgID:     orgID,
		ImageHash: imageHash,
		Statuses: []models.ReceiptStatus{
			models.ReceiptStatusPending,
			models.ReceiptStatusProcessing,
			models.ReceiptStatusExtracted,
		},
	})
	if err != nil {
		if errors.Is(err, store.ErrReceiptNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, err
	}

	return match.ReceiptID, nil
}
