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

// ReceiptStore implements store.ReceiptStore using PostgreSQL. The extraction
// result is stored as JSONB.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore creates a PostgreSQL-backed receipt store.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

const receiptColumns = `
	receipt_id, org_id, status, image_hash, original_image_key,
	extraction, confidence_score, created_at, updated_at
`

func scanReceipt(row pgx.Row) (*models.Receipt, error) {
	var receipt models.Receipt
	err := row.Scan(
		&receipt.ReceiptID,
		&receipt.OrgID,
		&receipt.Status,
		&receipt.ImageHash,
		&receipt.OriginalImageKey,
		&receipt.Extraction,
		&receipt.ConfidenceScore,
		&receipt.CreatedAt,
		&receipt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Create creates a new receipt.
func (s *ReceiptStore) Create(ctx context.Context, receipt *models.Receipt) error {
	query := `
		INSERT INTO receipts (` + receiptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		receipt.ReceiptID,
		receipt.OrgID,
		receipt.Status,
		receipt.ImageHash,
		receipt.OriginalImageKey,
		receipt.Extraction,
		receipt.ConfidenceScore,
		receipt.CreatedAt,
		receipt.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrReceiptAlreadyExists
		}
		return fmt.Errorf("failed to create receipt: %w", mapPostgresError(err))
	}

	return nil
}

// Get retrieves a receipt by ID within the organization.
func (s *ReceiptStore) Get(ctx context.Context, orgID, receiptID uuid.UUID) (*models.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM receipts
		WHERE org_id = $1 AND receipt_id = $2
	`

	receipt, err := scanReceipt(s.pool.QueryRow(ctx, query, orgID, receiptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", mapPostgresError(err))
	}

	return receipt, nil
}

// Update updates an existing receipt.
func (s *ReceiptStore) Update(ctx context.Context, receipt *models.Receipt) error {
	receipt.UpdatedAt = time.Now()

	query := `
		UPDATE receipts SET
			status = $3,
			image_hash = $4,
			extraction = $5,
			confidence_score = $6,
			updated_at = $7
		WHERE org_id = $1 AND receipt_id = $2
	`

	result, err := s.pool.Exec(ctx, query,
		receipt.OrgID,
		receipt.ReceiptID,
		receipt.Status,
		receipt.ImageHash,
		receipt.Extraction,
		receipt.ConfidenceScore,
		receipt.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update receipt: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrReceiptNotFound
	}

	return nil
}

// FindByImageHash returns the first receipt matching the hash query.
func (s *ReceiptStore) FindByImageHash(ctx context.Context, q store.HashQuery) (*models.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM receipts
		WHERE org_id = $1
		  AND image_hash = $2
		  AND status = ANY($3)
		  AND ($4::uuid IS NULL OR receipt_id <> $4)
		LIMIT 1
	`

	receipt, err := scanReceipt(s.pool.QueryRow(ctx, query,
		q.OrgID,
		q.ImageHash,
		statusStrings(q.Statuses),
		q.ExcludeReceiptID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to find receipt by hash: %w", mapPostgresError(err))
	}

	return receipt, nil
}

// List returns the organization's receipts matching the filter, newest first.
// Date bounds apply to the extracted transaction date.
func (s *ReceiptStore) List(ctx context.Context, orgID uuid.UUID, filter store.ReceiptFilter) ([]*models.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM receipts
		WHERE org_id = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		  AND (cardinality($3::text[]) = 0 OR extraction->>'category' = ANY($3))
		  AND ($4::timestamptz IS NULL OR (extraction->>'date')::timestamptz >= $4)
		  AND ($5::timestamptz IS NULL OR (extraction->>'date')::timestamptz <= $5)
		ORDER BY created_at DESC
	`

	categories := filter.Categories
	if categories == nil {
		categories = []string{}
	}

	rows, err := s.pool.Query(ctx, query,
		orgID,
		statusStrings(filter.Statuses),
		categories,
		filter.From,
		filter.To,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var receipts []*models.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}

	return receipts, rows.Err()
}

// CountNonArchivedSince counts the organization's non-archived receipts
// created at or after the given instant.
func (s *ReceiptStore) CountNonArchivedSince(ctx context.Context, orgID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT count(*)
		FROM receipts
		WHERE org_id = $1 AND status <> 'archived' AND created_at >= $2
	`

	var count int
	if err := s.pool.QueryRow(ctx, query, orgID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", mapPostgresError(err))
	}

	return count, nil
}

// statusStrings converts a status filter to a non-nil text array so that
// cardinality checks in SQL behave on the empty case.
func statusStrings(statuses []models.ReceiptStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}
