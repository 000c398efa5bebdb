package models

import (
	"time"

	"github.com/google/uuid"
)

// ReceiptStatus is the lifecycle state of a receipt.
type ReceiptStatus string

const (
	ReceiptStatusPending    ReceiptStatus = "pending"
	ReceiptStatusProcessing ReceiptStatus = "processing"
	ReceiptStatusExtracted  ReceiptStatus = "extracted"
	ReceiptStatusArchived   ReceiptStatus = "archived"
)

// ExtractionResult holds the structured fields pulled out of a receipt image.
// All fields are optional until extraction has populated them.
type ExtractionResult struct {
	Vendor        string     `json:"vendor,omitempty"`
	Amount        *float64   `json:"amount,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	Category      string     `json:"category,omitempty"`
	Tax           *float64   `json:"tax,omitempty"`
	Subtotal      *float64   `json:"subtotal,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	ReceiptNumber string     `json:"receipt_number,omitempty"`
}

// Receipt represents a single ingested receipt image and its extracted data.
// Receipts are never physically deleted, only archived.
//
// Invariants: Extraction is non-nil only when Status is extracted; ImageHash
// is set before any transition out of pending.
type Receipt struct {
	ReceiptID        uuid.UUID         `json:"receipt_id"` // UUIDv7
	OrgID            uuid.UUID         `json:"org_id"`
	Status           ReceiptStatus     `json:"status"`
	ImageHash        string            `json:"image_hash,omitempty"` // sha256 hex of the image bytes, empty until computed
	OriginalImageKey string            `json:"-"`                    // blob store object key
	Extraction       *ExtractionResult `json:"extraction,omitempty"`
	ConfidenceScore  *float64          `json:"confidence_score,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
