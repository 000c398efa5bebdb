package extraction

import (
	"context"

	"github.com/ledgerline/ledgerline/internal/models"
)

// Extractor analyzes a receipt image and extracts structured fields from it.
type Extractor interface {
	// Extract analyzes a receipt image and returns the extracted fields
	// along with a confidence score in [0, 1].
	Extract(ctx context.Context, image []byte, contentType string) (*models.ExtractionResult, float64, error)
	// Close releases any resources held by the extractor.
	Close() error
}
