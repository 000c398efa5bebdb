package extraction

import (
	"context"
	"errors"

	"github.com/ledgerline/ledgerline/internal/models"
)

// ErrNoBackend is returned by Disabled for every extraction attempt.
var ErrNoBackend = errors.New("no extraction backend configured")

// Disabled stands in when no extraction backend is configured. Receipts can
// still be ingested and deduplicated; processing fails until a backend is
// wired up.
type Disabled struct{}

func (Disabled) Extract(context.Context, []byte, string) (*models.ExtractionResult, float64, error) {
	return nil, 0, ErrNoBackend
}

func (Disabled) Close() error { return nil }
