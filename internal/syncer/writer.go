package syncer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerline/internal/models"
)

// DestinationWriteError is a per-record write failure. The batch continues
// past it; failures are accumulated into the destination's error summary.
type DestinationWriteError struct {
	ReceiptID uuid.UUID
	Err       error
}

func (e *DestinationWriteError) Error() string {
	return fmt.Sprintf("failed to write receipt %s: %v", e.ReceiptID, e.Err)
}

func (e *DestinationWriteError) Unwrap() error { return e.Err }

// Writer writes receipts to one live destination within a single sync run.
type Writer interface {
	// WriteReceipt upserts one receipt keyed by its id, so re-syncing the
	// same receipt never produces a duplicate row.
	WriteReceipt(ctx context.Context, receipt *models.Receipt, columns []string) error
}

// WriterFactory opens a Writer session against a destination using a live
// access token.
type WriterFactory interface {
	NewWriter(ctx context.Context, token string, destination *models.Destination) (Writer, error)
}

// writerFactories resolves the factory for a destination type.
type writerFactories map[models.ConnectionType]WriterFactory

func (f writerFactories) forDestination(destination *models.Destination) (WriterFactory, error) {
	factory, ok := f[destination.Type]
	if !ok {
		return nil, fmt.Errorf("no writer for destination type: %q", destination.Type)
	}
	return factory, nil
}
