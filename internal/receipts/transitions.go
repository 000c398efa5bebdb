package receipts

import (
	"fmt"
	"time"

	"github.com/ledgerline/ledgerline/internal/models"
)

// validTransitions is the receipt state machine. Archival is legal from any
// non-terminal state, archived is terminal.
var validTransitions = map[models.ReceiptStatus][]models.ReceiptStatus{
	models.ReceiptStatusPending:    {models.ReceiptStatusProcessing, models.ReceiptStatusArchived},
	models.ReceiptStatusProcessing: {models.ReceiptStatusExtracted, models.ReceiptStatusArchived},
	models.ReceiptStatusExtracted:  {models.ReceiptStatusArchived},
	models.ReceiptStatusArchived:   {},
}

// InvalidTransitionError rejects a status write the state machine does not
// allow.
type InvalidTransitionError struct {
	From models.ReceiptStatus
	To   models.ReceiptStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid receipt transition from %s to %s", e.From, e.To)
}

// transition advances the receipt to the given status, rejecting moves the
// state machine does not allow.
func transition(receipt *models.Receipt, to models.ReceiptStatus) error {
	for _, allowed := range validTransitions[receipt.Status] {
		if allowed == to {
			receipt.Status = to
			receipt.UpdatedAt = time.Now()
			return nil
		}
	}
	return &InvalidTransitionError{From: receipt.Status, To: to}
}
