package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerline/ledgerline/internal/models"
)

// rawExtraction mirrors the JSON shape the model is prompted to return.
// The date arrives as a string and is parsed separately.
type rawExtraction struct {
	Vendor        string   `json:"vendor"`
	Amount        *float64 `json:"amount"`
	Currency      string   `json:"currency"`
	Date          string   `json:"date"`
	Category      string   `json:"category"`
	Tax           *float64 `json:"tax"`
	Subtotal      *float64 `json:"subtotal"`
	PaymentMethod string   `json:"payment_method"`
	ReceiptNumber string   `json:"receipt_number"`
	Confidence    float64  `json:"confidence"`
}

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"Jan 2, 2006",
}

// parseExtractionJSON parses the model's JSON response into an extraction
// result and a confidence score. Markdown code fences and any text around
// the JSON object are stripped first.
func parseExtractionJSON(text string) (*models.ExtractionResult, float64, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, 0, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, 0, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawExtraction
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal extraction: %w", err)
	}

	result := &models.ExtractionResult{
		Vendor:        strings.TrimSpace(raw.Vendor),
		Amount:        raw.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Category:      strings.ToLower(strings.TrimSpace(raw.Category)),
		Tax:           raw.Tax,
		Subtotal:      raw.Subtotal,
		PaymentMethod: strings.TrimSpace(raw.PaymentMethod),
		ReceiptNumber: strings.TrimSpace(raw.ReceiptNumber),
	}

	if raw.Date != "" {
		for _, format := range dateFormats {
			if d, err := time.Parse(format, raw.Date); err == nil {
				result.Date = &d
				break
			}
		}
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return result, confidence, nil
}
