package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/telemetry"
)

const receiptPrompt = `Analyze this receipt image and extract the following fields as a JSON object:
{
  "vendor": "merchant or store name",
  "amount": 0.00,
  "currency": "ISO 4217 currency code, e.g. USD",
  "date": "transaction date in YYYY-MM-DD format",
  "category": "one of: groceries, dining, travel, transport, office, software, utilities, entertainment, health, other",
  "tax": 0.00,
  "subtotal": 0.00,
  "payment_method": "e.g. VISA ****1234, cash",
  "receipt_number": "receipt or invoice number if printed",
  "confidence": 0.0
}

Rules:
- amount is the final total paid, as a number without currency symbols.
- Set confidence between 0.0 and 1.0 reflecting how legible the receipt is.
- Use null for any field you cannot read.
- Respond with ONLY the JSON object, no other text.`

// Gemini implements Extractor using the Google Gemini vision API.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini-backed extractor.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Extract sends the receipt image to Gemini and parses the JSON response.
func (g *Gemini) Extract(ctx context.Context, image []byte, contentType string) (*models.ExtractionResult, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	metrics := telemetry.GetMetrics()
	started := time.Now()

	parts := []genai.Part{
		genai.ImageData(imageFormat(contentType), image),
		genai.Text(receiptPrompt),
	}

	metrics.ExtractionsTotal.Add(ctx, 1)

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		metrics.ExtractionErrorsTotal.Add(ctx, 1)
		return nil, 0, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		metrics.ExtractionErrorsTotal.Add(ctx, 1)
		return nil, 0, fmt.Errorf("empty response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	result, confidence, err := parseExtractionJSON(responseText.String())
	if err != nil {
		metrics.ExtractionErrorsTotal.Add(ctx, 1)
		return nil, 0, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	metrics.ExtractionDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	log.Ctx(ctx).Debug().
		Str("vendor", result.Vendor).
		Float64("confidence", confidence).
		Dur("duration", time.Since(started)).
		Msg("Extraction completed")

	return result, confidence, nil
}

// Close closes the underlying Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// imageFormat converts a MIME type into the bare format suffix genai expects.
func imageFormat(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return "jpeg"
	case "image/webp":
		return "webp"
	case "image/heic":
		return "heic"
	default:
		return "png"
	}
}
