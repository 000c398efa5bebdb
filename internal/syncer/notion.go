package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ledgerline/ledgerline/internal/models"
)

const notionAPIVersion = "2022-06-28"

// NotionWriterFactory opens writer sessions against Notion database
// destinations.
type NotionWriterFactory struct {
	// BaseURL overrides the Notion API endpoint, used in tests.
	BaseURL    string
	HTTPClient *http.Client
}

func (f *NotionWriterFactory) NewWriter(ctx context.Context, token string, destination *models.Destination) (Writer, error) {
	cfg := destination.Config.Notion
	if cfg == nil {
		return nil, fmt.Errorf("destination has no notion configuration")
	}

	baseURL := strings.TrimRight(f.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}

	httpClient := f.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}

	return &notionWriter{
		baseURL:    baseURL,
		token:      token,
		databaseID: cfg.DatabaseID,
		httpClient: httpClient,
	}, nil
}

// notionWriter upserts receipts as pages in a Notion database, keyed by a
// "Receipt ID" rich-text property.
type notionWriter struct {
	baseURL    string
	token      string
	databaseID string
	httpClient *http.Client
}

func (w *notionWriter) WriteReceipt(ctx context.Context, receipt *models.Receipt, columns []string) error {
	pageID, err := w.findPage(ctx, receipt.ReceiptID.String())
	if err != nil {
		return err
	}

	properties := notionProperties(receipt, columns)

	if pageID == "" {
		payload := map[string]any{
			"parent":     map[string]any{"database_id": w.databaseID},
			"properties": properties,
		}
		return w.do(ctx, http.MethodPost, "/v1/pages", payload, nil)
	}

	payload := map[string]any{"properties": properties}
	return w.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, payload, nil)
}

// findPage returns the page id holding the receipt, or empty when absent.
func (w *notionWriter) findPage(ctx context.Context, receiptID string) (string, error) {
	payload := map[string]any{
		"filter": map[string]any{
			"property":  "Receipt ID",
			"rich_text": map[string]any{"equals": receiptID},
		},
		"page_size": 1,
	}

	var result struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}

	if err := w.do(ctx, http.MethodPost, "/v1/databases/"+w.databaseID+"/query", payload, &result); err != nil {
		return "", err
	}

	if len(result.Results) == 0 {
		return "", nil
	}
	return result.Results[0].ID, nil
}

// do performs one Notion API call, retrying rate limits and server errors
// with exponential backoff.
func (w *notionWriter) do(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notion payload: %w", err)
	}

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+w.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Notion-Version", notionAPIVersion)

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return respBody, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("notion request failed: %s", resp.Status)
		default:
			return nil, backoff.Permanent(fmt.Errorf("notion request failed: %s: %s", resp.Status, respBody))
		}
	}

	respBody, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4))
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode notion response: %w", err)
		}
	}
	return nil
}

// notionProperties maps the selected columns onto Notion property values.
// The receipt id is always included as the upsert key, and the vendor fills
// the database's title property.
func notionProperties(receipt *models.Receipt, columns []string) map[string]any {
	properties := map[string]any{
		"Receipt ID": map[string]any{
			"rich_text": []any{notionText(receipt.ReceiptID.String())},
		},
	}

	for _, column := range columns {
		value := columnValue(receipt, column)

		switch column {
		case "id":
			// Already present as the upsert key.
		case "vendor":
			title := value
			if title == "" {
				title = "Receipt " + receipt.ReceiptID.String()
			}
			properties["Name"] = map[string]any{
				"title": []any{notionText(title)},
			}
		case "amount", "tax", "subtotal", "confidence":
			if receipt.Extraction == nil && column != "confidence" {
				continue
			}
			if number := notionNumber(receipt, column); number != nil {
				properties[propertyName(column)] = map[string]any{"number": *number}
			}
		case "date":
			if value != "" {
				properties["Date"] = map[string]any{
					"date": map[string]any{"start": value},
				}
			}
		default:
			properties[propertyName(column)] = map[string]any{
				"rich_text": []any{notionText(value)},
			}
		}
	}

	return properties
}

func notionNumber(receipt *models.Receipt, column string) *float64 {
	switch column {
	case "amount":
		return receipt.Extraction.Amount
	case "tax":
		return receipt.Extraction.Tax
	case "subtotal":
		return receipt.Extraction.Subtotal
	case "confidence":
		return receipt.ConfidenceScore
	}
	return nil
}

func notionText(content string) map[string]any {
	return map[string]any{
		"text": map[string]any{"content": content},
	}
}

// propertyName turns a column id into its Notion property name, e.g.
// payment_method → Payment Method.
func propertyName(column string) string {
	parts := strings.Split(column, "_")
	for i, part := range parts {
		if part != "" {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, " ")
}
