package syncer

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"github.com/ledgerline/ledgerline/internal/models"
)

// SheetsWriterFactory opens writer sessions against Google Sheets
// destinations.
type SheetsWriterFactory struct{}

func (f *SheetsWriterFactory) NewWriter(ctx context.Context, token string, destination *models.Destination) (Writer, error) {
	cfg := destination.Config.GoogleSheets
	if cfg == nil {
		return nil, fmt.Errorf("destination has no google_sheets configuration")
	}

	svc, err := sheets.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
	})))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	w := &sheetsWriter{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		rowByID:       make(map[string]int),
	}

	if err := w.loadIndex(ctx); err != nil {
		return nil, err
	}

	return w, nil
}

// sheetsWriter upserts receipt rows keyed by the receipt id in the first
// column. The id index is loaded once per sync run.
type sheetsWriter struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	rowByID       map[string]int // receipt id → 1-based row number
	nextRow       int
}

func (w *sheetsWriter) loadIndex(ctx context.Context) error {
	resp, err := w.svc.Spreadsheets.Values.
		Get(w.spreadsheetID, fmt.Sprintf("%s!A:A", w.sheetName)).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read sheet index: %w", err)
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id, ok := row[0].(string); ok && id != "" {
			w.rowByID[id] = i + 1
		}
	}
	w.nextRow = len(resp.Values) + 1

	return nil
}

func (w *sheetsWriter) WriteReceipt(ctx context.Context, receipt *models.Receipt, columns []string) error {
	values := make([]any, len(columns))
	for i, column := range columns {
		values[i] = columnValue(receipt, column)
	}
	payload := &sheets.ValueRange{Values: [][]any{values}}

	id := receipt.ReceiptID.String()
	if row, ok := w.rowByID[id]; ok {
		_, err := w.svc.Spreadsheets.Values.
			Update(w.spreadsheetID, fmt.Sprintf("%s!A%d", w.sheetName, row), payload).
			ValueInputOption("RAW").
			Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to update row %d: %w", row, err)
		}
		return nil
	}

	_, err := w.svc.Spreadsheets.Values.
		Append(w.spreadsheetID, fmt.Sprintf("%s!A:A", w.sheetName), payload).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}

	w.rowByID[id] = w.nextRow
	w.nextRow++

	return nil
}
