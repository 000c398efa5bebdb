package syncer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ledgerline/ledgerline/internal/models"
)

// ExportFormat selects the rendered file format.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatTSV ExportFormat = "tsv"
)

// exportColumns is the closed set of renderable receipt columns. Each maps a
// column id to a value extractor over the receipt.
var exportColumns = map[string]func(*models.Receipt) string{
	"id":             func(r *models.Receipt) string { return r.ReceiptID.String() },
	"vendor":         func(r *models.Receipt) string { return extractionString(r, func(e *models.ExtractionResult) string { return e.Vendor }) },
	"amount":         func(r *models.Receipt) string { return extractionNumber(r, func(e *models.ExtractionResult) *float64 { return e.Amount }) },
	"currency":       func(r *models.Receipt) string { return extractionString(r, func(e *models.ExtractionResult) string { return e.Currency }) },
	"date":           renderDate,
	"category":       func(r *models.Receipt) string { return extractionString(r, func(e *models.ExtractionResult) string { return e.Category }) },
	"tax":            func(r *models.Receipt) string { return extractionNumber(r, func(e *models.ExtractionResult) *float64 { return e.Tax }) },
	"subtotal":       func(r *models.Receipt) string { return extractionNumber(r, func(e *models.ExtractionResult) *float64 { return e.Subtotal }) },
	"payment_method": func(r *models.Receipt) string { return extractionString(r, func(e *models.ExtractionResult) string { return e.PaymentMethod }) },
	"receipt_number": func(r *models.Receipt) string { return extractionString(r, func(e *models.ExtractionResult) string { return e.ReceiptNumber }) },
	"confidence": func(r *models.Receipt) string {
		if r.ConfidenceScore == nil {
			return ""
		}
		return strconv.FormatFloat(*r.ConfidenceScore, 'f', 2, 64)
	},
}

// DefaultColumns is the column selection used when the caller specifies none.
var DefaultColumns = []string{"id", "vendor", "amount", "currency", "date", "category"}

func extractionString(r *models.Receipt, pick func(*models.ExtractionResult) string) string {
	if r.Extraction == nil {
		return ""
	}
	return pick(r.Extraction)
}

func extractionNumber(r *models.Receipt, pick func(*models.ExtractionResult) *float64) string {
	if r.Extraction == nil {
		return ""
	}
	v := pick(r.Extraction)
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func renderDate(r *models.Receipt) string {
	if r.Extraction == nil || r.Extraction.Date == nil {
		return ""
	}
	return r.Extraction.Date.Format("2006-01-02")
}

// columnValue renders a single receipt column. Unknown columns render empty,
// validateColumns rejects them before this is reached.
func columnValue(receipt *models.Receipt, column string) string {
	render, ok := exportColumns[column]
	if !ok {
		return ""
	}
	return render(receipt)
}

// UnknownColumnError rejects a column selection naming a column the renderer
// does not know.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown export column: %q", e.Column)
}

// validateColumns checks every requested column against the known set.
func validateColumns(columns []string) error {
	for _, column := range columns {
		if _, ok := exportColumns[column]; !ok {
			return &UnknownColumnError{Column: column}
		}
	}
	return nil
}

// Artifact is a rendered export file.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Render produces a delimited-text artifact for the given receipts. Column
// order follows the caller's selection, unselected columns are omitted
// entirely.
func Render(receipts []*models.Receipt, columns []string, format ExportFormat, compress bool) (*Artifact, error) {
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	if err := validateColumns(columns); err != nil {
		return nil, err
	}

	var ext, contentType string
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	switch format {
	case FormatCSV, "":
		ext, contentType = "csv", "text/csv"
	case FormatTSV:
		ext, contentType = "tsv", "text/tab-separated-values"
		w.Comma = '\t'
	default:
		return nil, fmt.Errorf("unknown export format: %q", format)
	}

	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, len(columns))
	for _, receipt := range receipts {
		for i, column := range columns {
			row[i] = columnValue(receipt, column)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush rows: %w", err)
	}

	artifact := &Artifact{
		Filename:    fmt.Sprintf("receipts-%s.%s", time.Now().Format("2006-01-02"), ext),
		ContentType: contentType,
		Data:        buf.Bytes(),
	}

	if compress {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(artifact.Data); err != nil {
			return nil, fmt.Errorf("failed to compress artifact: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finish compression: %w", err)
		}

		artifact.Filename += ".gz"
		artifact.ContentType = "application/gzip"
		artifact.Data = zbuf.Bytes()
	}

	return artifact, nil
}
