package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DestinationStatus is the lifecycle state of a destination.
type DestinationStatus string

const (
	DestinationStatusRunning  DestinationStatus = "running"
	DestinationStatusPaused   DestinationStatus = "paused"
	DestinationStatusArchived DestinationStatus = "archived"
)

// GoogleSheetsConfig targets a sheet within a spreadsheet. Columns selects and
// orders the receipt columns written to the sheet.
type GoogleSheetsConfig struct {
	SpreadsheetID string   `json:"spreadsheet_id"`
	SheetName     string   `json:"sheet_name"`
	Columns       []string `json:"columns"`
}

// NotionConfig targets a Notion database.
type NotionConfig struct {
	DatabaseID string   `json:"database_id"`
	Columns    []string `json:"columns"`
}

// DestinationConfig is a tagged union: the shape of the configuration is
// determined by Type, and exactly one variant must be populated.
type DestinationConfig struct {
	Type         ConnectionType      `json:"type"`
	GoogleSheets *GoogleSheetsConfig `json:"google_sheets,omitempty"`
	Notion       *NotionConfig       `json:"notion,omitempty"`
}

// Validate checks the union exhaustively over the closed set of known types.
// An unrecognized type is an explicit failure, never silently ignored.
func (c *DestinationConfig) Validate() error {
	switch c.Type {
	case ConnectionTypeGoogle:
		if c.GoogleSheets == nil {
			return fmt.Errorf("google destination requires google_sheets configuration")
		}
		if c.GoogleSheets.SpreadsheetID == "" {
			return fmt.Errorf("google_sheets configuration requires spreadsheet_id")
		}
	case ConnectionTypeNotion:
		if c.Notion == nil {
			return fmt.Errorf("notion destination requires notion configuration")
		}
		if c.Notion.DatabaseID == "" {
			return fmt.Errorf("notion configuration requires database_id")
		}
	default:
		return fmt.Errorf("unrecognized destination type: %q", c.Type)
	}
	return nil
}

// Columns returns the configured column selection for the active variant.
func (c *DestinationConfig) Columns() []string {
	switch c.Type {
	case ConnectionTypeGoogle:
		if c.GoogleSheets != nil {
			return c.GoogleSheets.Columns
		}
	case ConnectionTypeNotion:
		if c.Notion != nil {
			return c.Notion.Columns
		}
	}
	return nil
}

// Destination is a configured sync target backed by a connection. The
// connection is referenced, not owned: one connection may back multiple
// destinations. Destinations are archived, never hard-deleted.
type Destination struct {
	DestinationID uuid.UUID         `json:"destination_id"` // UUIDv7
	OrgID         uuid.UUID         `json:"org_id"`
	Type          ConnectionType    `json:"type"`
	Status        DestinationStatus `json:"status"`
	Config        DestinationConfig `json:"config"`
	ConnectionID  uuid.UUID         `json:"connection_id"`
	LastSyncedAt  *time.Time        `json:"last_synced_at,omitempty"`
	SyncError     string            `json:"sync_error,omitempty"` // last failure summary, cleared on next clean run
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
