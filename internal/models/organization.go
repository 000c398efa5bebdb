package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant. The plan tier is set externally by the
// billing-event collaborator; admission control only reads it.
type Organization struct {
	OrgID    uuid.UUID `json:"org_id"` // UUIDv7
	Name     string    `json:"name"`
	PlanTier string    `json:"plan_tier"`
	// BillingAnchor marks the start of the first billing period. Periods are
	// monthly, anchored on this timestamp's day of month.
	BillingAnchor time.Time `json:"billing_anchor"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
