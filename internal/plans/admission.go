package plans

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/ledgerline/internal/store"
	"github.com/rs/zerolog/log"
)

// Decision is the structured outcome of an admission check. The decision is
// advisory: the surrounding endpoint enforces the rejection.
type Decision struct {
	Allowed      bool `json:"allowed"`
	CurrentCount int  `json:"current_count"`
	Limit        int  `json:"limit"`
}

// LimitExceededError carries current/limit values for a precise user-facing
// message. Resolving it requires action (a plan upgrade), not a retry.
type LimitExceededError struct {
	Resource     string
	CurrentCount int
	Limit        int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d of %d used", e.Resource, e.CurrentCount, e.Limit)
}

// Controller performs admission checks against the plan table.
type Controller struct {
	orgs         store.OrganizationStore
	receipts     store.ReceiptStore
	destinations store.DestinationStore
	table        Table
}

// NewController creates an admission controller.
func NewController(orgs store.OrganizationStore, receipts store.ReceiptStore, destinations store.DestinationStore, table Table) *Controller {
	if table == nil {
		table = DefaultTable()
	}
	return &Controller{
		orgs:         orgs,
		receipts:     receipts,
		destinations: destinations,
		table:        table,
	}
}

// CanAddReceipt reports whether the organization may ingest another receipt.
// Counts cover non-archived receipts created in the current billing period.
func (c *Controller) CanAddReceipt(ctx context.Context, orgID uuid.UUID) (*Decision, error) {
	org, err := c.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	limits := c.table.Limits(org.PlanTier)
	periodStart := currentPeriodStart(org.BillingAnchor, time.Now())

	count, err := c.receipts.CountNonArchivedSince(ctx, orgID, periodStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count receipts: %w", err)
	}

	decision := &Decision{
		Allowed:      count < limits.MaxReceiptsPerPeriod,
		CurrentCount: count,
		Limit:        limits.MaxReceiptsPerPeriod,
	}

	if !decision.Allowed {
		log.Info().
			Str("org_id", orgID.String()).
			Str("plan_tier", org.PlanTier).
			Int("count", count).
			Int("limit", limits.MaxReceiptsPerPeriod).
			Msg("Receipt admission denied")
	}

	return decision, nil
}

// CanAddDestination reports whether the organization may create another
// destination. Counts cover non-archived destinations.
func (c *Controller) CanAddDestination(ctx context.Context, orgID uuid.UUID) (*Decision, error) {
	org, err := c.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	limits := c.table.Limits(org.PlanTier)

	count, err := c.destinations.CountNonArchived(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to count destinations: %w", err)
	}

	decision := &Decision{
		Allowed:      count < limits.MaxDestinations,
		CurrentCount: count,
		Limit:        limits.MaxDestinations,
	}

	if !decision.Allowed {
		log.Info().
			Str("org_id", orgID.String()).
			Str("plan_tier", org.PlanTier).
			Int("count", count).
			Int("limit", limits.MaxDestinations).
			Msg("Destination admission denied")
	}

	return decision, nil
}

// currentPeriodStart returns the start of the billing period containing now,
// for monthly periods anchored at anchor. Anchor days past the end of a short
// month clamp to that month's last day.
func currentPeriodStart(anchor, now time.Time) time.Time {
	if anchor.IsZero() || now.Before(anchor) {
		return anchor
	}

	year, month := now.Year(), now.Month()
	start := periodStartFor(year, month, anchor)
	if start.After(now) {
		start = periodStartFor(year, month-1, anchor)
	}
	return start
}

func periodStartFor(year int, month time.Month, anchor time.Time) time.Time {
	day := anchor.Day()
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, anchor.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day,
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
}
