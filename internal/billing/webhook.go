package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ledgerline/ledgerline/internal/store"
)

// ErrInvalidSignature rejects webhook payloads whose signature does not
// verify against the shared secret.
var ErrInvalidSignature = fmt.Errorf("invalid webhook signature")

// PlanChangeEvent is the billing collaborator's notification that an
// organization moved to a different plan tier.
type PlanChangeEvent struct {
	OrgID    uuid.UUID `json:"org_id"`
	PlanTier string    `json:"plan_tier"`
}

// Webhook applies plan-change events from the external billing system. The
// plan tier is owned by billing, this is the only write path for it.
type Webhook struct {
	orgs   store.OrganizationStore
	secret []byte
}

// NewWebhook creates a webhook processor with the shared signing secret.
func NewWebhook(orgs store.OrganizationStore, secret []byte) *Webhook {
	return &Webhook{orgs: orgs, secret: secret}
}

// Verify checks the hex-encoded HMAC-SHA256 signature over the raw payload.
func (w *Webhook) Verify(payload []byte, signature string) error {
	received, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, w.secret)
	mac.Write(payload)

	if !hmac.Equal(received, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// HandlePlanChange verifies and applies a plan-change payload.
func (w *Webhook) HandlePlanChange(ctx context.Context, payload []byte, signature string) error {
	if err := w.Verify(payload, signature); err != nil {
		return err
	}

	var event PlanChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to unmarshal plan change event: %w", err)
	}
	if event.PlanTier == "" {
		return fmt.Errorf("plan change event missing plan_tier")
	}

	org, err := w.orgs.Get(ctx, event.OrgID)
	if err != nil {
		return err
	}

	org.PlanTier = event.PlanTier
	org.UpdatedAt = time.Now()

	if err := w.orgs.Update(ctx, org); err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Str("org_id", event.OrgID.String()).
		Str("plan_tier", event.PlanTier).
		Msg("Plan tier updated")

	return nil
}
