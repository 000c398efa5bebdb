package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store/memory"
)

func sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandlePlanChange(t *testing.T) {
	ctx := context.Background()
	secret := []byte("webhook-secret")

	orgs := memory.NewOrganizationStore()
	orgID := uuid.New()
	require.NoError(t, orgs.Create(ctx, &models.Organization{
		OrgID:         orgID,
		Name:          "acme",
		PlanTier:      "free",
		BillingAnchor: time.Now(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}))

	webhook := NewWebhook(orgs, secret)

	t.Run("applies a signed plan change", func(t *testing.T) {
		payload := []byte(fmt.Sprintf(`{"org_id":%q,"plan_tier":"business"}`, orgID))

		require.NoError(t, webhook.HandlePlanChange(ctx, payload, sign(secret, payload)))

		org, err := orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, "business", org.PlanTier)
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		payload := []byte(fmt.Sprintf(`{"org_id":%q,"plan_tier":"starter"}`, orgID))

		err := webhook.HandlePlanChange(ctx, payload, sign([]byte("wrong-secret"), payload))
		require.ErrorIs(t, err, ErrInvalidSignature)

		org, err := orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, "business", org.PlanTier)
	})

	t.Run("rejects a tampered payload", func(t *testing.T) {
		payload := []byte(fmt.Sprintf(`{"org_id":%q,"plan_tier":"starter"}`, orgID))
		signature := sign(secret, payload)

		tampered := []byte(fmt.Sprintf(`{"org_id":%q,"plan_tier":"business"}`, orgID))
		err := webhook.HandlePlanChange(ctx, tampered, signature)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("rejects a non-hex signature", func(t *testing.T) {
		payload := []byte(`{}`)
		err := webhook.HandlePlanChange(ctx, payload, "zz-not-hex")
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("rejects an event without a tier", func(t *testing.T) {
		payload := []byte(fmt.Sprintf(`{"org_id":%q}`, orgID))
		err := webhook.HandlePlanChange(ctx, payload, sign(secret, payload))
		require.ErrorContains(t, err, "missing plan_tier")
	})

	t.Run("unknown org fails", func(t *testing.T) {
		payload := []byte(fmt.Sprintf(`{"org_id":%q,"plan_tier":"starter"}`, uuid.New()))
		err := webhook.HandlePlanChange(ctx, payload, sign(secret, payload))
		require.Error(t, err)
	})
}
