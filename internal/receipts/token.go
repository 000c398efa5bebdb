package receipts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// confirmTokenTTL matches the lifetime of the signed upload URL issued
// alongside the token.
const confirmTokenTTL = 2 * time.Hour

// TokenIssuer signs short-lived confirm tokens binding an upload slot to the
// receipt and organization it was issued for.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates a token issuer with the given signing secret.
func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret}
}

// Issue signs a confirm token for the given receipt.
func (i *TokenIssuer) Issue(orgID, receiptID uuid.UUID) (string, error) {
	now := time.Now()
	claims := &jwt.RegisteredClaims{
		Subject:   receiptID.String(),
		Audience:  jwt.ClaimStrings{orgID.String()},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(confirmTokenTTL)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign confirm token: %w", err)
	}
	return token, nil
}

// Verify checks that the token is valid, unexpired, and bound to the given
// receipt and organization.
func (i *TokenIssuer) Verify(tokenStr string, orgID, receiptID uuid.UUID) error {
	parsed, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid confirm token: %w", err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return fmt.Errorf("invalid confirm token claims")
	}

	if claims.Subject != receiptID.String() {
		return fmt.Errorf("confirm token is for a different receipt")
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != orgID.String() {
		return fmt.Errorf("confirm token is for a different organization")
	}

	return nil
}
