package connections

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

// expirySkew refreshes tokens slightly before their reported expiry to
// absorb clock drift between us and the provider.
const expirySkew = time.Minute

// ReauthRequiredError indicates a previously active connection failed
// authorization and needs the user to re-consent.
type ReauthRequiredError struct {
	ConnectionID uuid.UUID
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("connection %s requires re-authentication", e.ConnectionID)
}

// ErrConnectionRevoked is returned when an operation would decrypt or use a
// revoked connection's credential.
var ErrConnectionRevoked = fmt.Errorf("connection is revoked")

// MetadataUpdate carries metadata fields to merge into a connection. Nil
// fields are left unchanged.
type MetadataUpdate struct {
	Email          *string
	DisplayName    *string
	ExternalUserID *string
	GrantedScopes  []string
}

// Manager owns the connection lifecycle: creation on OAuth exchange,
// credential rotation on re-auth, scope validation, and status transitions.
// Credentials are stored only in encrypted form and decrypted at point of
// use.
type Manager struct {
	connections store.ConnectionStore
	cipher      *Cipher
	providers   *OAuthProviders
}

// NewManager creates a connection lifecycle manager.
func NewManager(connections store.ConnectionStore, cipher *Cipher, providers *OAuthProviders) *Manager {
	return &Manager{
		connections: connections,
		cipher:      cipher,
		providers:   providers,
	}
}

// Providers exposes the OAuth provider configuration for consent flows.
func (m *Manager) Providers() *OAuthProviders {
	return m.providers
}

// Create persists a new active connection from a successful OAuth exchange.
// The grant's scopes are validated first, a missing scope fails the attempt
// and nothing is persisted.
func (m *Manager) Create(ctx context.Context, orgID uuid.UUID, connType models.ConnectionType, cred Credential, metadata models.ConnectionMetadata) (*models.Connection, error) {
	if err := ValidateScopes(connType, metadata.GrantedScopes); err != nil {
		return nil, err
	}

	sealed, err := m.seal(cred)
	if err != nil {
		return nil, err
	}

	connectionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate connection ID: %w", err)
	}

	now := time.Now()
	connection := &models.Connection{
		ConnectionID:        connectionID,
		OrgID:               orgID,
		Type:                connType,
		Status:              models.ConnectionStatusActive,
		EncryptedCredential: sealed,
		Metadata:            metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := m.connections.Create(ctx, connection); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("connection_id", connectionID.String()).
		Str("org_id", orgID.String()).
		Str("type", string(connType)).
		Msg("Connection created")

	return connection, nil
}

// Update applies a re-authentication outcome to an existing connection. A
// nil credential retains the stored one, providers commonly omit refresh
// tokens on repeat consent and an absent value must not clobber a working
// credential. Metadata fields merge over the stored metadata. The merged
// scope set is re-validated before anything is persisted.
func (m *Manager) Update(ctx context.Context, orgID, connectionID uuid.UUID, cred *Credential, metadata *MetadataUpdate) (*models.Connection, error) {
	connection, err := m.connections.Get(ctx, orgID, connectionID)
	if err != nil {
		return nil, err
	}

	if connection.Status == models.ConnectionStatusRevoked {
		return nil, ErrConnectionRevoked
	}

	merged := connection.Metadata
	if metadata != nil {
		if metadata.Email != nil {
			merged.Email = *metadata.Email
		}
		if metadata.DisplayName != nil {
			merged.DisplayName = *metadata.DisplayName
		}
		if metadata.ExternalUserID != nil {
			merged.ExternalUserID = *metadata.ExternalUserID
		}
		if metadata.GrantedScopes != nil {
			merged.GrantedScopes = metadata.GrantedScopes
		}
	}

	if err := ValidateScopes(connection.Type, merged.GrantedScopes); err != nil {
		return nil, err
	}

	if cred != nil {
		sealed, err := m.seal(*cred)
		if err != nil {
			return nil, err
		}
		connection.EncryptedCredential = sealed
	} else {
		log.Ctx(ctx).Warn().
			Str("connection_id", connectionID.String()).
			Msg("No credential supplied on re-auth, retaining stored credential")
	}

	connection.Metadata = merged
	connection.Status = models.ConnectionStatusActive
	connection.UpdatedAt = time.Now()

	if err := m.connections.Update(ctx, connection); err != nil {
		return nil, err
	}

	return connection, nil
}

// GetDecrypted returns the connection along with its decrypted credential.
// Revoked connections are never decrypted, connections needing re-auth
// surface a ReauthRequiredError instead of a stale credential.
func (m *Manager) GetDecrypted(ctx context.Context, orgID, connectionID uuid.UUID) (*models.Connection, Credential, error) {
	connection, err := m.connections.Get(ctx, orgID, connectionID)
	if err != nil {
		return nil, Credential{}, err
	}

	switch connection.Status {
	case models.ConnectionStatusRevoked:
		return nil, Credential{}, ErrConnectionRevoked
	case models.ConnectionStatusNeedsReauth:
		return nil, Credential{}, &ReauthRequiredError{ConnectionID: connectionID}
	}

	cred, err := m.open(connection.EncryptedCredential)
	if err != nil {
		return nil, Credential{}, err
	}

	return connection, cred, nil
}

// AccessToken returns a live access token for the connection, refreshing the
// stored credential when the current one has expired. A refresh failure
// transitions the connection to needs_reauth.
func (m *Manager) AccessToken(ctx context.Context, orgID, connectionID uuid.UUID) (string, error) {
	connection, cred, err := m.GetDecrypted(ctx, orgID, connectionID)
	if err != nil {
		return "", err
	}

	if cred.Expiry.IsZero() || time.Now().Before(cred.Expiry.Add(-expirySkew)) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		if err := m.MarkNeedsReauth(ctx, orgID, connectionID); err != nil {
			return "", err
		}
		return "", &ReauthRequiredError{ConnectionID: connectionID}
	}

	refreshed, err := m.providers.refreshCredential(ctx, connection.Type, cred)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("connection_id", connectionID.String()).
			Msg("Token refresh failed, marking connection for re-auth")

		if markErr := m.MarkNeedsReauth(ctx, orgID, connectionID); markErr != nil {
			return "", markErr
		}
		return "", &ReauthRequiredError{ConnectionID: connectionID}
	}

	sealed, err := m.seal(*refreshed)
	if err != nil {
		return "", err
	}

	connection.EncryptedCredential = sealed
	connection.UpdatedAt = time.Now()
	if err := m.connections.Update(ctx, connection); err != nil {
		return "", err
	}

	return refreshed.AccessToken, nil
}

// MarkNeedsReauth flags the connection for user re-consent. Revoked
// connections stay revoked.
func (m *Manager) MarkNeedsReauth(ctx context.Context, orgID, connectionID uuid.UUID) error {
	return m.setStatus(ctx, orgID, connectionID, models.ConnectionStatusNeedsReauth)
}

// Revoke terminally revokes the connection. Idempotent.
func (m *Manager) Revoke(ctx context.Context, orgID, connectionID uuid.UUID) error {
	connection, err := m.connections.Get(ctx, orgID, connectionID)
	if err != nil {
		return err
	}

	if connection.Status == models.ConnectionStatusRevoked {
		return nil
	}

	connection.Status = models.ConnectionStatusRevoked
	connection.UpdatedAt = time.Now()

	if err := m.connections.Update(ctx, connection); err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Str("connection_id", connectionID.String()).
		Str("org_id", orgID.String()).
		Msg("Connection revoked")

	return nil
}

// Get returns the connection without touching its credential.
func (m *Manager) Get(ctx context.Context, orgID, connectionID uuid.UUID) (*models.Connection, error) {
	return m.connections.Get(ctx, orgID, connectionID)
}

// ListByOrg returns all connections for the organization.
func (m *Manager) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Connection, error) {
	return m.connections.ListByOrg(ctx, orgID)
}

func (m *Manager) setStatus(ctx context.Context, orgID, connectionID uuid.UUID, status models.ConnectionStatus) error {
	connection, err := m.connections.Get(ctx, orgID, connectionID)
	if err != nil {
		return err
	}

	if connection.Status == models.ConnectionStatusRevoked {
		return ErrConnectionRevoked
	}

	connection.Status = status
	connection.UpdatedAt = time.Now()

	return m.connections.Update(ctx, connection)
}

func (m *Manager) seal(cred Credential) ([]byte, error) {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	return m.cipher.Seal(plaintext)
}

func (m *Manager) open(ciphertext []byte) (Credential, error) {
	plaintext, err := m.cipher.Open(ciphertext)
	if err != nil {
		return Credential{}, err
	}

	var cred Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return Credential{}, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return cred, nil
}
