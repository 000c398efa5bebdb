package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionType identifies the external provider backing a connection.
type ConnectionType string

const (
	ConnectionTypeGoogle ConnectionType = "google"
	ConnectionTypeNotion ConnectionType = "notion"
)

// ConnectionStatus is the lifecycle state of a connection.
type ConnectionStatus string

const (
	ConnectionStatusActive      ConnectionStatus = "active"
	ConnectionStatusNeedsReauth ConnectionStatus = "needs_reauth"
	ConnectionStatusRevoked     ConnectionStatus = "revoked"
)

// ConnectionMetadata holds provider-reported identity info for the account
// the connection was authorized against.
type ConnectionMetadata struct {
	Email          string   `json:"email,omitempty"`
	DisplayName    string   `json:"display_name,omitempty"`
	ExternalUserID string   `json:"external_user_id,omitempty"`
	GrantedScopes  []string `json:"granted_scopes,omitempty"`
}

// Connection binds an organization to an external provider account via an
// encrypted OAuth credential. Connections are never deleted, only revoked.
//
// Invariant: a revoked connection's credential is never decrypted or used.
type Connection struct {
	ConnectionID        uuid.UUID          `json:"connection_id"` // UUIDv7
	OrgID               uuid.UUID          `json:"org_id"`
	Type                ConnectionType     `json:"type"`
	Status              ConnectionStatus   `json:"status"`
	EncryptedCredential []byte             `json:"-"` // AES-GCM ciphertext, decrypted only at point of use
	Metadata            ConnectionMetadata `json:"metadata"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}
