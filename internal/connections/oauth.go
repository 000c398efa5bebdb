package connections

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ledgerline/ledgerline/internal/models"
)

// notionEndpoint is Notion's OAuth 2.0 endpoint. Notion requires client
// credentials via basic auth.
var notionEndpoint = oauth2.Endpoint{
	AuthURL:   "https://api.notion.com/v1/oauth/authorize",
	TokenURL:  "https://api.notion.com/v1/oauth/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// Credential is the decrypted form of a connection's OAuth credential. It is
// serialized to JSON before encryption and exists in plaintext only inside
// the call that uses it.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Grant is the outcome of a successful OAuth code exchange.
type Grant struct {
	Credential Credential
	Metadata   models.ConnectionMetadata
}

// OAuthProviders holds per-provider OAuth client configuration.
type OAuthProviders struct {
	GoogleClientID     string
	GoogleClientSecret string
	NotionClientID     string
	NotionClientSecret string
	RedirectURL        string
}

// Config builds the oauth2 config for the given connection type.
func (p *OAuthProviders) Config(connType models.ConnectionType) (*oauth2.Config, error) {
	switch connType {
	case models.ConnectionTypeGoogle:
		return &oauth2.Config{
			ClientID:     p.GoogleClientID,
			ClientSecret: p.GoogleClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       requiredScopes[models.ConnectionTypeGoogle],
			Endpoint:     google.Endpoint,
		}, nil
	case models.ConnectionTypeNotion:
		return &oauth2.Config{
			ClientID:     p.NotionClientID,
			ClientSecret: p.NotionClientSecret,
			RedirectURL:  p.RedirectURL,
			Endpoint:     notionEndpoint,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported connection type: %s", connType)
	}
}

// AuthCodeURL returns the provider consent URL for the given state.
func (p *OAuthProviders) AuthCodeURL(connType models.ConnectionType, state string) (string, error) {
	conf, err := p.Config(connType)
	if err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if connType == models.ConnectionTypeNotion {
		opts = append(opts, oauth2.SetAuthURLParam("owner", "user"))
	}

	return conf.AuthCodeURL(state, opts...), nil
}

// Exchange trades an authorization code for a credential and the
// provider-reported grant details.
func (p *OAuthProviders) Exchange(ctx context.Context, connType models.ConnectionType, code string) (*Grant, error) {
	conf, err := p.Config(connType)
	if err != nil {
		return nil, err
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	grant := &Grant{
		Credential: Credential{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			TokenType:    token.TokenType,
			Expiry:       token.Expiry,
		},
	}

	switch connType {
	case models.ConnectionTypeGoogle:
		if scope, ok := token.Extra("scope").(string); ok {
			grant.Metadata.GrantedScopes = strings.Fields(scope)
		}
	case models.ConnectionTypeNotion:
		if owner, ok := token.Extra("owner").(map[string]any); ok {
			if user, ok := owner["user"].(map[string]any); ok {
				if id, ok := user["id"].(string); ok {
					grant.Metadata.ExternalUserID = id
				}
				if name, ok := user["name"].(string); ok {
					grant.Metadata.DisplayName = name
				}
			}
		}
		if workspace, ok := token.Extra("workspace_name").(string); ok && grant.Metadata.DisplayName == "" {
			grant.Metadata.DisplayName = workspace
		}
	}

	return grant, nil
}

// refreshCredential obtains a fresh access token using the stored refresh
// token.
func (p *OAuthProviders) refreshCredential(ctx context.Context, connType models.ConnectionType, cred Credential) (*Credential, error) {
	conf, err := p.Config(connType)
	if err != nil {
		return nil, err
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: cred.RefreshToken,
	}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	refreshed := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}

	return refreshed, nil
}
