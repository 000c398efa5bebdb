package api

import (
	"encoding/json"
	"net/http"

	"github.com/ledgerline/ledgerline/internal/connections"
	"github.com/ledgerline/ledgerline/internal/models"
)

func (s *Server) handleOAuthURL(w http.ResponseWriter, r *http.Request) {
	connType := models.ConnectionType(r.URL.Query().Get("type"))
	state := r.URL.Query().Get("state")
	if state == "" {
		badRequest(w, "state parameter is required")
		return
	}

	url, err := s.Connections.Providers().AuthCodeURL(connType, state)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": url})
}

type createConnectionRequest struct {
	Type models.ConnectionType `json:"type"`
	Code string                `json:"code"`
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Code == "" {
		badRequest(w, "code is required")
		return
	}

	grant, err := s.Connections.Providers().Exchange(r.Context(), req.Type, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	connection, err := s.Connections.Create(r.Context(), orgID, req.Type, grant.Credential, grant.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, connection)
}

type reauthConnectionRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleReauthConnection(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	connectionID, ok := pathUUID(w, r, "connectionID")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req reauthConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Code == "" {
		badRequest(w, "code is required")
		return
	}

	existing, err := s.Connections.Get(r.Context(), orgID, connectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	grant, err := s.Connections.Providers().Exchange(r.Context(), existing.Type, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	connection, err := s.Connections.Update(r.Context(), orgID, connectionID,
		&grant.Credential, metadataUpdateFrom(grant.Metadata))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, connection)
}

func (s *Server) handleRevokeConnection(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	connectionID, ok := pathUUID(w, r, "connectionID")
	if !ok {
		return
	}

	if err := s.Connections.Revoke(r.Context(), orgID, connectionID); err != nil {
		writeError(w, r, err)
		return
	}

	connection, err := s.Connections.Get(r.Context(), orgID, connectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, connection)
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	connectionID, ok := pathUUID(w, r, "connectionID")
	if !ok {
		return
	}

	connection, err := s.Connections.Get(r.Context(), orgID, connectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, connection)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())

	list, err := s.Connections.ListByOrg(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if list == nil {
		list = []*models.Connection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": list})
}

// metadataUpdateFrom maps provider-reported metadata onto a partial update,
// only touching fields the provider actually reported.
func metadataUpdateFrom(metadata models.ConnectionMetadata) *connections.MetadataUpdate {
	update := &connections.MetadataUpdate{GrantedScopes: metadata.GrantedScopes}
	if metadata.Email != "" {
		update.Email = &metadata.Email
	}
	if metadata.DisplayName != "" {
		update.DisplayName = &metadata.DisplayName
	}
	if metadata.ExternalUserID != "" {
		update.ExternalUserID = &metadata.ExternalUserID
	}
	return update
}
