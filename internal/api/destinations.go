package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

type createDestinationRequest struct {
	ConnectionID uuid.UUID                `json:"connection_id"`
	Config       models.DestinationConfig `json:"config"`
}

func (s *Server) handleCreateDestination(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req createDestinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if err := req.Config.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	destination, err := s.Destinations.Create(r.Context(), orgID, req.Config, req.ConnectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, destination)
}

func (s *Server) handleGetDestination(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	destinationID, ok := pathUUID(w, r, "destinationID")
	if !ok {
		return
	}

	destination, err := s.Destinations.Get(r.Context(), orgID, destinationID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, destination)
}

func (s *Server) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())

	list, err := s.Destinations.ListByOrg(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if list == nil {
		list = []*models.Destination{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"destinations": list})
}

func (s *Server) handlePauseDestination(w http.ResponseWriter, r *http.Request) {
	s.updateDestinationStatus(w, r, s.Destinations.Pause)
}

func (s *Server) handleResumeDestination(w http.ResponseWriter, r *http.Request) {
	s.updateDestinationStatus(w, r, s.Destinations.Resume)
}

func (s *Server) handleArchiveDestination(w http.ResponseWriter, r *http.Request) {
	s.updateDestinationStatus(w, r, s.Destinations.Archive)
}

func (s *Server) updateDestinationStatus(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, orgID, destinationID uuid.UUID) (*models.Destination, error),
) {
	orgID := orgFromContext(r.Context())
	destinationID, ok := pathUUID(w, r, "destinationID")
	if !ok {
		return
	}

	destination, err := op(r.Context(), orgID, destinationID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, destination)
}

type syncDestinationRequest struct {
	Filter store.ReceiptFilter `json:"filter"`
}

func (s *Server) handleSyncDestination(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	destinationID, ok := pathUUID(w, r, "destinationID")
	if !ok {
		return
	}

	// The request body is optional: an empty body syncs everything extracted.
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req syncDestinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		badRequest(w, "invalid request body")
		return
	}

	outcome, err := s.Orchestrator.SyncDestination(r.Context(), orgID, destinationID, req.Filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if outcome.Job != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"job": outcome.Job})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rows_written": outcome.RowsWritten,
		"rows_failed":  outcome.RowsFailed,
	})
}
