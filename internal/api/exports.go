package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/syncer"
)

// artifactDownloadTTL bounds how long an issued artifact link stays valid.
const artifactDownloadTTL = 15 * time.Minute

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req syncer.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	outcome, err := s.Orchestrator.Export(r.Context(), orgID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if outcome.Job != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"job": outcome.Job})
		return
	}

	artifact := outcome.Artifact
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Data) //nolint:errcheck
}

func (s *Server) handleGetExportJob(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	jobID, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := s.Orchestrator.GetJob(r.Context(), orgID, jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleExportArtifact(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	jobID, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := s.Orchestrator.GetJob(r.Context(), orgID, jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if job.Status != models.ExportJobStatusCompleted || job.ArtifactKey == "" {
		httpError(w, http.StatusConflict, errorBody{
			Code:    "artifact_not_ready",
			Message: fmt.Sprintf("job is %s and has no artifact", job.Status),
		})
		return
	}

	signed, err := s.Blobs.SignDownload(r.Context(), job.ArtifactKey, artifactDownloadTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"download_url": signed.URL,
		"expires_at":   signed.ExpiresAt,
	})
}
