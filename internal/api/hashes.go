package api

import (
	"encoding/json"
	"net/http"
)

type hashRequest struct {
	ContentBase64 string `json:"content_base64,omitempty"`
	URL           string `json:"url,omitempty"`
}

// handleHash computes the canonical fingerprint for content supplied either
// as a base64 payload or as a remote URL.
func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<20)
	var req hashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	var (
		digest string
		err    error
	)
	switch {
	case req.ContentBase64 != "" && req.URL != "":
		badRequest(w, "provide exactly one of content_base64 or url")
		return
	case req.ContentBase64 != "":
		digest, err = s.Fingerprints.FromBase64(req.ContentBase64)
	case req.URL != "":
		digest, err = s.Fingerprints.FromURL(r.Context(), req.URL)
	default:
		badRequest(w, "provide exactly one of content_base64 or url")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"image_hash": digest})
}
