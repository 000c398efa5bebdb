package api

import (
	"io"
	"net/http"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body.
const signatureHeader = "X-Ledgerline-Signature"

func (s *Server) handleBillingEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}

	if err := s.Billing.HandlePlanChange(r.Context(), payload, r.Header.Get(signatureHeader)); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
