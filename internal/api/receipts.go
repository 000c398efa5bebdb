package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/store"
)

// uploadGrantResponse is the payload for an admitted upload: the pending
// receipt, the pre-authorized upload URL, and the token the client presents
// back on confirm.
type uploadGrantResponse struct {
	Receipt      *models.Receipt `json:"receipt"`
	UploadURL    string          `json:"upload_url"`
	ExpiresAt    time.Time       `json:"expires_at"`
	ConfirmToken string          `json:"confirm_token"`
}

func (s *Server) handleRequestUpload(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())

	grant, err := s.Receipts.RequestUpload(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := s.Tokens.Issue(orgID, grant.Receipt.ReceiptID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadGrantResponse{
		Receipt:      grant.Receipt,
		UploadURL:    grant.UploadURL.URL,
		ExpiresAt:    grant.UploadURL.ExpiresAt,
		ConfirmToken: token,
	})
}

type confirmUploadRequest struct {
	ConfirmToken string `json:"confirm_token"`
}

func (s *Server) handleConfirmUpload(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	receiptID, ok := pathUUID(w, r, "receiptID")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req confirmUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if err := s.Tokens.Verify(req.ConfirmToken, orgID, receiptID); err != nil {
		httpError(w, http.StatusUnauthorized, errorBody{
			Code:    "invalid_confirm_token",
			Message: "confirm token verification failed",
		})
		return
	}

	receipt, err := s.Receipts.ConfirmUpload(r.Context(), orgID, receiptID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleProcessReceipt(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	receiptID, ok := pathUUID(w, r, "receiptID")
	if !ok {
		return
	}

	receipt, err := s.Receipts.Process(r.Context(), orgID, receiptID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleArchiveReceipt(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	receiptID, ok := pathUUID(w, r, "receiptID")
	if !ok {
		return
	}

	receipt, err := s.Receipts.Archive(r.Context(), orgID, receiptID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())
	receiptID, ok := pathUUID(w, r, "receiptID")
	if !ok {
		return
	}

	receipt, err := s.Receipts.Get(r.Context(), orgID, receiptID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	orgID := orgFromContext(r.Context())

	filter, err := receiptFilterFromQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	matched, err := s.Receipts.List(r.Context(), orgID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if matched == nil {
		matched = []*models.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": matched})
}

// receiptFilterFromQuery parses list filters from query parameters. Statuses
// and categories are comma-separated, date bounds are RFC 3339.
func receiptFilterFromQuery(r *http.Request) (store.ReceiptFilter, error) {
	var filter store.ReceiptFilter

	if statuses := r.URL.Query().Get("status"); statuses != "" {
		for _, status := range strings.Split(statuses, ",") {
			filter.Statuses = append(filter.Statuses, models.ReceiptStatus(strings.TrimSpace(status)))
		}
	}
	if categories := r.URL.Query().Get("category"); categories != "" {
		for _, category := range strings.Split(categories, ",") {
			filter.Categories = append(filter.Categories, strings.TrimSpace(category))
		}
	}

	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		value := r.URL.Query().Get(name)
		if value == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return store.ReceiptFilter{}, &queryError{param: name}
		}
		*dst = &parsed
	}

	return filter, nil
}

type queryError struct {
	param string
}

func (e *queryError) Error() string {
	return "invalid " + e.param + " parameter, expected RFC 3339 timestamp"
}
