package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ledgerline/ledgerline/internal/billing"
	"github.com/ledgerline/ledgerline/internal/connections"
	"github.com/ledgerline/ledgerline/internal/destinations"
	"github.com/ledgerline/ledgerline/internal/fingerprint"
	"github.com/ledgerline/ledgerline/internal/plans"
	"github.com/ledgerline/ledgerline/internal/receipts"
	"github.com/ledgerline/ledgerline/internal/store"
	"github.com/ledgerline/ledgerline/internal/syncer"
)

// errorBody is the wire shape of every error response. Retryable tells the
// client whether trying again later can succeed; when false the condition
// needs caller action first (a plan upgrade, a re-auth, a different request).
type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func httpError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func badRequest(w http.ResponseWriter, message string) {
	httpError(w, http.StatusBadRequest, errorBody{Code: "invalid_request", Message: message})
}

// writeError translates service-layer failures into HTTP responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		limitErr      *plans.LimitExceededError
		duplicateErr  *receipts.DuplicateUploadError
		transitionErr *receipts.InvalidTransitionError
		scopesErr     *connections.MissingScopesError
		reauthErr     *connections.ReauthRequiredError
		decodeErr     *fingerprint.DecodeError
		fetchErr      *fingerprint.FetchError
		columnErr     *syncer.UnknownColumnError
	)

	switch {
	case errors.As(err, &limitErr):
		httpError(w, http.StatusForbidden, errorBody{
			Code:    "limit_exceeded",
			Message: limitErr.Error(),
			Details: map[string]any{
				"resource":      limitErr.Resource,
				"current_count": limitErr.CurrentCount,
				"limit":         limitErr.Limit,
			},
		})
	case errors.As(err, &duplicateErr):
		httpError(w, http.StatusConflict, errorBody{
			Code:    "duplicate_receipt",
			Message: duplicateErr.Error(),
			Details: map[string]any{"existing_receipt_id": duplicateErr.ExistingReceiptID},
		})
	case errors.As(err, &transitionErr):
		httpError(w, http.StatusConflict, errorBody{
			Code:    "invalid_transition",
			Message: transitionErr.Error(),
			Details: map[string]any{"from": transitionErr.From, "to": transitionErr.To},
		})
	case errors.Is(err, receipts.ErrUploadNotFound):
		httpError(w, http.StatusConflict, errorBody{
			Code:    "upload_incomplete",
			Message: "image has not been uploaded yet",
		})
	case errors.As(err, &scopesErr):
		httpError(w, http.StatusUnprocessableEntity, errorBody{
			Code:    "missing_scopes",
			Message: scopesErr.Error(),
			Details: map[string]any{"missing": scopesErr.Missing},
		})
	case errors.As(err, &reauthErr):
		httpError(w, http.StatusConflict, errorBody{
			Code:    "reauth_required",
			Message: reauthErr.Error(),
			Details: map[string]any{"connection_id": reauthErr.ConnectionID},
		})
	case errors.Is(err, connections.ErrConnectionRevoked):
		httpError(w, http.StatusConflict, errorBody{
			Code:    "connection_revoked",
			Message: "connection has been revoked",
		})
	case errors.Is(err, destinations.ErrConnectionNotUsable):
		httpError(w, http.StatusUnprocessableEntity, errorBody{
			Code:    "connection_not_usable",
			Message: err.Error(),
		})
	case errors.Is(err, syncer.ErrDestinationNotRunning):
		httpError(w, http.StatusConflict, errorBody{
			Code:    "destination_not_running",
			Message: "destination is not in the running state",
		})
	case errors.As(err, &columnErr):
		httpError(w, http.StatusBadRequest, errorBody{
			Code:    "unknown_column",
			Message: columnErr.Error(),
			Details: map[string]any{"column": columnErr.Column},
		})
	case errors.As(err, &decodeErr):
		httpError(w, http.StatusBadRequest, errorBody{
			Code:    "invalid_content",
			Message: decodeErr.Error(),
		})
	case errors.As(err, &fetchErr):
		httpError(w, http.StatusBadGateway, errorBody{
			Code:      "fetch_failed",
			Message:   fetchErr.Error(),
			Retryable: true,
		})
	case errors.Is(err, billing.ErrInvalidSignature):
		httpError(w, http.StatusUnauthorized, errorBody{
			Code:    "invalid_signature",
			Message: "event signature verification failed",
		})
	case errors.Is(err, store.ErrReceiptNotFound),
		errors.Is(err, store.ErrConnectionNotFound),
		errors.Is(err, store.ErrDestinationNotFound),
		errors.Is(err, store.ErrExportJobNotFound),
		errors.Is(err, store.ErrOrganizationNotFound):
		httpError(w, http.StatusNotFound, errorBody{
			Code:    "not_found",
			Message: err.Error(),
		})
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("Unhandled API error")
		httpError(w, http.StatusInternalServerError, errorBody{
			Code:      "internal",
			Message:   "internal error",
			Retryable: true,
		})
	}
}
