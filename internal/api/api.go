// Package api exposes the receipt pipeline over a JSON HTTP interface. Every
// tenant-scoped route requires an X-Org-ID header; the billing event route is
// authenticated by its HMAC signature instead.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/ledgerline/ledgerline/internal/billing"
	"github.com/ledgerline/ledgerline/internal/blob"
	"github.com/ledgerline/ledgerline/internal/connections"
	"github.com/ledgerline/ledgerline/internal/destinations"
	"github.com/ledgerline/ledgerline/internal/fingerprint"
	httpmiddleware "github.com/ledgerline/ledgerline/internal/http"
	"github.com/ledgerline/ledgerline/internal/logger"
	"github.com/ledgerline/ledgerline/internal/receipts"
	"github.com/ledgerline/ledgerline/internal/syncer"
)

const maxRequestBodySize = 1 << 20 // 1MB

type contextKey string

const orgContextKey contextKey = "org_id"

// Server bundles the services the HTTP handlers dispatch to.
type Server struct {
	Receipts     *receipts.Service
	Tokens       *receipts.TokenIssuer
	Fingerprints *fingerprint.Service
	Connections  *connections.Manager
	Destinations *destinations.Service
	Orchestrator *syncer.Orchestrator
	Billing      *billing.Webhook
	Blobs        blob.Store
}

// NewRouter builds the HTTP handler with logging, CORS, and tenant scoping.
func NewRouter(s *Server, log zerolog.Logger, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(httpmiddleware.ClientIPMiddleware())
	r.Use(cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Org-ID"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Authenticated by signature, not by tenant header.
	r.Post("/v1/billing/events", s.handleBillingEvent)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireOrg)

		r.Post("/hashes", s.handleHash)

		r.Route("/receipts", func(r chi.Router) {
			r.Post("/uploads", s.handleRequestUpload)
			r.Get("/", s.handleListReceipts)
			r.Get("/{receiptID}", s.handleGetReceipt)
			r.Post("/{receiptID}/confirm", s.handleConfirmUpload)
			r.Post("/{receiptID}/process", s.handleProcessReceipt)
			r.Post("/{receiptID}/archive", s.handleArchiveReceipt)
		})

		r.Route("/connections", func(r chi.Router) {
			r.Get("/oauth-url", s.handleOAuthURL)
			r.Post("/", s.handleCreateConnection)
			r.Get("/", s.handleListConnections)
			r.Get("/{connectionID}", s.handleGetConnection)
			r.Post("/{connectionID}/reauth", s.handleReauthConnection)
			r.Post("/{connectionID}/revoke", s.handleRevokeConnection)
		})

		r.Route("/destinations", func(r chi.Router) {
			r.Post("/", s.handleCreateDestination)
			r.Get("/", s.handleListDestinations)
			r.Get("/{destinationID}", s.handleGetDestination)
			r.Post("/{destinationID}/pause", s.handlePauseDestination)
			r.Post("/{destinationID}/resume", s.handleResumeDestination)
			r.Post("/{destinationID}/archive", s.handleArchiveDestination)
			r.Post("/{destinationID}/sync", s.handleSyncDestination)
		})

		r.Route("/exports", func(r chi.Router) {
			r.Post("/", s.handleExport)
			r.Get("/{jobID}", s.handleGetExportJob)
			r.Get("/{jobID}/artifact", s.handleExportArtifact)
		})
	})

	return r
}

// requireOrg resolves the tenant from the X-Org-ID header. Requests without a
// valid organization ID never reach a handler.
func requireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := uuid.Parse(r.Header.Get("X-Org-ID"))
		if err != nil {
			httpError(w, http.StatusUnauthorized, errorBody{
				Code:    "missing_org",
				Message: "a valid X-Org-ID header is required",
			})
			return
		}
		ctx := context.WithValue(r.Context(), orgContextKey, orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func orgFromContext(ctx context.Context) uuid.UUID {
	orgID, _ := ctx.Value(orgContextKey).(uuid.UUID)
	return orgID
}

// pathUUID parses a UUID URL parameter, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
