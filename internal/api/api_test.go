package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/billing"
	"github.com/ledgerline/ledgerline/internal/blob"
	"github.com/ledgerline/ledgerline/internal/connections"
	"github.com/ledgerline/ledgerline/internal/dedup"
	"github.com/ledgerline/ledgerline/internal/destinations"
	"github.com/ledgerline/ledgerline/internal/fingerprint"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/plans"
	"github.com/ledgerline/ledgerline/internal/receipts"
	"github.com/ledgerline/ledgerline/internal/store/memory"
	"github.com/ledgerline/ledgerline/internal/syncer"
)

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, _ []byte, _ string) (*models.ExtractionResult, float64, error) {
	amount := 12.50
	return &models.ExtractionResult{Vendor: "Blue Bottle", Amount: &amount, Currency: "USD"}, 0.95, nil
}

func (stubExtractor) Close() error { return nil }

type recordingWriter struct {
	mu      sync.Mutex
	written []uuid.UUID
}

func (w *recordingWriter) WriteReceipt(_ context.Context, receipt *models.Receipt, _ []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, receipt.ReceiptID)
	return nil
}

type recordingFactory struct {
	writer *recordingWriter
}

func (f *recordingFactory) NewWriter(_ context.Context, _ string, _ *models.Destination) (syncer.Writer, error) {
	return f.writer, nil
}

type fixture struct {
	t        *testing.T
	handler  http.Handler
	orgID    uuid.UUID
	orgs     *memory.OrganizationStore
	receipts *memory.ReceiptStore
	blobs    *blob.MemoryStore
	manager  *connections.Manager
	writer   *recordingWriter
	secret   []byte
}

func newFixture(t *testing.T, table plans.Table, syncThreshold int) *fixture {
	t.Helper()
	ctx := context.Background()

	orgStore := memory.NewOrganizationStore()
	receiptStore := memory.NewReceiptStore()
	connectionStore := memory.NewConnectionStore()
	destinationStore := memory.NewDestinationStore()
	jobStore := memory.NewExportJobStore()
	blobs := blob.NewMemoryStore()

	orgID, err := uuid.NewV7()
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, orgStore.Create(ctx, &models.Organization{
		OrgID:         orgID,
		Name:          "Acme Expense Co",
		PlanTier:      "free",
		BillingAnchor: now.AddDate(0, -2, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	cipher, err := connections.NewCipher(bytes.Repeat([]byte{0x2a}, 32))
	require.NoError(t, err)
	manager := connections.NewManager(connectionStore, cipher, &connections.OAuthProviders{})

	admission := plans.NewController(orgStore, receiptStore, destinationStore, table)
	receiptService := receipts.NewService(receiptStore, dedup.NewCache(receiptStore), admission, blobs, stubExtractor{})

	writer := &recordingWriter{}
	orchestrator := syncer.NewOrchestrator(receiptStore, destinationStore, jobStore, manager, blobs, syncThreshold)
	orchestrator.RegisterWriterFactory(models.ConnectionTypeNotion, &recordingFactory{writer: writer})

	secret := []byte("billing-event-secret")
	server := &Server{
		Receipts:     receiptService,
		Tokens:       receipts.NewTokenIssuer([]byte("confirm-token-secret")),
		Fingerprints: fingerprint.NewService(nil),
		Connections:  manager,
		Destinations: destinations.NewService(destinationStore, connectionStore, admission),
		Orchestrator: orchestrator,
		Billing:      billing.NewWebhook(orgStore, secret),
		Blobs:        blobs,
	}

	return &fixture{
		t:        t,
		handler:  NewRouter(server, zerolog.Nop(), []string{"*"}),
		orgID:    orgID,
		orgs:     orgStore,
		receipts: receiptStore,
		blobs:    blobs,
		manager:  manager,
		writer:   writer,
		secret:   secret,
	}
}

func (f *fixture) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Org-ID", f.orgID.String())
	for k, v := range header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// ingest pushes an image all the way to extracted through the HTTP surface.
func (f *fixture) ingest(image []byte) uuid.UUID {
	f.t.Helper()
	ctx := context.Background()

	rec := f.do(http.MethodPost, "/v1/receipts/uploads", nil, nil)
	require.Equal(f.t, http.StatusCreated, rec.Code)
	grant := decode[uploadGrantResponse](f.t, rec)

	stored, err := f.receipts.Get(ctx, f.orgID, grant.Receipt.ReceiptID)
	require.NoError(f.t, err)
	require.NoError(f.t, f.blobs.Upload(ctx, stored.OriginalImageKey, "image/jpeg", image))

	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/receipts/%s/confirm", grant.Receipt.ReceiptID),
		confirmUploadRequest{ConfirmToken: grant.ConfirmToken}, nil)
	require.Equal(f.t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/receipts/%s/process", grant.Receipt.ReceiptID), nil, nil)
	require.Equal(f.t, http.StatusOK, rec.Code)

	return grant.Receipt.ReceiptID
}

func TestReceiptEndpoints(t *testing.T) {
	t.Run("upload confirm process round trip", func(t *testing.T) {
		f := newFixture(t, nil, 0)

		rec := f.do(http.MethodPost, "/v1/receipts/uploads", nil, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		grant := decode[uploadGrantResponse](t, rec)
		require.NotEmpty(t, grant.UploadURL)
		require.NotEmpty(t, grant.ConfirmToken)
		require.Equal(t, models.ReceiptStatusPending, grant.Receipt.Status)

		ctx := context.Background()
		stored, err := f.receipts.Get(ctx, f.orgID, grant.Receipt.ReceiptID)
		require.NoError(t, err)
		require.NoError(t, f.blobs.Upload(ctx, stored.OriginalImageKey, "image/jpeg", []byte("image-bytes")))

		rec = f.do(http.MethodPost, fmt.Sprintf("/v1/receipts/%s/confirm", grant.Receipt.ReceiptID),
			confirmUploadRequest{ConfirmToken: grant.ConfirmToken}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		confirmed := decode[models.Receipt](t, rec)
		require.Equal(t, models.ReceiptStatusProcessing, confirmed.Status)
		require.Len(t, confirmed.ImageHash, 64)

		rec = f.do(http.MethodPost, fmt.Sprintf("/v1/receipts/%s/process", grant.Receipt.ReceiptID), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		extracted := decode[models.Receipt](t, rec)
		require.Equal(t, models.ReceiptStatusExtracted, extracted.Status)
		require.Equal(t, "Blue Bottle", extracted.Extraction.Vendor)
	})

	t.Run("confirm with wrong token is rejected", func(t *testing.T) {
		f := newFixture(t, nil, 0)

		rec := f.do(http.MethodPost, "/v1/receipts/uploads", nil, nil)
		grant := decode[uploadGrantResponse](t, rec)

		rec = f.do(http.MethodPost, fmt.Sprintf("/v1/receipts/%s/confirm", grant.Receipt.ReceiptID),
			confirmUploadRequest{ConfirmToken: "not-a-token"}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing org header is rejected", func(t *testing.T) {
		f := newFixture(t, nil, 0)

		req := httptest.NewRequest(http.MethodPost, "/v1/receipts/uploads", nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "missing_org")
	})

	t.Run("receipt limit maps to structured denial", func(t *testing.T) {
		f := newFixture(t, plans.Table{"free": {MaxReceiptsPerPeriod: 1, MaxDestinations: 1}}, 0)
		f.ingest([]byte("first"))

		rec := f.do(http.MethodPost, "/v1/receipts/uploads", nil, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)

		body := decode[map[string]errorBody](t, rec)
		require.Equal(t, "limit_exceeded", body["error"].Code)
		require.False(t, body["error"].Retryable)
		require.EqualValues(t, 1, body["error"].Details["limit"])
	})

	t.Run("duplicate upload returns the existing receipt id", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		existing := f.ingest([]byte("same-image"))

		rec := f.do(http.MethodPost, "/v1/receipts/uploads", nil, nil)
		grant := decode[uploadGrantResponse](t, rec)

		ctx := context.Background()
		stored, err := f.receipts.Get(ctx, f.orgID, grant.Receipt.ReceiptID)
		require.NoError(t, err)
		require.NoError(t, f.blobs.Upload(ctx, stored.OriginalImageKey, "image/jpeg", []byte("same-image")))

		rec = f.do(http.MethodPost, fmt.Sprintf("/v1/receipts/%s/confirm", grant.Receipt.ReceiptID),
			confirmUploadRequest{ConfirmToken: grant.ConfirmToken}, nil)
		require.Equal(t, http.StatusConflict, rec.Code)

		body := decode[map[string]errorBody](t, rec)
		require.Equal(t, "duplicate_receipt", body["error"].Code)
		require.Equal(t, existing.String(), body["error"].Details["existing_receipt_id"])
	})

	t.Run("list filters by status", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		receiptID := f.ingest([]byte("list-me"))

		rec := f.do(http.MethodGet, "/v1/receipts/?status=extracted", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string][]models.Receipt](t, rec)
		require.Len(t, body["receipts"], 1)
		require.Equal(t, receiptID, body["receipts"][0].ReceiptID)

		rec = f.do(http.MethodGet, "/v1/receipts/?status=pending", nil, nil)
		body = decode[map[string][]models.Receipt](t, rec)
		require.Empty(t, body["receipts"])
	})

	t.Run("unknown receipt is a 404", func(t *testing.T) {
		f := newFixture(t, nil, 0)

		rec := f.do(http.MethodGet, "/v1/receipts/"+uuid.NewString(), nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHashEndpoint(t *testing.T) {
	t.Run("base64 content", func(t *testing.T) {
		f := newFixture(t, nil, 0)

		content := []byte("receipt image bytes")
		rec := f.do(http.MethodPost, "/v1/hashes",
			hashRequest{ContentBase64: base64.StdEncoding.EncodeToString(content)}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		sum := sha256.Sum256(content)
		body := decode[map[string]string](t, rec)
		require.Equal(t, hex.EncodeToString(sum[:]), body["image_hash"])
	})

	t.Run("malformed base64", func(t *testing.T) {
		f := newFixture(t, nil, 0)

		rec := f.do(http.MethodPost, "/v1/hashes", hashRequest{ContentBase64: "!!not-base64!!"}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid_content")
	})

	t.Run("both inputs rejected", func(t *testing.T) {
		f := newFixture(t, nil, 0)

		rec := f.do(http.MethodPost, "/v1/hashes",
			hashRequest{ContentBase64: "aGk=", URL: "https://example.com/receipt.jpg"}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDestinationEndpoints(t *testing.T) {
	seedConnection := func(t *testing.T, f *fixture) uuid.UUID {
		t.Helper()
		connection, err := f.manager.Create(context.Background(), f.orgID, models.ConnectionTypeNotion,
			connections.Credential{AccessToken: "live-token"}, models.ConnectionMetadata{})
		require.NoError(t, err)
		return connection.ConnectionID
	}

	notionConfig := models.DestinationConfig{
		Type:   models.ConnectionTypeNotion,
		Notion: &models.NotionConfig{DatabaseID: "db-1", Columns: []string{"vendor", "amount"}},
	}

	t.Run("create and sync inline", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		connectionID := seedConnection(t, f)
		f.ingest([]byte("sync-me"))

		rec := f.do(http.MethodPost, "/v1/destinations/",
			createDestinationRequest{ConnectionID: connectionID, Config: notionConfig}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		destination := decode[models.Destination](t, rec)
		require.Equal(t, models.DestinationStatusRunning, destination.Status)

		rec = f.do(http.MethodPost, fmt.Sprintf("/v1/destinations/%s/sync", destination.DestinationID), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string]int](t, rec)
		require.Equal(t, 1, body["rows_written"])
		require.Equal(t, 0, body["rows_failed"])
		require.Len(t, f.writer.written, 1)
	})

	t.Run("sync above threshold queues a job", func(t *testing.T) {
		f := newFixture(t, nil, 2)
		connectionID := seedConnection(t, f)
		for i := 0; i < 3; i++ {
			f.ingest([]byte(fmt.Sprintf("receipt-%d", i)))
		}

		rec := f.do(http.MethodPost, "/v1/destinations/",
			createDestinationRequest{ConnectionID: connectionID, Config: notionConfig}, nil)
		destination := decode[models.Destination](t, rec)

		rec = f.do(http.MethodPost, fmt.Sprintf("/v1/destinations/%s/sync", destination.DestinationID), nil, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		body := decode[map[string]models.ExportJob](t, rec)
		require.Equal(t, models.ExportJobStatusQueued, body["job"].Status)
		require.Equal(t, 3, body["job"].ReceiptCount)
		require.Empty(t, f.writer.written)
	})

	t.Run("paused destination rejects sync", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		connectionID := seedConnection(t, f)

		rec := f.do(http.MethodPost, "/v1/destinations/",
			createDestinationRequest{ConnectionID: connectionID, Config: notionConfig}, nil)
		destination := decode[models.Destination](t, rec)

		rec = f.do(http.MethodPost, fmt.Sprintf("/v1/destinations/%s/pause", destination.DestinationID), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(http.MethodPost, fmt.Sprintf("/v1/destinations/%s/sync", destination.DestinationID), nil, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "destination_not_running")
	})

	t.Run("destination limit maps to structured denial", func(t *testing.T) {
		f := newFixture(t, plans.Table{"free": {MaxReceiptsPerPeriod: 50, MaxDestinations: 1}}, 0)
		connectionID := seedConnection(t, f)

		rec := f.do(http.MethodPost, "/v1/destinations/",
			createDestinationRequest{ConnectionID: connectionID, Config: notionConfig}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(http.MethodPost, "/v1/destinations/",
			createDestinationRequest{ConnectionID: connectionID, Config: notionConfig}, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Contains(t, rec.Body.String(), "limit_exceeded")
	})

	t.Run("invalid config rejected before admission", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		connectionID := seedConnection(t, f)

		rec := f.do(http.MethodPost, "/v1/destinations/", createDestinationRequest{
			ConnectionID: connectionID,
			Config:       models.DestinationConfig{Type: "dropbox"},
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExportEndpoints(t *testing.T) {
	t.Run("inline export streams the artifact", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		f.ingest([]byte("export-me"))

		rec := f.do(http.MethodPost, "/v1/exports/",
			syncer.ExportRequest{Columns: []string{"vendor", "amount"}}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
		require.Contains(t, rec.Body.String(), "Blue Bottle")
	})

	t.Run("large export queues a job and signs the artifact later", func(t *testing.T) {
		f := newFixture(t, nil, 1)
		for i := 0; i < 2; i++ {
			f.ingest([]byte(fmt.Sprintf("bulk-%d", i)))
		}

		rec := f.do(http.MethodPost, "/v1/exports/", syncer.ExportRequest{}, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		body := decode[map[string]models.ExportJob](t, rec)
		jobID := body["job"].JobID

		rec = f.do(http.MethodGet, "/v1/exports/"+jobID.String(), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		// Not completed yet, no runner is attached in this fixture.
		rec = f.do(http.MethodGet, fmt.Sprintf("/v1/exports/%s/artifact", jobID), nil, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "artifact_not_ready")
	})

	t.Run("unknown column is a bad request", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		f.ingest([]byte("export-me"))

		rec := f.do(http.MethodPost, "/v1/exports/",
			syncer.ExportRequest{Columns: []string{"vendor", "stardust"}}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "unknown_column")
	})
}

func TestBillingEndpoint(t *testing.T) {
	sign := func(secret, payload []byte) string {
		mac := hmac.New(sha256.New, secret)
		mac.Write(payload)
		return hex.EncodeToString(mac.Sum(nil))
	}

	t.Run("signed plan change is applied", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		payload, err := json.Marshal(billing.PlanChangeEvent{OrgID: f.orgID, PlanTier: "business"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/v1/billing/events", bytes.NewReader(payload))
		req.Header.Set(signatureHeader, sign(f.secret, payload))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		org, err := f.orgs.Get(context.Background(), f.orgID)
		require.NoError(t, err)
		require.Equal(t, "business", org.PlanTier)
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		payload, err := json.Marshal(billing.PlanChangeEvent{OrgID: f.orgID, PlanTier: "business"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/v1/billing/events", bytes.NewReader(payload))
		req.Header.Set(signatureHeader, sign([]byte("wrong-secret"), payload))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		org, err := f.orgs.Get(context.Background(), f.orgID)
		require.NoError(t, err)
		require.Equal(t, "free", org.PlanTier)
	})
}
