package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerline/ledgerline/internal/api"
	"github.com/ledgerline/ledgerline/internal/billing"
	"github.com/ledgerline/ledgerline/internal/blob"
	"github.com/ledgerline/ledgerline/internal/connections"
	"github.com/ledgerline/ledgerline/internal/dedup"
	"github.com/ledgerline/ledgerline/internal/destinations"
	"github.com/ledgerline/ledgerline/internal/extraction"
	"github.com/ledgerline/ledgerline/internal/fingerprint"
	"github.com/ledgerline/ledgerline/internal/logger"
	"github.com/ledgerline/ledgerline/internal/plans"
	"github.com/ledgerline/ledgerline/internal/receipts"
	"github.com/ledgerline/ledgerline/internal/store"
	memorystore "github.com/ledgerline/ledgerline/internal/store/memory"
	postgresstore "github.com/ledgerline/ledgerline/internal/store/postgres"
	"github.com/ledgerline/ledgerline/internal/syncer"
	"github.com/ledgerline/ledgerline/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen      string   `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"LEDGERLINE_LISTEN"`
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"*" env:"LEDGERLINE_CORS_ORIGINS"`

	// Secrets
	EncryptionKey      string `help:"hex-encoded 32-byte key for credential encryption" env:"LEDGERLINE_ENCRYPTION_KEY" required:""`
	ConfirmTokenSecret string `help:"secret for signing upload confirm tokens" env:"LEDGERLINE_CONFIRM_TOKEN_SECRET" required:""`
	BillingSecret      string `help:"shared secret for billing event signatures" env:"LEDGERLINE_BILLING_SECRET" required:""`

	// Pipeline configuration
	SyncThreshold int    `help:"max receipts routed synchronously" default:"200" env:"LEDGERLINE_SYNC_THRESHOLD"`
	PlanTable     string `help:"path to a YAML plan table override" env:"LEDGERLINE_PLAN_TABLE"`
	JobWorkers    int    `help:"background job worker count" default:"4" env:"LEDGERLINE_JOB_WORKERS"`

	JobTimeout time.Duration `help:"per-job execution timeout" default:"10m" env:"LEDGERLINE_JOB_TIMEOUT"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"LEDGERLINE_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"LEDGERLINE_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`

	Blob   BlobFlags   `embed:"" prefix:"blob-"`
	Gemini GeminiFlags `embed:"" prefix:"gemini-"`
	OAuth  OAuthFlags  `embed:"" prefix:"oauth-"`
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`
}

type BlobFlags struct {
	SupabaseURL string `help:"Supabase project URL, blank for in-memory storage" env:"LEDGERLINE_SUPABASE_URL"`
	SupabaseKey string `help:"Supabase service role key" env:"LEDGERLINE_SUPABASE_SERVICE_KEY"`
	Bucket      string `help:"storage bucket for receipt images and artifacts" default:"receipts" env:"LEDGERLINE_BUCKET"`
}

type GeminiFlags struct {
	APIKey string `help:"Gemini API key, blank disables extraction" env:"LEDGERLINE_GEMINI_API_KEY"`
	Model  string `help:"Gemini model name" default:"gemini-2.0-flash" env:"LEDGERLINE_GEMINI_MODEL"`
}

type OAuthFlags struct {
	GoogleClientID     string `help:"Google OAuth client ID" env:"LEDGERLINE_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `help:"Google OAuth client secret" env:"LEDGERLINE_GOOGLE_CLIENT_SECRET"`
	NotionClientID     string `help:"Notion OAuth client ID" env:"LEDGERLINE_NOTION_CLIENT_ID"`
	NotionClientSecret string `help:"Notion OAuth client secret" env:"LEDGERLINE_NOTION_CLIENT_SECRET"`
	RedirectURL        string `help:"OAuth redirect URL" env:"LEDGERLINE_OAUTH_REDIRECT_URL"`
}

func (f *PostgresStoreFlags) validate() error {
	if f.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "ledgerline-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	encryptionKey, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key must be hex encoded: %w", err)
	}
	cipher, err := connections.NewCipher(encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create credential cipher: %w", err)
	}

	// Create stores based on store type
	var (
		orgStore         store.OrganizationStore
		receiptStore     store.ReceiptStore
		connectionStore  store.ConnectionStore
		destinationStore store.DestinationStore
		jobStore         store.ExportJobStore
	)

	switch c.StoreType {
	case "postgres":
		if err := c.PostgresStore.validate(); err != nil {
			return err
		}
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		orgStore = postgresstore.NewOrganizationStore(pool)
		receiptStore = postgresstore.NewReceiptStore(pool)
		connectionStore = postgresstore.NewConnectionStore(pool)
		destinationStore = postgresstore.NewDestinationStore(pool)
		jobStore = postgresstore.NewExportJobStore(pool)
		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		orgStore = memorystore.NewOrganizationStore()
		receiptStore = memorystore.NewReceiptStore()
		connectionStore = memorystore.NewConnectionStore()
		destinationStore = memorystore.NewDestinationStore()
		jobStore = memorystore.NewExportJobStore()
		log.Info().Msg("Using in-memory stores")
	}

	// Blob storage
	var blobs blob.Store
	if c.Blob.SupabaseURL != "" {
		blobs = blob.NewSupabaseStore(c.Blob.SupabaseURL, c.Blob.SupabaseKey, c.Blob.Bucket)
		log.Info().Str("bucket", c.Blob.Bucket).Msg("Using Supabase object storage")
	} else {
		blobs = blob.NewMemoryStore()
		log.Warn().Msg("No Supabase URL configured, using in-memory object storage")
	}

	// Extraction backend
	var extractor extraction.Extractor
	if c.Gemini.APIKey != "" {
		gemini, err := extraction.NewGemini(ctx, c.Gemini.APIKey, c.Gemini.Model)
		if err != nil {
			return fmt.Errorf("failed to create extraction backend: %w", err)
		}
		defer gemini.Close() //nolint:errcheck
		extractor = gemini
		log.Info().Str("model", c.Gemini.Model).Msg("Extraction backend initialized")
	} else {
		extractor = extraction.Disabled{}
		log.Warn().Msg("No Gemini API key configured, extraction is disabled")
	}

	// Plan table
	table := plans.DefaultTable()
	if c.PlanTable != "" {
		table, err = plans.LoadTable(c.PlanTable)
		if err != nil {
			return err
		}
		log.Info().Str("path", c.PlanTable).Msg("Loaded plan table overrides")
	}

	admission := plans.NewController(orgStore, receiptStore, destinationStore, table)
	manager := connections.NewManager(connectionStore, cipher, &connections.OAuthProviders{
		GoogleClientID:     c.OAuth.GoogleClientID,
		GoogleClientSecret: c.OAuth.GoogleClientSecret,
		NotionClientID:     c.OAuth.NotionClientID,
		NotionClientSecret: c.OAuth.NotionClientSecret,
		RedirectURL:        c.OAuth.RedirectURL,
	})

	orchestrator := syncer.NewOrchestrator(receiptStore, destinationStore, jobStore, manager, blobs, c.SyncThreshold)
	runner := syncer.NewJobRunner(jobStore, orchestrator, c.JobWorkers, c.JobTimeout)
	runner.Start(ctx)
	defer runner.Stop()

	server := &api.Server{
		Receipts:     receipts.NewService(receiptStore, dedup.NewCache(receiptStore), admission, blobs, extractor),
		Tokens:       receipts.NewTokenIssuer([]byte(c.ConfirmTokenSecret)),
		Fingerprints: fingerprint.NewService(nil),
		Connections:  manager,
		Destinations: destinations.NewService(destinationStore, connectionStore, admission),
		Orchestrator: orchestrator,
		Billing:      billing.NewWebhook(orgStore, []byte(c.BillingSecret)),
		Blobs:        blobs,
	}

	handler := api.NewRouter(server, log, c.CORSOrigins)
	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
