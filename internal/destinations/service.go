package destinations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/plans"
	"github.com/ledgerline/ledgerline/internal/store"
)

// ErrConnectionNotUsable rejects creating a destination over a connection
// that is revoked or awaiting re-auth.
var ErrConnectionNotUsable = fmt.Errorf("connection is not usable")

// Service manages destination configuration and lifecycle. Sync runs are the
// orchestrator's job; this owns creation gating and status.
type Service struct {
	destinations store.DestinationStore
	connections  store.ConnectionStore
	admission    *plans.Controller
}

// NewService creates the destination management service.
func NewService(destinations store.DestinationStore, connections store.ConnectionStore, admission *plans.Controller) *Service {
	return &Service{
		destinations: destinations,
		connections:  connections,
		admission:    admission,
	}
}

// Create validates the configuration, checks the backing connection, and
// consults admission control before persisting. An organization at its
// destination limit receives a structured denial carrying the limit.
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, config models.DestinationConfig, connectionID uuid.UUID) (*models.Destination, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	connection, err := s.connections.Get(ctx, orgID, connectionID)
	if err != nil {
		return nil, err
	}
	if connection.Status != models.ConnectionStatusActive {
		return nil, ErrConnectionNotUsable
	}
	if connection.Type != config.Type {
		return nil, fmt.Errorf("connection type %s does not match destination type %s", connection.Type, config.Type)
	}

	decision, err := s.admission.CanAddDestination(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &plans.LimitExceededError{
			Resource:     "destinations",
			CurrentCount: decision.CurrentCount,
			Limit:        decision.Limit,
		}
	}

	destinationID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate destination ID: %w", err)
	}

	now := time.Now()
	destination := &models.Destination{
		DestinationID: destinationID,
		OrgID:         orgID,
		Type:          config.Type,
		Status:        models.DestinationStatusRunning,
		Config:        config,
		ConnectionID:  connectionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.destinations.Create(ctx, destination); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("destination_id", destinationID.String()).
		Str("org_id", orgID.String()).
		Str("type", string(config.Type)).
		Msg("Destination created")

	return destination, nil
}

// Pause stops a running destination.
func (s *Service) Pause(ctx context.Context, orgID, destinationID uuid.UUID) (*models.Destination, error) {
	return s.setStatus(ctx, orgID, destinationID, models.DestinationStatusPaused)
}

// Resume restarts a paused destination.
func (s *Service) Resume(ctx context.Context, orgID, destinationID uuid.UUID) (*models.Destination, error) {
	return s.setStatus(ctx, orgID, destinationID, models.DestinationStatusRunning)
}

// Archive terminally archives the destination. Destinations are never hard
// deleted. Idempotent.
func (s *Service) Archive(ctx context.Context, orgID, destinationID uuid.UUID) (*models.Destination, error) {
	destination, err := s.destinations.Get(ctx, orgID, destinationID)
	if err != nil {
		return nil, err
	}

	if destination.Status == models.DestinationStatusArchived {
		return destination, nil
	}

	destination.Status = models.DestinationStatusArchived
	destination.UpdatedAt = time.Now()

	if err := s.destinations.Update(ctx, destination); err != nil {
		return nil, err
	}
	return destination, nil
}

// Get returns a single destination scoped to the organization.
func (s *Service) Get(ctx context.Context, orgID, destinationID uuid.UUID) (*models.Destination, error) {
	return s.destinations.Get(ctx, orgID, destinationID)
}

// ListByOrg returns the organization's destinations.
func (s *Service) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Destination, error) {
	return s.destinations.ListByOrg(ctx, orgID)
}

func (s *Service) setStatus(ctx context.Context, orgID, destinationID uuid.UUID, status models.DestinationStatus) (*models.Destination, error) {
	destination, err := s.destinations.Get(ctx, orgID, destinationID)
	if err != nil {
		return nil, err
	}

	if destination.Status == models.DestinationStatusArchived {
		return nil, fmt.Errorf("destination is archived")
	}

	destination.Status = status
	destination.UpdatedAt = time.Now()

	if err := s.destinations.Update(ctx, destination); err != nil {
		return nil, err
	}
	return destination, nil
}
