package profiles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

// Store is the persistence the profile service needs.
type Store interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	UpsertProfile(ctx context.Context, p models.Profile) (models.Profile, error)
	UpdateProviderStatus(ctx context.Context, id string, lat, lng float64, available bool, at time.Time) (models.Profile, error)
	ListProfilesByRole(ctx context.Context, role models.Role) ([]models.Profile, error)
}

// Service manages the per-user profile records.
type Service struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewService wires a new profile service instance.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, now: time.Now, logger: logger}
}

// GetProfile returns the profile for id.
func (s *Service) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	return s.store.GetProfile(ctx, id)
}

// UpsertProfile writes the actor's own profile. The role always comes from
// the actor's token.
func (s *Service) UpsertProfile(ctx context.Context, actor models.Actor, req models.UpsertProfileRequest) (models.Profile, error) {
	if !actor.Role.Valid() {
		return models.Profile{}, fmt.Errorf("%w: unknown role %q", models.ErrForbidden, actor.Role)
	}
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		return models.Profile{}, fmt.Errorf("%w: full_name is required", models.ErrValidation)
	}
	if req.ServiceRadiusKm < 0 {
		return models.Profile{}, fmt.Errorf("%w: service_radius_km must not be negative", models.ErrValidation)
	}

	p := models.Profile{
		ID:          actor.UserID,
		Role:        actor.Role,
		FullName:    name,
		CompanyName: strings.TrimSpace(req.CompanyName),
		Phone:       models.NormalizePhone(req.Phone),
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		UpdatedAt:   s.now().UTC(),
	}
	if actor.Role == models.RoleDeliveryProvider {
		p.VehicleType = strings.ToLower(strings.TrimSpace(req.VehicleType))
		p.ServiceRadiusKm = req.ServiceRadiusKm
	}

	saved, err := s.store.UpsertProfile(ctx, p)
	if err != nil {
		return models.Profile{}, err
	}
	s.logger.Info("profile saved", zap.String("user_id", saved.ID), zap.String("role", string(saved.Role)))
	return saved, nil
}

// UpdateProviderStatus records a delivery provider's position and availability.
func (s *Service) UpdateProviderStatus(ctx context.Context, actor models.Actor, req models.ProviderStatusRequest) (models.Profile, error) {
	if actor.Role != models.RoleDeliveryProvider {
		return models.Profile{}, fmt.Errorf("%w: only delivery providers report status", models.ErrForbidden)
	}
	if !models.ValidCoordinates(req.Latitude, req.Longitude) {
		return models.Profile{}, fmt.Errorf("%w: coordinates out of range", models.ErrValidation)
	}
	return s.store.UpdateProviderStatus(ctx, actor.UserID, req.Latitude, req.Longitude, req.Available, s.now().UTC())
}

// ListSuppliers returns every supplier a builder can order from.
func (s *Service) ListSuppliers(ctx context.Context) ([]models.Profile, error) {
	return s.store.ListProfilesByRole(ctx, models.RoleSupplier)
}
