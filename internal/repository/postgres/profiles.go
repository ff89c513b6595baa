package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const phoneIndex = "idx_profiles_phone"

const profileColumns = `id, role, full_name, company_name, phone, email, latitude, longitude,
	vehicle_type, service_radius_km, available, rating, created_at, updated_at`

// GetProfile loads a profile by user id.
func (s *Store) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	var p models.Profile
	err := s.db.GetContext(ctx, &p, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile %s: %w", id, mapError(err))
	}
	return p, nil
}

// UpsertProfile inserts or updates the editable profile fields. Role is only
// written on insert.
func (s *Store) UpsertProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	var out models.Profile
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO profiles (id, role, full_name, company_name, phone, email, vehicle_type,
			service_radius_km, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			company_name = EXCLUDED.company_name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			vehicle_type = EXCLUDED.vehicle_type,
			service_radius_km = EXCLUDED.service_radius_km,
			updated_at = EXCLUDED.updated_at
		RETURNING `+profileColumns,
		p.ID, p.Role, p.FullName, p.CompanyName, p.Phone, p.Email, p.VehicleType, p.ServiceRadiusKm, p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgErrUniqueViolation && pqErr.Constraint == phoneIndex {
			return models.Profile{}, fmt.Errorf("%w: phone number is registered to another account", models.ErrConflict)
		}
		return models.Profile{}, fmt.Errorf("upsert profile %s: %w", p.ID, mapError(err))
	}
	return out, nil
}

// UpdateProviderStatus sets a delivery provider's position and availability.
func (s *Store) UpdateProviderStatus(ctx context.Context, id string, lat, lng float64, available bool, at time.Time) (models.Profile, error) {
	var out models.Profile
	err := s.db.GetContext(ctx, &out, `
		UPDATE profiles SET latitude = $2, longitude = $3, available = $4, updated_at = $5
		WHERE id = $1 AND role = 'delivery_provider'
		RETURNING `+profileColumns, id, lat, lng, available, at)
	if err != nil {
		return models.Profile{}, fmt.Errorf("update provider status %s: %w", id, mapError(err))
	}
	return out, nil
}

// ListProfilesByRole returns every profile with the given role ordered by name.
func (s *Store) ListProfilesByRole(ctx context.Context, role models.Role) ([]models.Profile, error) {
	var out []models.Profile
	err := s.db.SelectContext(ctx, &out, `SELECT `+profileColumns+` FROM profiles WHERE role = $1 ORDER BY full_name, id`, role)
	if err != nil {
		return nil, fmt.Errorf("list %s profiles: %w", role, mapError(err))
	}
	return out, nil
}

// ListAvailableProviders returns providers that are available and have a known position.
func (s *Store) ListAvailableProviders(ctx context.Context) ([]models.Profile, error) {
	var out []models.Profile
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+profileColumns+` FROM profiles
		WHERE role = 'delivery_provider' AND available AND latitude IS NOT NULL AND longitude IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list available providers: %w", mapError(err))
	}
	return out, nil
}

// GetProfileByPhone resolves the sender of an inbound WhatsApp message.
// Phone numbers are unique across profiles.
func (s *Store) GetProfileByPhone(ctx context.Context, phone string) (models.Profile, error) {
	if phone == "" {
		return models.Profile{}, models.ErrNotFound
	}
	var p models.Profile
	err := s.db.GetContext(ctx, &p, `SELECT `+profileColumns+` FROM profiles WHERE phone = $1`, phone)
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile by phone: %w", mapError(err))
	}
	return p, nil
}
