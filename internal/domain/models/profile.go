package models

import (
	"strings"
	"time"
	"unicode"
)

// Role enumerates the marketplace actor categories.
type Role string

const (
	RoleBuilder          Role = "builder"
	RoleSupplier         Role = "supplier"
	RoleDeliveryProvider Role = "delivery_provider"
	RoleAdmin            Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleBuilder, RoleSupplier, RoleDeliveryProvider, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the actor bypasses ownership checks.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Profile is the per-user record attached to an auth identity.
type Profile struct {
	ID              string    `db:"id" json:"id"`
	Role            Role      `db:"role" json:"role"`
	FullName        string    `db:"full_name" json:"full_name"`
	CompanyName     string    `db:"company_name" json:"company_name"`
	Phone           string    `db:"phone" json:"phone"`
	Email           string    `db:"email" json:"email"`
	Latitude        *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude       *float64  `db:"longitude" json:"longitude,omitempty"`
	VehicleType     string    `db:"vehicle_type" json:"vehicle_type,omitempty"`
	ServiceRadiusKm float64   `db:"service_radius_km" json:"service_radius_km,omitempty"`
	Available       bool      `db:"available" json:"available"`
	Rating          float64   `db:"rating" json:"rating"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// HasLocation reports whether both coordinates are known.
func (p Profile) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// UpsertProfileRequest is the self-service profile payload.
type UpsertProfileRequest struct {
	FullName    string `json:"full_name" binding:"required"`
	CompanyName string `json:"company_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	VehicleType string `json:"vehicle_type"`
	// ServiceRadiusKm is only meaningful for delivery providers.
	ServiceRadiusKm float64 `json:"service_radius_km"`
}

// ProviderStatusRequest updates a delivery provider's position and availability.
type ProviderStatusRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Available bool    `json:"available"`
}

// NormalizePhone strips everything but digits so numbers match WhatsApp ids.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCoordinates reports whether lat/lng are inside WGS84 bounds.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
