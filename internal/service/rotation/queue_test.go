package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

func loc(f float64) *float64 { return &f }

func providerAt(id string, lat, lng float64) models.Profile {
	return models.Profile{
		ID:        id,
		Role:      models.RoleDeliveryProvider,
		Available: true,
		Latitude:  loc(lat),
		Longitude: loc(lng),
	}
}

func TestDistanceKm(t *testing.T) {
	assert.InDelta(t, 0, DistanceKm(-26.2, 28.0, -26.2, 28.0), 1e-9)
	// Johannesburg to Pretoria.
	assert.InDelta(t, 54, DistanceKm(-26.2041, 28.0473, -25.7479, 28.2293), 2)
	// One degree of latitude.
	assert.InDelta(t, 111.19, DistanceKm(0, 0, 1, 0), 0.05)
}

func TestBuildQueueOrdersByDistanceThenRating(t *testing.T) {
	req := models.DeliveryRequest{ID: "req-1", PickupLat: 0, PickupLng: 0}

	far := providerAt("far", 0.2, 0)
	nearLow := providerAt("near-low", 0.1, 0)
	nearLow.Rating = 3
	nearHigh := providerAt("near-high", 0.1, 0)
	nearHigh.Rating = 4.5

	queue := BuildQueue(req, []models.Profile{far, nearLow, nearHigh}, 50, 10)
	require.Len(t, queue, 3)

	assert.Equal(t, "near-high", queue[0].ProviderID)
	assert.Equal(t, "near-low", queue[1].ProviderID)
	assert.Equal(t, "far", queue[2].ProviderID)
	for i, e := range queue {
		assert.Equal(t, i+1, e.Position)
		assert.Equal(t, models.EntryQueued, e.Status)
		assert.Equal(t, "req-1", e.RequestID)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, 11.12, queue[0].DistanceKm)
}

func TestBuildQueueFilters(t *testing.T) {
	req := models.DeliveryRequest{ID: "req-1", VehicleType: "Flatbed"}

	unavailable := providerAt("unavailable", 0.01, 0)
	unavailable.Available = false
	noLocation := providerAt("no-location", 0, 0)
	noLocation.Latitude = nil
	builder := providerAt("builder", 0.01, 0)
	builder.Role = models.RoleBuilder
	wrongVehicle := providerAt("bakkie", 0.01, 0)
	wrongVehicle.VehicleType = "bakkie"
	tooFar := providerAt("too-far", 1, 0)
	tooFar.VehicleType = "flatbed"
	ownRadius := providerAt("own-radius", 0.1, 0)
	ownRadius.VehicleType = "flatbed"
	ownRadius.ServiceRadiusKm = 5
	ok := providerAt("ok", 0.1, 0)
	ok.VehicleType = "FLATBED"

	queue := BuildQueue(req, []models.Profile{unavailable, noLocation, builder, wrongVehicle, tooFar, ownRadius, ok}, 50, 10)
	require.Len(t, queue, 1)
	assert.Equal(t, "ok", queue[0].ProviderID)
}

func TestBuildQueueTruncates(t *testing.T) {
	req := models.DeliveryRequest{ID: "req-1"}
	var providers []models.Profile
	for i, id := range []string{"a", "b", "c", "d"} {
		providers = append(providers, providerAt(id, float64(i)*0.01, 0))
	}

	queue := BuildQueue(req, providers, 50, 2)
	require.Len(t, queue, 2)
	assert.Equal(t, "a", queue[0].ProviderID)
	assert.Equal(t, "b", queue[1].ProviderID)

	assert.Empty(t, BuildQueue(req, nil, 50, 2))
}
