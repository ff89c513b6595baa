package rotation

import (
	"math"
	"sort"
	"strings"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two WGS84 points.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

type candidate struct {
	provider models.Profile
	distance float64
}

// BuildQueue ranks the providers able to serve req: nearest first, then
// higher rating, then id. Providers outside their own service radius or
// maxRadiusKm are left out.
func BuildQueue(req models.DeliveryRequest, providers []models.Profile, maxRadiusKm float64, maxLen int) []models.RotationEntry {
	wantVehicle := strings.ToLower(strings.TrimSpace(req.VehicleType))

	var candidates []candidate
	for _, p := range providers {
		if p.Role != models.RoleDeliveryProvider || !p.Available || !p.HasLocation() {
			continue
		}
		if wantVehicle != "" && !strings.EqualFold(p.VehicleType, wantVehicle) {
			continue
		}
		radius := maxRadiusKm
		if p.ServiceRadiusKm > 0 && p.ServiceRadiusKm < radius {
			radius = p.ServiceRadiusKm
		}
		d := DistanceKm(req.PickupLat, req.PickupLng, *p.Latitude, *p.Longitude)
		if d > radius {
			continue
		}
		candidates = append(candidates, candidate{provider: p, distance: d})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if a.provider.Rating != b.provider.Rating {
			return a.provider.Rating > b.provider.Rating
		}
		return a.provider.ID < b.provider.ID
	})

	if maxLen > 0 && len(candidates) > maxLen {
		candidates = candidates[:maxLen]
	}

	entries := make([]models.RotationEntry, 0, len(candidates))
	for i, c := range candidates {
		entries = append(entries, models.RotationEntry{
			ID:         models.NewID(),
			RequestID:  req.ID,
			ProviderID: c.provider.ID,
			Position:   i + 1,
			DistanceKm: math.Round(c.distance*100) / 100,
			Status:     models.EntryQueued,
		})
	}
	return entries
}
