package deliveries

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/realtime"
)

type fakeStore struct {
	deliveries map[string]models.Delivery
	updates    []models.TrackingUpdate
}

func (f *fakeStore) GetDelivery(_ context.Context, id string) (models.Delivery, error) {
	d, ok := f.deliveries[id]
	if !ok {
		return models.Delivery{}, models.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) ListDeliveriesForUser(_ context.Context, userID string) ([]models.Delivery, error) {
	var out []models.Delivery
	for _, d := range f.deliveries {
		if userID == "" || d.BuilderID == userID || d.ProviderID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordTrackingUpdate(_ context.Context, expected models.DeliveryStatus, u models.TrackingUpdate) (models.Delivery, error) {
	d := f.deliveries[u.DeliveryID]
	if d.Status != expected {
		return models.Delivery{}, fmt.Errorf("%w: stale", models.ErrInvalidTransition)
	}
	d.Status = u.Status
	if u.Latitude != nil {
		d.CurrentLat, d.CurrentLng = u.Latitude, u.Longitude
	}
	f.deliveries[d.ID] = d
	f.updates = append(f.updates, u)
	return d, nil
}

func (f *fakeStore) ListTrackingUpdates(_ context.Context, id string) ([]models.TrackingUpdate, error) {
	var out []models.TrackingUpdate
	for _, u := range f.updates {
		if u.DeliveryID == id {
			out = append(out, u)
		}
	}
	return out, nil
}

type countingPublisher struct{ n int }

func (c *countingPublisher) Publish(realtime.Change) { c.n++ }

var (
	provider = models.Actor{UserID: "prov-1", Role: models.RoleDeliveryProvider}
	builder  = models.Actor{UserID: "builder-1", Role: models.RoleBuilder}
)

func newService() (*Service, *fakeStore, *countingPublisher) {
	store := &fakeStore{deliveries: map[string]models.Delivery{
		"d1": {ID: "d1", TrackingNumber: "TRK-1", BuilderID: "builder-1", ProviderID: "prov-1", Status: models.DeliveryAssigned},
		"d2": {ID: "d2", TrackingNumber: "TRK-2", BuilderID: "builder-9", ProviderID: "prov-9", Status: models.DeliveryAssigned},
	}}
	pub := &countingPublisher{}
	return NewService(store, pub, nil), store, pub
}

func ptr(f float64) *float64 { return &f }

func TestGetUserDeliveries(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	mine, err := svc.GetUserDeliveries(ctx, builder)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "d1", mine[0].ID)

	all, err := svc.GetUserDeliveries(ctx, models.Actor{UserID: "a", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := svc.GetUserDeliveries(ctx, models.Actor{UserID: "stranger", Role: models.RoleSupplier})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestDeliveryProgression(t *testing.T) {
	svc, store, pub := newService()
	ctx := context.Background()

	_, err := svc.UpdateDeliveryStatus(ctx, builder, "d1", models.UpdateDeliveryStatusRequest{Status: models.DeliveryPickedUp})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.RecordLocation(ctx, provider, "d1", models.LocationRequest{Latitude: -1.3, Longitude: 36.8})
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "no position reports before pickup")

	_, err = svc.UpdateDeliveryStatus(ctx, provider, "d1", models.UpdateDeliveryStatusRequest{Status: models.DeliveryDelivered})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	d, err := svc.UpdateDeliveryStatus(ctx, provider, "d1", models.UpdateDeliveryStatusRequest{
		Status: models.DeliveryPickedUp, Latitude: ptr(-1.28), Longitude: ptr(36.82), Note: " loaded ",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPickedUp, d.Status)

	d, err = svc.RecordLocation(ctx, provider, "d1", models.LocationRequest{Latitude: -1.29, Longitude: 36.81})
	require.NoError(t, err)
	assert.Equal(t, -1.29, *d.CurrentLat)

	_, err = svc.RecordLocation(ctx, provider, "d1", models.LocationRequest{Latitude: -91, Longitude: 0})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.UpdateDeliveryStatus(ctx, provider, "d1", models.UpdateDeliveryStatusRequest{Status: models.DeliveryInTransit, Latitude: ptr(1)})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.UpdateDeliveryStatus(ctx, provider, "d1", models.UpdateDeliveryStatusRequest{Status: models.DeliveryInTransit})
	require.NoError(t, err)
	d, err = svc.UpdateDeliveryStatus(ctx, provider, "d1", models.UpdateDeliveryStatusRequest{Status: models.DeliveryDelivered})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, d.Status)

	tracking, err := svc.GetDeliveryTracking(ctx, builder, "d1")
	require.NoError(t, err)
	require.Len(t, tracking.Updates, 4)
	assert.Equal(t, "loaded", tracking.Updates[0].Note)
	assert.Len(t, store.updates, 4)
	assert.Equal(t, 4, pub.n)
}

func TestGetDeliveryTrackingVisibility(t *testing.T) {
	svc, _, _ := newService()

	_, err := svc.GetDeliveryTracking(context.Background(), builder, "d2")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.GetDeliveryTracking(context.Background(), builder, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
