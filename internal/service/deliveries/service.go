package deliveries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/realtime"
)

// Store is the persistence the delivery tracking service needs.
type Store interface {
	GetDelivery(ctx context.Context, id string) (models.Delivery, error)
	ListDeliveriesForUser(ctx context.Context, userID string) ([]models.Delivery, error)
	RecordTrackingUpdate(ctx context.Context, expected models.DeliveryStatus, update models.TrackingUpdate) (models.Delivery, error)
	ListTrackingUpdates(ctx context.Context, deliveryID string) ([]models.TrackingUpdate, error)
}

// Service tracks accepted deliveries from pickup to drop-off.
type Service struct {
	store     Store
	publisher realtime.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewService wires a new delivery tracking service instance.
func NewService(store Store, publisher realtime.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, publisher: realtime.OrNop(publisher), now: time.Now, logger: logger}
}

// GetUserDeliveries lists deliveries where the actor is the builder or the
// provider, newest first. Admins see all of them.
func (s *Service) GetUserDeliveries(ctx context.Context, actor models.Actor) ([]models.Delivery, error) {
	userID := actor.UserID
	if actor.IsAdmin() {
		userID = ""
	}
	deliveries, err := s.store.ListDeliveriesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}
	return deliveries, nil
}

// GetDeliveryTracking returns a delivery with its tracking history.
func (s *Service) GetDeliveryTracking(ctx context.Context, actor models.Actor, id string) (models.DeliveryTracking, error) {
	d, err := s.visibleDelivery(ctx, actor, id)
	if err != nil {
		return models.DeliveryTracking{}, err
	}
	updates, err := s.store.ListTrackingUpdates(ctx, id)
	if err != nil {
		return models.DeliveryTracking{}, err
	}
	if updates == nil {
		updates = []models.TrackingUpdate{}
	}
	return models.DeliveryTracking{Delivery: d, Updates: updates}, nil
}

// UpdateDeliveryStatus moves a delivery along its lifecycle. Only the
// assigned provider may report progress.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, actor models.Actor, id string, req models.UpdateDeliveryStatusRequest) (models.Delivery, error) {
	d, err := s.providerDelivery(ctx, actor, id)
	if err != nil {
		return models.Delivery{}, err
	}
	if !d.Status.CanTransition(req.Status) {
		return models.Delivery{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, d.Status, req.Status)
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return models.Delivery{}, fmt.Errorf("%w: latitude and longitude go together", models.ErrValidation)
	}
	if req.Latitude != nil && !models.ValidCoordinates(*req.Latitude, *req.Longitude) {
		return models.Delivery{}, fmt.Errorf("%w: coordinates out of range", models.ErrValidation)
	}

	update := models.TrackingUpdate{
		ID:         models.NewID(),
		DeliveryID: d.ID,
		Status:     req.Status,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Note:       strings.TrimSpace(req.Note),
		RecordedAt: s.now().UTC(),
	}
	updated, err := s.store.RecordTrackingUpdate(ctx, d.Status, update)
	if err != nil {
		return models.Delivery{}, err
	}

	s.logger.Info("delivery status updated",
		zap.String("tracking_number", updated.TrackingNumber),
		zap.String("from", string(d.Status)),
		zap.String("to", string(updated.Status)))
	s.publish(updated)
	return updated, nil
}

// RecordLocation stores a position report for a delivery on the move.
func (s *Service) RecordLocation(ctx context.Context, actor models.Actor, id string, req models.LocationRequest) (models.Delivery, error) {
	d, err := s.providerDelivery(ctx, actor, id)
	if err != nil {
		return models.Delivery{}, err
	}
	if !d.Status.Moving() {
		return models.Delivery{}, fmt.Errorf("%w: delivery %s is %s", models.ErrInvalidTransition, d.TrackingNumber, d.Status)
	}
	if !models.ValidCoordinates(req.Latitude, req.Longitude) {
		return models.Delivery{}, fmt.Errorf("%w: coordinates out of range", models.ErrValidation)
	}

	lat, lng := req.Latitude, req.Longitude
	updated, err := s.store.RecordTrackingUpdate(ctx, d.Status, models.TrackingUpdate{
		ID:         models.NewID(),
		DeliveryID: d.ID,
		Status:     d.Status,
		Latitude:   &lat,
		Longitude:  &lng,
		RecordedAt: s.now().UTC(),
	})
	if err != nil {
		return models.Delivery{}, err
	}
	s.publish(updated)
	return updated, nil
}

func (s *Service) visibleDelivery(ctx context.Context, actor models.Actor, id string) (models.Delivery, error) {
	d, err := s.store.GetDelivery(ctx, id)
	if err != nil {
		return models.Delivery{}, err
	}
	if !actor.IsAdmin() && actor.UserID != d.BuilderID && actor.UserID != d.ProviderID {
		return models.Delivery{}, fmt.Errorf("%w: not a party to delivery %s", models.ErrForbidden, id)
	}
	return d, nil
}

func (s *Service) providerDelivery(ctx context.Context, actor models.Actor, id string) (models.Delivery, error) {
	d, err := s.store.GetDelivery(ctx, id)
	if err != nil {
		return models.Delivery{}, err
	}
	if actor.UserID != d.ProviderID {
		return models.Delivery{}, fmt.Errorf("%w: only the assigned provider can update delivery %s", models.ErrForbidden, id)
	}
	return d, nil
}

func (s *Service) publish(d models.Delivery) {
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TableDeliveries,
		Type:     realtime.EventUpdate,
		RecordID: d.ID,
		Record:   d,
		Audience: d.Audience(),
	})
}
