package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/metrics"
	"github.com/mamadbah2/buildmart/internal/realtime"
)

// Store is the persistence the rotation service needs.
type Store interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	ListAvailableProviders(ctx context.Context) ([]models.Profile, error)
	GetPurchaseOrder(ctx context.Context, id string) (models.PurchaseOrder, error)

	CreateDeliveryRequest(ctx context.Context, req models.DeliveryRequest) error
	GetDeliveryRequest(ctx context.Context, id string) (models.DeliveryRequest, error)
	CancelDeliveryRequest(ctx context.Context, id string, now time.Time) (models.DeliveryRequest, error)

	CreateRotationEntries(ctx context.Context, requestID string, entries []models.RotationEntry) error
	ListRotationEntries(ctx context.Context, requestID string) ([]models.RotationEntry, error)
	PromoteNextEntry(ctx context.Context, requestID string, now, expiresAt time.Time) (*models.RotationEntry, models.DeliveryRequest, error)
	AcceptOffer(ctx context.Context, resp models.ProviderResponse, delivery models.Delivery) (models.DeliveryRequest, error)
	DeclineOffer(ctx context.Context, resp models.ProviderResponse) error
	ExpireOffers(ctx context.Context, now time.Time) ([]models.RotationEntry, error)
	ListActiveOffers(ctx context.Context, providerID string, now time.Time) ([]models.Offer, error)
}

// Notifier tells people about rotation outcomes. Delivery is best-effort.
type Notifier interface {
	NotifyOffer(ctx context.Context, provider models.Profile, req models.DeliveryRequest, entry models.RotationEntry) error
	NotifyAssigned(ctx context.Context, builder models.Profile, req models.DeliveryRequest, provider models.Profile, delivery models.Delivery) error
	NotifyNoProvider(ctx context.Context, builder models.Profile, req models.DeliveryRequest) error
}

// Service offers delivery requests to nearby providers one at a time until
// one accepts.
type Service struct {
	store     Store
	notifier  Notifier
	publisher realtime.Publisher
	cfg       config.RotationConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewService wires a new rotation service instance. notifier may be nil.
func NewService(store Store, notifier Notifier, publisher realtime.Publisher, cfg config.RotationConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		notifier:  notifier,
		publisher: realtime.OrNop(publisher),
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// CreateDeliveryRequest records a builder's haul and immediately starts
// rotating it through nearby providers.
func (s *Service) CreateDeliveryRequest(ctx context.Context, actor models.Actor, in models.CreateDeliveryRequest) (models.RotationResult, error) {
	if actor.Role != models.RoleBuilder {
		return models.RotationResult{}, fmt.Errorf("%w: only builders request deliveries", models.ErrForbidden)
	}
	if strings.TrimSpace(in.PickupAddress) == "" || strings.TrimSpace(in.DropoffAddress) == "" {
		return models.RotationResult{}, fmt.Errorf("%w: pickup_address and dropoff_address are required", models.ErrValidation)
	}
	if !models.ValidCoordinates(in.PickupLat, in.PickupLng) || !models.ValidCoordinates(in.DropoffLat, in.DropoffLng) {
		return models.RotationResult{}, fmt.Errorf("%w: coordinates out of range", models.ErrValidation)
	}
	if in.WeightKg < 0 {
		return models.RotationResult{}, fmt.Errorf("%w: weight_kg must not be negative", models.ErrValidation)
	}
	if in.PurchaseOrderID != nil {
		po, err := s.store.GetPurchaseOrder(ctx, *in.PurchaseOrderID)
		if err != nil {
			return models.RotationResult{}, err
		}
		if po.BuilderID != actor.UserID {
			return models.RotationResult{}, fmt.Errorf("%w: order %s belongs to another builder", models.ErrForbidden, po.Number)
		}
	}

	now := s.now().UTC()
	req := models.DeliveryRequest{
		ID:              models.NewID(),
		BuilderID:       actor.UserID,
		PurchaseOrderID: in.PurchaseOrderID,
		PickupAddress:   strings.TrimSpace(in.PickupAddress),
		PickupLat:       in.PickupLat,
		PickupLng:       in.PickupLng,
		DropoffAddress:  strings.TrimSpace(in.DropoffAddress),
		DropoffLat:      in.DropoffLat,
		DropoffLng:      in.DropoffLng,
		MaterialSummary: strings.TrimSpace(in.MaterialSummary),
		WeightKg:        in.WeightKg,
		VehicleType:     strings.ToLower(strings.TrimSpace(in.VehicleType)),
		Status:          models.RequestPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateDeliveryRequest(ctx, req); err != nil {
		return models.RotationResult{}, err
	}
	s.logger.Info("delivery request created", zap.String("request", req.ShortRef()), zap.String("builder_id", req.BuilderID))
	s.publishRequest(realtime.EventInsert, req)

	return s.setupQueue(ctx, req)
}

// SetupRotationQueue builds and persists the provider queue for a pending
// request, then offers it to the first provider. A request only gets one queue.
func (s *Service) SetupRotationQueue(ctx context.Context, actor models.Actor, requestID string) (models.RotationResult, error) {
	req, err := s.store.GetDeliveryRequest(ctx, requestID)
	if err != nil {
		return models.RotationResult{}, err
	}
	if !actor.IsAdmin() && actor.UserID != req.BuilderID {
		return models.RotationResult{}, fmt.Errorf("%w: not your delivery request", models.ErrForbidden)
	}
	return s.setupQueue(ctx, req)
}

func (s *Service) setupQueue(ctx context.Context, req models.DeliveryRequest) (models.RotationResult, error) {
	if req.Status != models.RequestPending {
		return models.RotationResult{}, fmt.Errorf("%w: rotation for %s already ran (%s)", models.ErrConflict, req.ShortRef(), req.Status)
	}

	providers, err := s.store.ListAvailableProviders(ctx)
	if err != nil {
		return models.RotationResult{}, fmt.Errorf("load providers: %w", err)
	}
	queue := BuildQueue(req, providers, s.cfg.MaxRadiusKm, s.cfg.MaxQueueLength)
	if err := s.store.CreateRotationEntries(ctx, req.ID, queue); err != nil {
		return models.RotationResult{}, err
	}
	s.logger.Info("rotation queue ready",
		zap.String("request", req.ShortRef()),
		zap.Int("candidates", len(queue)),
		zap.Int("available_providers", len(providers)))

	if _, err := s.offerNext(ctx, req.ID); err != nil {
		return models.RotationResult{}, err
	}
	return s.result(ctx, req.ID, nil)
}

// offerNext hands the request to the next queued provider, or marks it
// no_provider when the queue is exhausted.
func (s *Service) offerNext(ctx context.Context, requestID string) (models.DeliveryRequest, error) {
	now := s.now().UTC()
	entry, req, err := s.store.PromoteNextEntry(ctx, requestID, now, now.Add(s.cfg.OfferTimeout))
	if err != nil {
		return models.DeliveryRequest{}, err
	}
	s.publishRequest(realtime.EventUpdate, req)

	if entry == nil {
		metrics.RecordOffer("exhausted")
		s.logger.Warn("no provider accepted delivery request", zap.String("request", req.ShortRef()))
		if builder, err := s.store.GetProfile(ctx, req.BuilderID); err != nil {
			s.logger.Warn("load builder for no-provider notice", zap.Error(err))
		} else if s.notifier != nil {
			if err := s.notifier.NotifyNoProvider(ctx, builder, req); err != nil {
				s.logger.Warn("no-provider notice failed", zap.String("request", req.ShortRef()), zap.Error(err))
			}
		}
		return req, nil
	}

	metrics.RecordOffer("offered")
	s.logger.Info("delivery request offered",
		zap.String("request", req.ShortRef()),
		zap.String("provider_id", entry.ProviderID),
		zap.Int("position", entry.Position))
	s.publishEntry(req, *entry)

	if s.notifier != nil {
		provider, err := s.store.GetProfile(ctx, entry.ProviderID)
		if err != nil {
			s.logger.Warn("load provider for offer notice", zap.Error(err))
			return req, nil
		}
		if err := s.notifier.NotifyOffer(ctx, provider, req, *entry); err != nil {
			s.logger.Warn("offer notice failed", zap.String("request", req.ShortRef()), zap.Error(err))
		}
	}
	return req, nil
}

// RespondToOffer records a provider's answer. It only succeeds while the
// provider holds the request's active, unexpired offer.
func (s *Service) RespondToOffer(ctx context.Context, actor models.Actor, requestID string, in models.RespondRequest) (models.RotationResult, error) {
	if actor.Role != models.RoleDeliveryProvider {
		return models.RotationResult{}, fmt.Errorf("%w: only delivery providers answer offers", models.ErrForbidden)
	}
	if in.Response != models.ResponseAccept && in.Response != models.ResponseDecline {
		return models.RotationResult{}, fmt.Errorf("%w: response must be accept or decline", models.ErrValidation)
	}

	req, err := s.store.GetDeliveryRequest(ctx, requestID)
	if err != nil {
		return models.RotationResult{}, err
	}

	now := s.now().UTC()
	resp := models.ProviderResponse{
		ID:          models.NewID(),
		RequestID:   req.ID,
		ProviderID:  actor.UserID,
		Response:    in.Response,
		Reason:      strings.TrimSpace(in.Reason),
		RespondedAt: now,
	}

	if in.Response == models.ResponseDecline {
		if err := s.store.DeclineOffer(ctx, resp); err != nil {
			return models.RotationResult{}, err
		}
		metrics.RecordOffer("declined")
		s.logger.Info("offer declined",
			zap.String("request", req.ShortRef()),
			zap.String("provider_id", actor.UserID),
			zap.String("reason", resp.Reason))
		if _, err := s.offerNext(ctx, req.ID); err != nil {
			return models.RotationResult{}, err
		}
		return s.result(ctx, req.ID, nil)
	}

	delivery := models.Delivery{
		ID:                models.NewID(),
		TrackingNumber:    models.DocumentNumber(models.PrefixTracking, now),
		DeliveryRequestID: req.ID,
		BuilderID:         req.BuilderID,
		ProviderID:        actor.UserID,
		PurchaseOrderID:   req.PurchaseOrderID,
		PickupAddress:     req.PickupAddress,
		DropoffAddress:    req.DropoffAddress,
		Status:            models.DeliveryAssigned,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	accepted, err := s.store.AcceptOffer(ctx, resp, delivery)
	if err != nil {
		return models.RotationResult{}, err
	}
	metrics.RecordOffer("accepted")
	s.logger.Info("offer accepted",
		zap.String("request", accepted.ShortRef()),
		zap.String("provider_id", actor.UserID),
		zap.String("tracking_number", delivery.TrackingNumber))

	s.publishRequest(realtime.EventUpdate, accepted)
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TableDeliveries,
		Type:     realtime.EventInsert,
		RecordID: delivery.ID,
		Record:   delivery,
		Audience: delivery.Audience(),
	})
	s.notifyAssigned(ctx, accepted, delivery)

	return s.result(ctx, req.ID, &delivery)
}

func (s *Service) notifyAssigned(ctx context.Context, req models.DeliveryRequest, delivery models.Delivery) {
	if s.notifier == nil {
		return
	}
	builder, err := s.store.GetProfile(ctx, req.BuilderID)
	if err != nil {
		s.logger.Warn("load builder for assignment notice", zap.Error(err))
		return
	}
	provider, err := s.store.GetProfile(ctx, delivery.ProviderID)
	if err != nil {
		s.logger.Warn("load provider for assignment notice", zap.Error(err))
		return
	}
	if err := s.notifier.NotifyAssigned(ctx, builder, req, provider, delivery); err != nil {
		s.logger.Warn("assignment notice failed", zap.String("request", req.ShortRef()), zap.Error(err))
	}
}

// ExpireOffers lapses every offer past its deadline and moves each affected
// request on to its next provider. It returns the number of lapsed offers.
func (s *Service) ExpireOffers(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireOffers(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(expired))
	for _, entry := range expired {
		metrics.RecordOffer("expired")
		if _, ok := seen[entry.RequestID]; ok {
			continue
		}
		seen[entry.RequestID] = struct{}{}

		s.logger.Info("offer expired",
			zap.String("request", models.ShortRef(entry.RequestID)),
			zap.String("provider_id", entry.ProviderID))
		if _, err := s.offerNext(ctx, entry.RequestID); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrConflict) {
				continue
			}
			s.logger.Error("advance rotation after expiry", zap.String("request_id", entry.RequestID), zap.Error(err))
		}
	}
	return len(expired), nil
}

// CancelDeliveryRequest withdraws a request that has not been accepted yet.
func (s *Service) CancelDeliveryRequest(ctx context.Context, actor models.Actor, requestID string) (models.DeliveryRequest, error) {
	req, err := s.store.GetDeliveryRequest(ctx, requestID)
	if err != nil {
		return models.DeliveryRequest{}, err
	}
	if !actor.IsAdmin() && actor.UserID != req.BuilderID {
		return models.DeliveryRequest{}, fmt.Errorf("%w: not your delivery request", models.ErrForbidden)
	}
	if !req.Status.Open() {
		return models.DeliveryRequest{}, fmt.Errorf("%w: request %s is %s", models.ErrInvalidTransition, req.ShortRef(), req.Status)
	}

	cancelled, err := s.store.CancelDeliveryRequest(ctx, requestID, s.now().UTC())
	if err != nil {
		return models.DeliveryRequest{}, err
	}
	s.logger.Info("delivery request cancelled", zap.String("request", cancelled.ShortRef()))
	s.publishRequest(realtime.EventUpdate, cancelled)
	return cancelled, nil
}

// GetRotationQueue returns a request with its queue in position order.
func (s *Service) GetRotationQueue(ctx context.Context, actor models.Actor, requestID string) (models.RotationResult, error) {
	req, err := s.store.GetDeliveryRequest(ctx, requestID)
	if err != nil {
		return models.RotationResult{}, err
	}
	if !actor.IsAdmin() && actor.UserID != req.BuilderID {
		return models.RotationResult{}, fmt.Errorf("%w: not your delivery request", models.ErrForbidden)
	}
	return s.result(ctx, requestID, nil)
}

// ListOffers returns the provider's currently active offers.
func (s *Service) ListOffers(ctx context.Context, actor models.Actor) ([]models.Offer, error) {
	if actor.Role != models.RoleDeliveryProvider {
		return nil, fmt.Errorf("%w: only delivery providers hold offers", models.ErrForbidden)
	}
	offers, err := s.store.ListActiveOffers(ctx, actor.UserID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	return offers, nil
}

func (s *Service) result(ctx context.Context, requestID string, delivery *models.Delivery) (models.RotationResult, error) {
	req, err := s.store.GetDeliveryRequest(ctx, requestID)
	if err != nil {
		return models.RotationResult{}, err
	}
	queue, err := s.store.ListRotationEntries(ctx, requestID)
	if err != nil {
		return models.RotationResult{}, err
	}
	if queue == nil {
		queue = []models.RotationEntry{}
	}
	return models.RotationResult{Request: req, Queue: queue, Delivery: delivery}, nil
}

func (s *Service) publishRequest(kind realtime.EventType, req models.DeliveryRequest) {
	audience := []string{req.BuilderID}
	if req.AssignedProviderID != nil {
		audience = append(audience, *req.AssignedProviderID)
	}
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TableDeliveryRequests,
		Type:     kind,
		RecordID: req.ID,
		Record:   req,
		Audience: audience,
	})
}

func (s *Service) publishEntry(req models.DeliveryRequest, entry models.RotationEntry) {
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TableRotationEntries,
		Type:     realtime.EventUpdate,
		RecordID: entry.ID,
		Record:   models.Offer{Request: req, Entry: entry},
		Audience: []string{req.BuilderID, entry.ProviderID},
	})
}
