package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

// DeliveryService is implemented by the deliveries service.
type DeliveryService interface {
	GetUserDeliveries(ctx context.Context, actor models.Actor) ([]models.Delivery, error)
	GetDeliveryTracking(ctx context.Context, actor models.Actor, id string) (models.DeliveryTracking, error)
	UpdateDeliveryStatus(ctx context.Context, actor models.Actor, id string, req models.UpdateDeliveryStatusRequest) (models.Delivery, error)
	RecordLocation(ctx context.Context, actor models.Actor, id string, req models.LocationRequest) (models.Delivery, error)
}

// RotationService is implemented by the rotation service.
type RotationService interface {
	CreateDeliveryRequest(ctx context.Context, actor models.Actor, in models.CreateDeliveryRequest) (models.RotationResult, error)
	SetupRotationQueue(ctx context.Context, actor models.Actor, requestID string) (models.RotationResult, error)
	GetRotationQueue(ctx context.Context, actor models.Actor, requestID string) (models.RotationResult, error)
	RespondToOffer(ctx context.Context, actor models.Actor, requestID string, in models.RespondRequest) (models.RotationResult, error)
	CancelDeliveryRequest(ctx context.Context, actor models.Actor, requestID string) (models.DeliveryRequest, error)
	ListOffers(ctx context.Context, actor models.Actor) ([]models.Offer, error)
}

// DeliveryHandler serves deliveries, delivery requests and provider offers.
type DeliveryHandler struct {
	base
	deliveries DeliveryService
	rotation   RotationService
}

// NewDeliveryHandler constructs the HTTP handler adapter.
func NewDeliveryHandler(deliveries DeliveryService, rotation RotationService, audit Auditor, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{base: newBase(audit, logger), deliveries: deliveries, rotation: rotation}
}

// ListDeliveries returns the caller's deliveries (get_user_deliveries).
func (h *DeliveryHandler) ListDeliveries(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	deliveries, err := h.deliveries.GetUserDeliveries(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}

// Tracking returns a delivery with its tracking history.
func (h *DeliveryHandler) Tracking(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	tracking, err := h.deliveries.GetDeliveryTracking(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// UpdateStatus advances a delivery.
func (h *DeliveryHandler) UpdateStatus(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.UpdateDeliveryStatusRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.deliveries.UpdateDeliveryStatus(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// RecordLocation stores a provider position fix.
func (h *DeliveryHandler) RecordLocation(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.LocationRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.deliveries.RecordLocation(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// CreateRequest opens a delivery request and starts the rotation.
func (h *DeliveryHandler) CreateRequest(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.CreateDeliveryRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.rotation.CreateDeliveryRequest(c.Request.Context(), actor, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// SetupRotation builds the provider queue (setup_provider_rotation_queue).
func (h *DeliveryHandler) SetupRotation(c *gin.Context) {
	h.rotationAction(c, h.rotation.SetupRotationQueue)
}

// GetRotation returns a request with its queue.
func (h *DeliveryHandler) GetRotation(c *gin.Context) {
	h.rotationAction(c, h.rotation.GetRotationQueue)
}

func (h *DeliveryHandler) rotationAction(c *gin.Context, fn func(context.Context, models.Actor, string) (models.RotationResult, error)) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	res, err := fn(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Respond is a provider accepting or declining its offer.
func (h *DeliveryHandler) Respond(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.RespondRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.rotation.RespondToOffer(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CancelRequest withdraws an unassigned request.
func (h *DeliveryHandler) CancelRequest(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	req, err := h.rotation.CancelDeliveryRequest(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ListOffers returns the provider's open offers.
func (h *DeliveryHandler) ListOffers(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	offers, err := h.rotation.ListOffers(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}
