package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

// ProfileService is implemented by the profiles service.
type ProfileService interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	UpsertProfile(ctx context.Context, actor models.Actor, req models.UpsertProfileRequest) (models.Profile, error)
	UpdateProviderStatus(ctx context.Context, actor models.Actor, req models.ProviderStatusRequest) (models.Profile, error)
	ListSuppliers(ctx context.Context) ([]models.Profile, error)
}

// ProfileHandler serves the caller's own profile and the supplier directory.
type ProfileHandler struct {
	base
	svc ProfileService
}

// NewProfileHandler constructs the HTTP handler adapter.
func NewProfileHandler(svc ProfileService, audit Auditor, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{base: newBase(audit, logger), svc: svc}
}

// Me returns the caller's profile.
func (h *ProfileHandler) Me(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	p, err := h.svc.GetProfile(c.Request.Context(), actor.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdateMe creates or replaces the caller's profile.
func (h *ProfileHandler) UpdateMe(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.UpsertProfileRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := h.svc.UpsertProfile(c.Request.Context(), actor, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdateProviderStatus sets a delivery provider's position and availability.
func (h *ProfileHandler) UpdateProviderStatus(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.ProviderStatusRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := h.svc.UpdateProviderStatus(c.Request.Context(), actor, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListSuppliers returns the supplier directory.
func (h *ProfileHandler) ListSuppliers(c *gin.Context) {
	suppliers, err := h.svc.ListSuppliers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suppliers": suppliers})
}
