package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

// QRCodeService is implemented by the qrcodes service.
type QRCodeService interface {
	GenerateQRCodes(ctx context.Context, actor models.Actor, purchaseOrderID string) ([]models.QRCode, error)
	GetSupplierQRCodes(ctx context.Context, actor models.Actor, status models.QRStatus) ([]models.QRCode, error)
	UpdateQRStatus(ctx context.Context, actor models.Actor, code string, to models.QRStatus) (models.QRCode, error)
	LookupQRCode(ctx context.Context, actor models.Actor, code string) (models.QRCode, error)
}

// QRCodeHandler serves material QR codes.
type QRCodeHandler struct {
	base
	svc QRCodeService
}

// NewQRCodeHandler constructs the HTTP handler adapter.
func NewQRCodeHandler(svc QRCodeService, audit Auditor, logger *zap.Logger) *QRCodeHandler {
	return &QRCodeHandler{base: newBase(audit, logger), svc: svc}
}

// Generate issues codes for every line of a purchase order.
func (h *QRCodeHandler) Generate(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.GenerateQRCodesRequest
	if !h.bind(c, &req) {
		return
	}
	codes, err := h.svc.GenerateQRCodes(c.Request.Context(), actor, req.PurchaseOrderID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"qr_codes": codes})
}

// List returns the supplier's codes (get_supplier_qr_codes).
func (h *QRCodeHandler) List(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	codes, err := h.svc.GetSupplierQRCodes(c.Request.Context(), actor, models.QRStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"qr_codes": codes})
}

// Lookup resolves a scanned code.
func (h *QRCodeHandler) Lookup(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	code, err := h.svc.LookupQRCode(c.Request.Context(), actor, c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// UpdateStatus moves a code along its lifecycle (update_qr_status).
func (h *QRCodeHandler) UpdateStatus(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.UpdateQRStatusRequest
	if !h.bind(c, &req) {
		return
	}
	code, err := h.svc.UpdateQRStatus(c.Request.Context(), actor, c.Param("code"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}
