package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

// ProcurementService is implemented by the procurement service.
type ProcurementService interface {
	CreatePurchaseOrder(ctx context.Context, actor models.Actor, req models.CreatePurchaseOrderRequest) (models.PurchaseOrder, error)
	ConfirmPurchaseOrder(ctx context.Context, actor models.Actor, id string) (models.PurchaseOrder, error)
	CancelPurchaseOrder(ctx context.Context, actor models.Actor, id string) (models.PurchaseOrder, error)
	CompletePurchaseOrder(ctx context.Context, actor models.Actor, id string) (models.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, actor models.Actor, id string) (models.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, actor models.Actor, status models.OrderStatus) ([]models.PurchaseOrder, error)
	CreateDeliveryNote(ctx context.Context, actor models.Actor, req models.CreateDeliveryNoteRequest) (models.DeliveryNote, error)
	GetDeliveryNote(ctx context.Context, actor models.Actor, id string) (models.DeliveryNote, error)
	ListDeliveryNotes(ctx context.Context, actor models.Actor, purchaseOrderID string) ([]models.DeliveryNote, error)
	CreateGoodsReceivedNote(ctx context.Context, actor models.Actor, req models.CreateGoodsReceivedNoteRequest) (models.GoodsReceivedNote, error)
	ListGoodsReceivedNotes(ctx context.Context, actor models.Actor, purchaseOrderID string) ([]models.GoodsReceivedNote, error)
}

// ProcurementHandler serves purchase orders, delivery notes and GRNs.
type ProcurementHandler struct {
	base
	svc ProcurementService
}

// NewProcurementHandler constructs the HTTP handler adapter.
func NewProcurementHandler(svc ProcurementService, audit Auditor, logger *zap.Logger) *ProcurementHandler {
	return &ProcurementHandler{base: newBase(audit, logger), svc: svc}
}

// CreatePurchaseOrder places a new order with a supplier.
func (h *ProcurementHandler) CreatePurchaseOrder(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.CreatePurchaseOrderRequest
	if !h.bind(c, &req) {
		return
	}
	po, err := h.svc.CreatePurchaseOrder(c.Request.Context(), actor, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, po)
}

// ListPurchaseOrders lists the caller's orders, optionally by ?status=.
func (h *ProcurementHandler) ListPurchaseOrders(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	orders, err := h.svc.ListPurchaseOrders(c.Request.Context(), actor, models.OrderStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase_orders": orders})
}

// GetPurchaseOrder returns one order visible to the caller.
func (h *ProcurementHandler) GetPurchaseOrder(c *gin.Context) {
	h.orderAction(c, h.svc.GetPurchaseOrder)
}

// ConfirmPurchaseOrder is the supplier accepting an order.
func (h *ProcurementHandler) ConfirmPurchaseOrder(c *gin.Context) {
	h.orderAction(c, h.svc.ConfirmPurchaseOrder)
}

// CancelPurchaseOrder cancels a pending order.
func (h *ProcurementHandler) CancelPurchaseOrder(c *gin.Context) {
	h.orderAction(c, h.svc.CancelPurchaseOrder)
}

// CompletePurchaseOrder closes a delivered order.
func (h *ProcurementHandler) CompletePurchaseOrder(c *gin.Context) {
	h.orderAction(c, h.svc.CompletePurchaseOrder)
}

func (h *ProcurementHandler) orderAction(c *gin.Context, fn func(context.Context, models.Actor, string) (models.PurchaseOrder, error)) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	po, err := fn(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

// CreateDeliveryNote records a dispatch against a confirmed order.
func (h *ProcurementHandler) CreateDeliveryNote(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.CreateDeliveryNoteRequest
	if !h.bind(c, &req) {
		return
	}
	note, err := h.svc.CreateDeliveryNote(c.Request.Context(), actor, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

// ListDeliveryNotes lists the notes of ?purchase_order_id=.
func (h *ProcurementHandler) ListDeliveryNotes(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	notes, err := h.svc.ListDeliveryNotes(c.Request.Context(), actor, c.Query("purchase_order_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivery_notes": notes})
}

// GetDeliveryNote returns one note.
func (h *ProcurementHandler) GetDeliveryNote(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	note, err := h.svc.GetDeliveryNote(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

// CreateGoodsReceivedNote is the builder confirming what arrived.
func (h *ProcurementHandler) CreateGoodsReceivedNote(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.CreateGoodsReceivedNoteRequest
	if !h.bind(c, &req) {
		return
	}
	grn, err := h.svc.CreateGoodsReceivedNote(c.Request.Context(), actor, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, grn)
}

// ListGoodsReceivedNotes lists the GRNs of ?purchase_order_id=.
func (h *ProcurementHandler) ListGoodsReceivedNotes(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	grns, err := h.svc.ListGoodsReceivedNotes(c.Request.Context(), actor, c.Query("purchase_order_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goods_received_notes": grns})
}
