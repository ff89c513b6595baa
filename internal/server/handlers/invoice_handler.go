package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

// InvoiceService is implemented by the invoicing service.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, actor models.Actor, req models.CreateInvoiceRequest) (models.Invoice, error)
	SendInvoice(ctx context.Context, actor models.Actor, id string) (models.Invoice, error)
	MarkInvoicePaid(ctx context.Context, actor models.Actor, id string) (models.Invoice, error)
	CancelInvoice(ctx context.Context, actor models.Actor, id string) (models.Invoice, error)
	GetInvoice(ctx context.Context, actor models.Actor, id string) (models.Invoice, error)
	ListInvoices(ctx context.Context, actor models.Actor, status models.InvoiceStatus) ([]models.Invoice, error)
}

// InvoiceHandler serves supplier invoices.
type InvoiceHandler struct {
	base
	svc InvoiceService
}

// NewInvoiceHandler constructs the HTTP handler adapter.
func NewInvoiceHandler(svc InvoiceService, audit Auditor, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{base: newBase(audit, logger), svc: svc}
}

// Create drafts an invoice for a purchase order.
func (h *InvoiceHandler) Create(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req models.CreateInvoiceRequest
	if !h.bind(c, &req) {
		return
	}
	inv, err := h.svc.CreateInvoice(c.Request.Context(), actor, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// List returns the caller's invoices, optionally by ?status=.
func (h *InvoiceHandler) List(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	invoices, err := h.svc.ListInvoices(c.Request.Context(), actor, models.InvoiceStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

// Get returns one invoice.
func (h *InvoiceHandler) Get(c *gin.Context) { h.invoiceAction(c, h.svc.GetInvoice) }

// Send issues a draft invoice.
func (h *InvoiceHandler) Send(c *gin.Context) { h.invoiceAction(c, h.svc.SendInvoice) }

// Pay records payment.
func (h *InvoiceHandler) Pay(c *gin.Context) { h.invoiceAction(c, h.svc.MarkInvoicePaid) }

// Cancel voids an unpaid invoice.
func (h *InvoiceHandler) Cancel(c *gin.Context) { h.invoiceAction(c, h.svc.CancelInvoice) }

func (h *InvoiceHandler) invoiceAction(c *gin.Context, fn func(context.Context, models.Actor, string) (models.Invoice, error)) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	inv, err := fn(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
