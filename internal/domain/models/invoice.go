package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus tracks billing state.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:   {InvoiceSent, InvoiceCancelled},
	InvoiceSent:    {InvoicePaid, InvoiceOverdue, InvoiceCancelled},
	InvoiceOverdue: {InvoicePaid},
}

// CanTransition reports whether the invoice may move from s to next.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return true
	}
	return false
}

// Invoice bills a builder for materials on a purchase order.
type Invoice struct {
	ID              string          `db:"id" json:"id"`
	Number          string          `db:"number" json:"number"`
	PurchaseOrderID string          `db:"purchase_order_id" json:"purchase_order_id"`
	SupplierID      string          `db:"supplier_id" json:"supplier_id"`
	BuilderID       string          `db:"builder_id" json:"builder_id"`
	Items           LineItems       `db:"items" json:"items"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxRate         decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	TaxAmount       decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Status          InvoiceStatus   `db:"status" json:"status"`
	Notes           string          `db:"notes" json:"notes"`
	IssuedAt        time.Time       `db:"issued_at" json:"issued_at"`
	DueDate         time.Time       `db:"due_date" json:"due_date"`
	PaidAt          *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Audience lists the users that should see changes to this invoice.
func (inv Invoice) Audience() []string {
	return []string{inv.BuilderID, inv.SupplierID}
}

// ComputeTotals fills subtotal, tax and total from the items, rounded to cents.
func (inv *Invoice) ComputeTotals() {
	inv.Subtotal = inv.Items.Subtotal().Round(2)
	inv.TaxAmount = inv.Subtotal.Mul(inv.TaxRate).Round(2)
	inv.Total = inv.Subtotal.Add(inv.TaxAmount)
}

// CreateInvoiceRequest is the supplier payload for billing an order.
type CreateInvoiceRequest struct {
	PurchaseOrderID string           `json:"purchase_order_id" binding:"required"`
	Items           LineItems        `json:"items"`
	TaxRate         *decimal.Decimal `json:"tax_rate"`
	DueDate         *time.Time       `json:"due_date"`
	Notes           string           `json:"notes"`
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	BuilderID  string
	SupplierID string
	Status     InvoiceStatus
}
