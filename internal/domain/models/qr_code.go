package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QRStatus tracks a labelled batch of material.
type QRStatus string

const (
	QRGenerated  QRStatus = "generated"
	QRDispatched QRStatus = "dispatched"
	QRReceived   QRStatus = "received"
	QRVerified   QRStatus = "verified"
	QRVoid       QRStatus = "void"
)

var qrTransitions = map[QRStatus][]QRStatus{
	QRGenerated:  {QRDispatched, QRVoid},
	QRDispatched: {QRReceived, QRVoid},
	QRReceived:   {QRVerified},
}

// CanTransition reports whether the code may move from s to next.
func (s QRStatus) CanTransition(next QRStatus) bool {
	for _, allowed := range qrTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s QRStatus) Valid() bool {
	switch s {
	case QRGenerated, QRDispatched, QRReceived, QRVerified, QRVoid:
		return true
	}
	return false
}

// SupplierSide reports whether a supplier drives this status.
func (s QRStatus) SupplierSide() bool {
	return s == QRDispatched || s == QRVoid
}

// QRCode labels one ordered material line so it can be scanned on site.
type QRCode struct {
	ID              string          `db:"id" json:"id"`
	Code            string          `db:"code" json:"code"`
	SupplierID      string          `db:"supplier_id" json:"supplier_id"`
	BuilderID       string          `db:"builder_id" json:"builder_id"`
	PurchaseOrderID string          `db:"purchase_order_id" json:"purchase_order_id"`
	MaterialID      string          `db:"material_id" json:"material_id"`
	Description     string          `db:"description" json:"description"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	Status          QRStatus        `db:"status" json:"status"`
	ScannedBy       *string         `db:"scanned_by" json:"scanned_by,omitempty"`
	ScannedAt       *time.Time      `db:"scanned_at" json:"scanned_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Audience lists the users that should see changes to this code.
func (q QRCode) Audience() []string {
	return []string{q.BuilderID, q.SupplierID}
}

// GenerateQRCodesRequest asks for labels for every line of an order.
type GenerateQRCodesRequest struct {
	PurchaseOrderID string `json:"purchase_order_id" binding:"required"`
}

// UpdateQRStatusRequest moves a code to a new status.
type UpdateQRStatusRequest struct {
	Status QRStatus `json:"status" binding:"required"`
}
