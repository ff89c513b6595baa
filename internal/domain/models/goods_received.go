package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// GRNStatus reports whether everything dispatched arrived in good order.
type GRNStatus string

const (
	GRNComplete GRNStatus = "complete"
	GRNPartial  GRNStatus = "partial"
)

// ReceivedItem records what the builder accepted for one dispatched material.
type ReceivedItem struct {
	MaterialID  string          `json:"material_id"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Delivered   decimal.Decimal `json:"delivered"`
	Received    decimal.Decimal `json:"received"`
	Rejected    decimal.Decimal `json:"rejected"`
	Condition   string          `json:"condition"`
}

// Shortfall is the delivered quantity that was not received.
func (r ReceivedItem) Shortfall() decimal.Decimal {
	return r.Delivered.Sub(r.Received)
}

// ReceivedItems is stored as a JSONB column.
type ReceivedItems []ReceivedItem

// Value implements driver.Valuer.
func (items ReceivedItems) Value() (driver.Value, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

// Scan implements sql.Scanner.
func (items *ReceivedItems) Scan(src any) error {
	return scanJSON(src, items)
}

// GoodsReceivedNote is the builder-issued receipt confirmation.
type GoodsReceivedNote struct {
	ID              string        `db:"id" json:"id"`
	Number          string        `db:"number" json:"number"`
	DeliveryNoteID  string        `db:"delivery_note_id" json:"delivery_note_id"`
	PurchaseOrderID string        `db:"purchase_order_id" json:"purchase_order_id"`
	BuilderID       string        `db:"builder_id" json:"builder_id"`
	SupplierID      string        `db:"supplier_id" json:"supplier_id"`
	Items           ReceivedItems `db:"items" json:"items"`
	Status          GRNStatus     `db:"status" json:"status"`
	Notes           string        `db:"notes" json:"notes"`
	ReceivedAt      time.Time     `db:"received_at" json:"received_at"`
}

// ReceiptLine is the builder's count for one material.
type ReceiptLine struct {
	MaterialID string          `json:"material_id" binding:"required"`
	Received   decimal.Decimal `json:"received"`
	Rejected   decimal.Decimal `json:"rejected"`
	Condition  string          `json:"condition"`
}

// CreateGoodsReceivedNoteRequest is the builder payload for receiving a delivery note.
type CreateGoodsReceivedNoteRequest struct {
	DeliveryNoteID string        `json:"delivery_note_id" binding:"required"`
	Items          []ReceiptLine `json:"items" binding:"required"`
	Notes          string        `json:"notes"`
}
