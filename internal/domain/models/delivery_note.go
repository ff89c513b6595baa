package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryNoteStatus tracks a dispatch record.
type DeliveryNoteStatus string

const (
	NoteDispatched DeliveryNoteStatus = "dispatched"
	NoteReceived   DeliveryNoteStatus = "received"
)

// DispatchedItem is a quantity of one ordered material leaving the supplier.
type DispatchedItem struct {
	MaterialID  string          `json:"material_id"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// DispatchedItems is stored as a JSONB column.
type DispatchedItems []DispatchedItem

// Value implements driver.Valuer.
func (items DispatchedItems) Value() (driver.Value, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

// Scan implements sql.Scanner.
func (items *DispatchedItems) Scan(src any) error {
	return scanJSON(src, items)
}

// DeliveryNote is the supplier-issued dispatch record for a purchase order.
type DeliveryNote struct {
	ID                  string             `db:"id" json:"id"`
	Number              string             `db:"number" json:"number"`
	PurchaseOrderID     string             `db:"purchase_order_id" json:"purchase_order_id"`
	SupplierID          string             `db:"supplier_id" json:"supplier_id"`
	BuilderID           string             `db:"builder_id" json:"builder_id"`
	DeliveryID          *string            `db:"delivery_id" json:"delivery_id,omitempty"`
	Items               DispatchedItems    `db:"items" json:"items"`
	Status              DeliveryNoteStatus `db:"status" json:"status"`
	VehicleRegistration string             `db:"vehicle_registration" json:"vehicle_registration"`
	DriverName          string             `db:"driver_name" json:"driver_name"`
	Notes               string             `db:"notes" json:"notes"`
	DispatchedAt        time.Time          `db:"dispatched_at" json:"dispatched_at"`
	ReceivedAt          *time.Time         `db:"received_at" json:"received_at,omitempty"`
}

// Audience lists the users that should see changes to this note.
func (n DeliveryNote) Audience() []string {
	return []string{n.BuilderID, n.SupplierID}
}

// CreateDeliveryNoteRequest is the supplier payload for dispatching an order.
type CreateDeliveryNoteRequest struct {
	PurchaseOrderID     string          `json:"purchase_order_id" binding:"required"`
	DeliveryID          *string         `json:"delivery_id"`
	Items               DispatchedItems `json:"items" binding:"required"`
	VehicleRegistration string          `json:"vehicle_registration"`
	DriverName          string          `json:"driver_name"`
	Notes               string          `json:"notes"`
}
