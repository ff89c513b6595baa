package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus tracks a purchase order through its lifecycle.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderDispatched OrderStatus = "dispatched"
	OrderDelivered  OrderStatus = "delivered"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderCancelled},
	OrderConfirmed:  {OrderDispatched, OrderCancelled},
	OrderDispatched: {OrderDelivered},
	OrderDelivered:  {OrderCompleted},
}

// CanTransition reports whether the order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderDispatched, OrderDelivered, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// Invoiceable reports whether a supplier may bill against an order in this status.
func (s OrderStatus) Invoiceable() bool {
	return s != OrderPending && s != OrderCancelled
}

// PurchaseOrder is a builder-to-supplier order.
type PurchaseOrder struct {
	ID              string          `db:"id" json:"id"`
	Number          string          `db:"number" json:"number"`
	BuilderID       string          `db:"builder_id" json:"builder_id"`
	SupplierID      string          `db:"supplier_id" json:"supplier_id"`
	Status          OrderStatus     `db:"status" json:"status"`
	Items           LineItems       `db:"items" json:"items"`
	DeliveryAddress string          `db:"delivery_address" json:"delivery_address"`
	RequiredBy      *time.Time      `db:"required_by" json:"required_by,omitempty"`
	Notes           string          `db:"notes" json:"notes"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	ConfirmedAt     *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// IsParty reports whether the actor is the order's builder or supplier.
func (po PurchaseOrder) IsParty(actor Actor) bool {
	return actor.UserID == po.BuilderID || actor.UserID == po.SupplierID
}

// Audience lists the users that should see changes to this order.
func (po PurchaseOrder) Audience() []string {
	return []string{po.BuilderID, po.SupplierID}
}

// CreatePurchaseOrderRequest is the builder payload for a new order.
type CreatePurchaseOrderRequest struct {
	SupplierID      string     `json:"supplier_id" binding:"required"`
	Items           LineItems  `json:"items" binding:"required"`
	DeliveryAddress string     `json:"delivery_address" binding:"required"`
	RequiredBy      *time.Time `json:"required_by"`
	Notes           string     `json:"notes"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	BuilderID  string
	SupplierID string
	Status     OrderStatus
}
