package models

import "time"

// DeliveryStatus tracks a physical delivery run.
type DeliveryStatus string

const (
	DeliveryAssigned  DeliveryStatus = "assigned"
	DeliveryPickedUp  DeliveryStatus = "picked_up"
	DeliveryInTransit DeliveryStatus = "in_transit"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryAssigned:  {DeliveryPickedUp, DeliveryCancelled},
	DeliveryPickedUp:  {DeliveryInTransit, DeliveryCancelled},
	DeliveryInTransit: {DeliveryDelivered},
}

// CanTransition reports whether the delivery may move from s to next.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Moving reports whether location updates are accepted in this status.
func (s DeliveryStatus) Moving() bool {
	return s == DeliveryPickedUp || s == DeliveryInTransit
}

// Delivery is an accepted delivery request being carried out by a provider.
type Delivery struct {
	ID                string         `db:"id" json:"id"`
	TrackingNumber    string         `db:"tracking_number" json:"tracking_number"`
	DeliveryRequestID string         `db:"delivery_request_id" json:"delivery_request_id"`
	BuilderID         string         `db:"builder_id" json:"builder_id"`
	ProviderID        string         `db:"provider_id" json:"provider_id"`
	PurchaseOrderID   *string        `db:"purchase_order_id" json:"purchase_order_id,omitempty"`
	PickupAddress     string         `db:"pickup_address" json:"pickup_address"`
	DropoffAddress    string         `db:"dropoff_address" json:"dropoff_address"`
	Status            DeliveryStatus `db:"status" json:"status"`
	CurrentLat        *float64       `db:"current_lat" json:"current_lat,omitempty"`
	CurrentLng        *float64       `db:"current_lng" json:"current_lng,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
	PickedUpAt        *time.Time     `db:"picked_up_at" json:"picked_up_at,omitempty"`
	DeliveredAt       *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
}

// Audience lists the users that should see changes to this delivery.
func (d Delivery) Audience() []string {
	return []string{d.BuilderID, d.ProviderID}
}

// TrackingUpdate is one position or status report for a delivery.
type TrackingUpdate struct {
	ID         string         `db:"id" json:"id"`
	DeliveryID string         `db:"delivery_id" json:"delivery_id"`
	Status     DeliveryStatus `db:"status" json:"status"`
	Latitude   *float64       `db:"latitude" json:"latitude,omitempty"`
	Longitude  *float64       `db:"longitude" json:"longitude,omitempty"`
	Note       string         `db:"note" json:"note"`
	RecordedAt time.Time      `db:"recorded_at" json:"recorded_at"`
}

// DeliveryTracking bundles a delivery with its history.
type DeliveryTracking struct {
	Delivery Delivery         `json:"delivery"`
	Updates  []TrackingUpdate `json:"updates"`
}

// UpdateDeliveryStatusRequest is the provider payload for a status change.
type UpdateDeliveryStatusRequest struct {
	Status    DeliveryStatus `json:"status" binding:"required"`
	Latitude  *float64       `json:"latitude"`
	Longitude *float64       `json:"longitude"`
	Note      string         `json:"note"`
}

// LocationRequest is a bare position report.
type LocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
