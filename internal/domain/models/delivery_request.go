package models

import "time"

// RequestStatus tracks a delivery request through provider rotation.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestOffered    RequestStatus = "offered"
	RequestAccepted   RequestStatus = "accepted"
	RequestNoProvider RequestStatus = "no_provider"
	RequestCancelled  RequestStatus = "cancelled"
)

// Open reports whether the request is still looking for a provider.
func (s RequestStatus) Open() bool {
	return s == RequestPending || s == RequestOffered
}

// DeliveryRequest asks the platform to find a provider for a haul.
type DeliveryRequest struct {
	ID                 string        `db:"id" json:"id"`
	BuilderID          string        `db:"builder_id" json:"builder_id"`
	PurchaseOrderID    *string       `db:"purchase_order_id" json:"purchase_order_id,omitempty"`
	PickupAddress      string        `db:"pickup_address" json:"pickup_address"`
	PickupLat          float64       `db:"pickup_lat" json:"pickup_lat"`
	PickupLng          float64       `db:"pickup_lng" json:"pickup_lng"`
	DropoffAddress     string        `db:"dropoff_address" json:"dropoff_address"`
	DropoffLat         float64       `db:"dropoff_lat" json:"dropoff_lat"`
	DropoffLng         float64       `db:"dropoff_lng" json:"dropoff_lng"`
	MaterialSummary    string        `db:"material_summary" json:"material_summary"`
	WeightKg           float64       `db:"weight_kg" json:"weight_kg"`
	VehicleType        string        `db:"vehicle_type" json:"vehicle_type,omitempty"`
	Status             RequestStatus `db:"status" json:"status"`
	AssignedProviderID *string       `db:"assigned_provider_id" json:"assigned_provider_id,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// ShortRef is the human-typable reference used in WhatsApp replies.
func (r DeliveryRequest) ShortRef() string {
	return ShortRef(r.ID)
}

// ShortRef returns the first eight characters of an id, upper-cased.
func ShortRef(id string) string {
	ref := id
	if len(ref) > 8 {
		ref = ref[:8]
	}
	out := []byte(ref)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

// CreateDeliveryRequest is the builder payload for a new haul.
type CreateDeliveryRequest struct {
	PurchaseOrderID *string `json:"purchase_order_id"`
	PickupAddress   string  `json:"pickup_address" binding:"required"`
	PickupLat       float64 `json:"pickup_lat"`
	PickupLng       float64 `json:"pickup_lng"`
	DropoffAddress  string  `json:"dropoff_address" binding:"required"`
	DropoffLat      float64 `json:"dropoff_lat"`
	DropoffLng      float64 `json:"dropoff_lng"`
	MaterialSummary string  `json:"material_summary"`
	WeightKg        float64 `json:"weight_kg"`
	VehicleType     string  `json:"vehicle_type"`
}

// EntryStatus tracks one provider's slot in a rotation queue.
type EntryStatus string

const (
	EntryQueued   EntryStatus = "queued"
	EntryOffered  EntryStatus = "offered"
	EntryAccepted EntryStatus = "accepted"
	EntryDeclined EntryStatus = "declined"
	EntryExpired  EntryStatus = "expired"
	EntrySkipped  EntryStatus = "skipped"
)

// RotationEntry is one provider's position in a request's rotation queue.
type RotationEntry struct {
	ID          string      `db:"id" json:"id"`
	RequestID   string      `db:"request_id" json:"request_id"`
	ProviderID  string      `db:"provider_id" json:"provider_id"`
	Position    int         `db:"position" json:"position"`
	DistanceKm  float64     `db:"distance_km" json:"distance_km"`
	Status      EntryStatus `db:"status" json:"status"`
	OfferedAt   *time.Time  `db:"offered_at" json:"offered_at,omitempty"`
	ExpiresAt   *time.Time  `db:"expires_at" json:"expires_at,omitempty"`
	RespondedAt *time.Time  `db:"responded_at" json:"responded_at,omitempty"`
}

// ResponseKind is a provider's answer to an offer.
type ResponseKind string

const (
	ResponseAccept  ResponseKind = "accept"
	ResponseDecline ResponseKind = "decline"
)

// ProviderResponse records a provider's answer to an offer.
type ProviderResponse struct {
	ID          string       `db:"id" json:"id"`
	RequestID   string       `db:"request_id" json:"request_id"`
	ProviderID  string       `db:"provider_id" json:"provider_id"`
	Response    ResponseKind `db:"response" json:"response"`
	Reason      string       `db:"reason" json:"reason"`
	RespondedAt time.Time    `db:"responded_at" json:"responded_at"`
}

// RespondRequest is the provider payload for answering an offer.
type RespondRequest struct {
	Response ResponseKind `json:"response" binding:"required"`
	Reason   string       `json:"reason"`
}

// Offer is an active offer as seen by the provider holding it.
type Offer struct {
	Request DeliveryRequest `json:"request"`
	Entry   RotationEntry   `json:"entry"`
}

// RotationResult is returned after a rotation step.
type RotationResult struct {
	Request  DeliveryRequest `json:"request"`
	Queue    []RotationEntry `json:"queue"`
	Delivery *Delivery       `json:"delivery,omitempty"`
}
