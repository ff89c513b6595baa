package models

import "time"

// DailyReport is the platform snapshot stored in MongoDB once a day.
type DailyReport struct {
	Date                time.Time `bson:"date" json:"date"`
	OrdersCreated       int       `bson:"orders_created" json:"orders_created"`
	OrdersCompleted     int       `bson:"orders_completed" json:"orders_completed"`
	DeliveriesCompleted int       `bson:"deliveries_completed" json:"deliveries_completed"`
	RequestsUnassigned  int       `bson:"requests_unassigned" json:"requests_unassigned"`
	// Amounts are decimal strings so the document keeps exact cents.
	InvoicedAmount string    `bson:"invoiced_amount" json:"invoiced_amount"`
	PaidAmount     string    `bson:"paid_amount" json:"paid_amount"`
	SecurityEvents int       `bson:"security_events" json:"security_events"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// StatusCount is one row of a GROUP BY status query.
type StatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int    `db:"count" json:"count"`
}

// Dashboard is the role-specific analytics view.
type Dashboard struct {
	Role           Role              `json:"role"`
	Orders         map[string]int    `json:"orders,omitempty"`
	Deliveries     map[string]int    `json:"deliveries,omitempty"`
	QRCodes        map[string]int    `json:"qr_codes,omitempty"`
	Offers         map[string]int    `json:"offers,omitempty"`
	Amounts        map[string]string `json:"amounts,omitempty"`
	AcceptanceRate *float64          `json:"acceptance_rate,omitempty"`
	Snapshot       *DailyReport      `json:"snapshot,omitempty"`
	Previous       *DailyReport      `json:"previous,omitempty"`
}
