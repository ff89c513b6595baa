package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document number prefixes.
const (
	PrefixPurchaseOrder = "PO"
	PrefixDeliveryNote  = "DN"
	PrefixGoodsReceived = "GRN"
	PrefixInvoice       = "INV"
	PrefixTracking      = "TRK"
)

// NewID returns a random record id.
func NewID() string {
	return uuid.NewString()
}

// DocumentNumber builds a human-readable number such as PO-20240603-3F9A1C.
func DocumentNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return prefix + "-" + at.UTC().Format("20060102") + "-" + suffix
}

// NewQRCodeValue returns the printed value of a new QR label.
func NewQRCodeValue() string {
	return "QR-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
