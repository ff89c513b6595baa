package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// LineItem is one material line on an order or invoice.
type LineItem struct {
	MaterialID  string          `json:"material_id" binding:"required"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Amount returns quantity multiplied by unit price.
func (l LineItem) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// LineItems is stored as a JSONB column.
type LineItems []LineItem

// Value implements driver.Valuer.
func (items LineItems) Value() (driver.Value, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

// Scan implements sql.Scanner.
func (items *LineItems) Scan(src any) error {
	return scanJSON(src, items)
}

// Subtotal sums the line amounts.
func (items LineItems) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount())
	}
	return total
}

// Find returns the line for the given material.
func (items LineItems) Find(materialID string) (LineItem, bool) {
	for _, item := range items {
		if item.MaterialID == materialID {
			return item, true
		}
	}
	return LineItem{}, false
}

// Validate checks the shape every order or invoice needs.
func (items LineItems) Validate() error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.MaterialID == "" {
			return fmt.Errorf("%w: items[%d].material_id is required", ErrValidation, i)
		}
		if _, dup := seen[item.MaterialID]; dup {
			return fmt.Errorf("%w: material %s listed twice", ErrValidation, item.MaterialID)
		}
		seen[item.MaterialID] = struct{}{}
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrValidation, i)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: items[%d].unit_price must not be negative", ErrValidation, i)
		}
	}
	return nil
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
