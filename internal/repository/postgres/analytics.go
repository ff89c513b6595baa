package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

// CountOrdersByStatus groups the orders matching filter by status.
// filter.Status is ignored.
func (s *Store) CountOrdersByStatus(ctx context.Context, filter models.OrderFilter) ([]models.StatusCount, error) {
	query := `SELECT status, COUNT(*) AS count FROM purchase_orders WHERE TRUE`
	var args []any
	if filter.BuilderID != "" {
		args = append(args, filter.BuilderID)
		query += fmt.Sprintf(" AND builder_id = $%d", len(args))
	}
	if filter.SupplierID != "" {
		args = append(args, filter.SupplierID)
		query += fmt.Sprintf(" AND supplier_id = $%d", len(args))
	}
	query += ` GROUP BY status ORDER BY status`

	var out []models.StatusCount
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("count orders by status: %w", mapError(err))
	}
	return out, nil
}

// CountDeliveriesByStatus groups a user's deliveries by status. An empty
// userID counts every delivery.
func (s *Store) CountDeliveriesByStatus(ctx context.Context, userID string) ([]models.StatusCount, error) {
	query := `SELECT status, COUNT(*) AS count FROM deliveries`
	var args []any
	if userID != "" {
		query += ` WHERE builder_id = $1 OR provider_id = $1`
		args = append(args, userID)
	}
	query += ` GROUP BY status ORDER BY status`

	var out []models.StatusCount
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("count deliveries by status: %w", mapError(err))
	}
	return out, nil
}

// CountQRCodesByStatus groups a supplier's QR codes by status.
func (s *Store) CountQRCodesByStatus(ctx context.Context, supplierID string) ([]models.StatusCount, error) {
	var out []models.StatusCount
	err := s.db.SelectContext(ctx, &out, `SELECT status, COUNT(*) AS count FROM qr_codes
		WHERE supplier_id = $1 GROUP BY status ORDER BY status`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("count qr codes by status: %w", mapError(err))
	}
	return out, nil
}

// CountOffersByStatus groups the rotation entries a provider was offered by
// outcome. Entries that were never offered are excluded.
func (s *Store) CountOffersByStatus(ctx context.Context, providerID string) ([]models.StatusCount, error) {
	var out []models.StatusCount
	err := s.db.SelectContext(ctx, &out, `SELECT status, COUNT(*) AS count FROM rotation_entries
		WHERE provider_id = $1 AND offered_at IS NOT NULL GROUP BY status ORDER BY status`, providerID)
	if err != nil {
		return nil, fmt.Errorf("count offers by status: %w", mapError(err))
	}
	return out, nil
}

// SumOrderSubtotals totals the subtotals of a builder's orders in the given statuses.
func (s *Store) SumOrderSubtotals(ctx context.Context, builderID string, statuses []models.OrderStatus) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(subtotal), 0) FROM purchase_orders
		WHERE builder_id = $1 AND status = ANY($2)`, builderID, pq.Array(orderStatusStrings(statuses)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum order subtotals: %w", mapError(err))
	}
	return total, nil
}

// SumInvoiceTotals totals a supplier's invoices in the given statuses.
func (s *Store) SumInvoiceTotals(ctx context.Context, supplierID string, statuses []models.InvoiceStatus) (decimal.Decimal, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	var total decimal.Decimal
	err := s.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(total), 0) FROM invoices
		WHERE supplier_id = $1 AND status = ANY($2)`, supplierID, pq.Array(names))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum invoice totals: %w", mapError(err))
	}
	return total, nil
}

// PlatformActivity counts what happened on the platform in [from, to).
func (s *Store) PlatformActivity(ctx context.Context, from, to time.Time) (models.DailyReport, error) {
	var row struct {
		OrdersCreated       int             `db:"orders_created"`
		OrdersCompleted     int             `db:"orders_completed"`
		DeliveriesCompleted int             `db:"deliveries_completed"`
		RequestsUnassigned  int             `db:"requests_unassigned"`
		Invoiced            decimal.Decimal `db:"invoiced"`
		Paid                decimal.Decimal `db:"paid"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			(SELECT COUNT(*) FROM purchase_orders WHERE created_at >= $1 AND created_at < $2) AS orders_created,
			(SELECT COUNT(*) FROM purchase_orders WHERE completed_at >= $1 AND completed_at < $2) AS orders_completed,
			(SELECT COUNT(*) FROM deliveries WHERE delivered_at >= $1 AND delivered_at < $2) AS deliveries_completed,
			(SELECT COUNT(*) FROM delivery_requests
				WHERE status = 'no_provider' AND updated_at >= $1 AND updated_at < $2) AS requests_unassigned,
			(SELECT COALESCE(SUM(total), 0) FROM invoices
				WHERE status <> 'cancelled' AND issued_at >= $1 AND issued_at < $2) AS invoiced,
			(SELECT COALESCE(SUM(total), 0) FROM invoices WHERE paid_at >= $1 AND paid_at < $2) AS paid`,
		from, to)
	if err != nil {
		return models.DailyReport{}, fmt.Errorf("platform activity: %w", mapError(err))
	}

	return models.DailyReport{
		Date:                from,
		OrdersCreated:       row.OrdersCreated,
		OrdersCompleted:     row.OrdersCompleted,
		DeliveriesCompleted: row.DeliveriesCompleted,
		RequestsUnassigned:  row.RequestsUnassigned,
		InvoicedAmount:      row.Invoiced.StringFixed(2),
		PaidAmount:          row.Paid.StringFixed(2),
	}, nil
}

func orderStatusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
