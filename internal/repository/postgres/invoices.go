package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const invoiceColumns = `id, number, purchase_order_id, supplier_id, builder_id, items, subtotal, tax_rate,
	tax_amount, total, status, notes, issued_at, due_date, paid_at, updated_at`

// CreateInvoice inserts a new invoice.
func (s *Store) CreateInvoice(ctx context.Context, inv models.Invoice) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO invoices (id, number, purchase_order_id, supplier_id, builder_id, items, subtotal,
			tax_rate, tax_amount, total, status, notes, issued_at, due_date, updated_at)
		VALUES (:id, :number, :purchase_order_id, :supplier_id, :builder_id, :items, :subtotal,
			:tax_rate, :tax_amount, :total, :status, :notes, :issued_at, :due_date, :updated_at)`, inv)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", mapError(err))
	}
	return nil
}

// GetInvoice loads an invoice by id.
func (s *Store) GetInvoice(ctx context.Context, id string) (models.Invoice, error) {
	var inv models.Invoice
	if err := s.db.GetContext(ctx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id); err != nil {
		return models.Invoice{}, fmt.Errorf("get invoice %s: %w", id, mapError(err))
	}
	return inv, nil
}

// ListInvoices returns invoices matching the filter, newest first.
func (s *Store) ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.BuilderID != "" {
		args = append(args, filter.BuilderID)
		clauses = append(clauses, fmt.Sprintf("builder_id = $%d", len(args)))
	}
	if filter.SupplierID != "" {
		args = append(args, filter.SupplierID)
		clauses = append(clauses, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY issued_at DESC, id"

	var out []models.Invoice
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list invoices: %w", mapError(err))
	}
	return out, nil
}

// TransitionInvoice moves an invoice between statuses, stamping paid_at when paid.
func (s *Store) TransitionInvoice(ctx context.Context, id string, from, to models.InvoiceStatus, at time.Time) (models.Invoice, error) {
	set := "status = $3, updated_at = $4"
	if to == models.InvoicePaid {
		set += ", paid_at = $4"
	}

	var inv models.Invoice
	err := s.db.GetContext(ctx, &inv, `
		UPDATE invoices SET `+set+`
		WHERE id = $1 AND status = $2
		RETURNING `+invoiceColumns, id, from, to, at)
	if err != nil {
		err = mapError(err)
		if errors.Is(err, models.ErrNotFound) {
			return models.Invoice{}, fmt.Errorf("%w: invoice %s is not %s", models.ErrInvalidTransition, id, from)
		}
		return models.Invoice{}, fmt.Errorf("transition invoice %s: %w", id, err)
	}
	return inv, nil
}

// MarkOverdueInvoices flags every sent invoice whose due date has passed.
func (s *Store) MarkOverdueInvoices(ctx context.Context, now time.Time) ([]models.Invoice, error) {
	var out []models.Invoice
	err := s.db.SelectContext(ctx, &out, `
		UPDATE invoices SET status = 'overdue', updated_at = $1
		WHERE status = 'sent' AND due_date < $1
		RETURNING `+invoiceColumns, now)
	if err != nil {
		return nil, fmt.Errorf("mark overdue invoices: %w", mapError(err))
	}
	return out, nil
}
