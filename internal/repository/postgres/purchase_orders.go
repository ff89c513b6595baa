package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const orderColumns = `id, number, builder_id, supplier_id, status, items, delivery_address, required_by,
	notes, subtotal, created_at, updated_at, confirmed_at, completed_at`

// CreatePurchaseOrder inserts a new order.
func (s *Store) CreatePurchaseOrder(ctx context.Context, po models.PurchaseOrder) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO purchase_orders (id, number, builder_id, supplier_id, status, items, delivery_address,
			required_by, notes, subtotal, created_at, updated_at)
		VALUES (:id, :number, :builder_id, :supplier_id, :status, :items, :delivery_address,
			:required_by, :notes, :subtotal, :created_at, :updated_at)`, po)
	if err != nil {
		return fmt.Errorf("insert purchase order: %w", mapError(err))
	}
	return nil
}

// GetPurchaseOrder loads an order by id.
func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	if err := s.db.GetContext(ctx, &po, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id); err != nil {
		return models.PurchaseOrder{}, fmt.Errorf("get purchase order %s: %w", id, mapError(err))
	}
	return po, nil
}

// ListPurchaseOrders returns orders matching the filter, newest first.
func (s *Store) ListPurchaseOrders(ctx context.Context, filter models.OrderFilter) ([]models.PurchaseOrder, error) {
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

	query := `SELECT ` + orderColumns + ` FROM purchase_orders`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	var out []models.PurchaseOrder
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", mapError(err))
	}
	return out, nil
}

// TransitionPurchaseOrder moves an order from one status to another. It
// fails with ErrInvalidTransition when the order is no longer in from.
func (s *Store) TransitionPurchaseOrder(ctx context.Context, id string, from, to models.OrderStatus, at time.Time) (models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		po, err = transitionOrder(ctx, tx, id, from, to, at)
		return err
	})
	return po, err
}

func transitionOrder(ctx context.Context, tx *sqlx.Tx, id string, from, to models.OrderStatus, at time.Time) (models.PurchaseOrder, error) {
	set := "status = $3, updated_at = $4"
	if col := statusTimestampColumn(to); col != "" {
		set += ", " + col + " = $4"
	}

	var po models.PurchaseOrder
	err := tx.GetContext(ctx, &po, `
		UPDATE purchase_orders SET `+set+`
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns, id, from, to, at)
	if err != nil {
		err = mapError(err)
		if errors.Is(err, models.ErrNotFound) {
			return models.PurchaseOrder{}, fmt.Errorf("%w: purchase order %s is not %s", models.ErrInvalidTransition, id, from)
		}
		return models.PurchaseOrder{}, fmt.Errorf("transition purchase order %s: %w", id, err)
	}
	return po, nil
}
