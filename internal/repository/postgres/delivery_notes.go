package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const noteColumns = `id, number, purchase_order_id, supplier_id, builder_id, delivery_id, items, status,
	vehicle_registration, driver_name, notes, dispatched_at, received_at`

const grnColumns = `id, number, delivery_note_id, purchase_order_id, builder_id, supplier_id, items, status,
	notes, received_at`

// CreateDeliveryNote inserts the note and moves its order from confirmed to
// dispatched in one transaction.
func (s *Store) CreateDeliveryNote(ctx context.Context, note models.DeliveryNote) (models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		po, err = transitionOrder(ctx, tx, note.PurchaseOrderID, models.OrderConfirmed, models.OrderDispatched, note.DispatchedAt)
		if err != nil {
			return err
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO delivery_notes (id, number, purchase_order_id, supplier_id, builder_id, delivery_id, items,
				status, vehicle_registration, driver_name, notes, dispatched_at)
			VALUES (:id, :number, :purchase_order_id, :supplier_id, :builder_id, :delivery_id, :items,
				:status, :vehicle_registration, :driver_name, :notes, :dispatched_at)`, note)
		if err != nil {
			return fmt.Errorf("insert delivery note: %w", mapError(err))
		}
		return nil
	})
	return po, err
}

// GetDeliveryNote loads a note by id.
func (s *Store) GetDeliveryNote(ctx context.Context, id string) (models.DeliveryNote, error) {
	var note models.DeliveryNote
	if err := s.db.GetContext(ctx, &note, `SELECT `+noteColumns+` FROM delivery_notes WHERE id = $1`, id); err != nil {
		return models.DeliveryNote{}, fmt.Errorf("get delivery note %s: %w", id, mapError(err))
	}
	return note, nil
}

// ListDeliveryNotes returns the notes issued against an order.
func (s *Store) ListDeliveryNotes(ctx context.Context, purchaseOrderID string) ([]models.DeliveryNote, error) {
	var out []models.DeliveryNote
	err := s.db.SelectContext(ctx, &out, `SELECT `+noteColumns+` FROM delivery_notes
		WHERE purchase_order_id = $1 ORDER BY dispatched_at`, purchaseOrderID)
	if err != nil {
		return nil, fmt.Errorf("list delivery notes: %w", mapError(err))
	}
	return out, nil
}

// CreateGoodsReceivedNote inserts the GRN, marks the delivery note received
// and moves the order from dispatched to delivered in one transaction.
func (s *Store) CreateGoodsReceivedNote(ctx context.Context, grn models.GoodsReceivedNote) (models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE delivery_notes SET status = 'received', received_at = $2
			WHERE id = $1 AND status = 'dispatched'`, grn.DeliveryNoteID, grn.ReceivedAt)
		if err != nil {
			return fmt.Errorf("mark delivery note received: %w", mapError(err))
		}
		if err := requireAffected(res, fmt.Errorf("%w: delivery note %s already received", models.ErrConflict, grn.DeliveryNoteID)); err != nil {
			return err
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO goods_received_notes (id, number, delivery_note_id, purchase_order_id, builder_id,
				supplier_id, items, status, notes, received_at)
			VALUES (:id, :number, :delivery_note_id, :purchase_order_id, :builder_id,
				:supplier_id, :items, :status, :notes, :received_at)`, grn)
		if err != nil {
			return fmt.Errorf("insert goods received note: %w", mapError(err))
		}

		po, err = transitionOrder(ctx, tx, grn.PurchaseOrderID, models.OrderDispatched, models.OrderDelivered, grn.ReceivedAt)
		return err
	})
	return po, err
}

// ListGoodsReceivedNotes returns the receipts recorded against an order.
func (s *Store) ListGoodsReceivedNotes(ctx context.Context, purchaseOrderID string) ([]models.GoodsReceivedNote, error) {
	var out []models.GoodsReceivedNote
	err := s.db.SelectContext(ctx, &out, `SELECT `+grnColumns+` FROM goods_received_notes
		WHERE purchase_order_id = $1 ORDER BY received_at`, purchaseOrderID)
	if err != nil {
		return nil, fmt.Errorf("list goods received notes: %w", mapError(err))
	}
	return out, nil
}
