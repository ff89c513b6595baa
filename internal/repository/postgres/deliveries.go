package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const deliveryColumns = `id, tracking_number, delivery_request_id, builder_id, provider_id, purchase_order_id,
	pickup_address, dropoff_address, status, current_lat, current_lng, created_at, updated_at,
	picked_up_at, delivered_at`

const trackingColumns = `id, delivery_id, status, latitude, longitude, note, recorded_at`

// GetDelivery loads a delivery by id.
func (s *Store) GetDelivery(ctx context.Context, id string) (models.Delivery, error) {
	var d models.Delivery
	if err := s.db.GetContext(ctx, &d, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id); err != nil {
		return models.Delivery{}, fmt.Errorf("get delivery %s: %w", id, mapError(err))
	}
	return d, nil
}

// ListDeliveriesForUser returns deliveries where the user is builder or
// provider, newest first. An empty userID lists everything.
func (s *Store) ListDeliveriesForUser(ctx context.Context, userID string) ([]models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries`
	var args []any
	if userID != "" {
		query += ` WHERE builder_id = $1 OR provider_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id`

	var out []models.Delivery
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", mapError(err))
	}
	return out, nil
}

// RecordTrackingUpdate stores a tracking update and applies it to the
// delivery. When the update carries a status different from expected the
// delivery is moved expected -> update.Status; otherwise only the position
// changes and the delivery must still be in expected.
func (s *Store) RecordTrackingUpdate(ctx context.Context, expected models.DeliveryStatus, update models.TrackingUpdate) (models.Delivery, error) {
	var d models.Delivery
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		set := "status = $3, updated_at = $4, current_lat = COALESCE($5, current_lat), current_lng = COALESCE($6, current_lng)"
		switch update.Status {
		case models.DeliveryPickedUp:
			if expected != update.Status {
				set += ", picked_up_at = $4"
			}
		case models.DeliveryDelivered:
			set += ", delivered_at = $4"
		}

		err := tx.GetContext(ctx, &d, `
			UPDATE deliveries SET `+set+`
			WHERE id = $1 AND status = $2
			RETURNING `+deliveryColumns,
			update.DeliveryID, expected, update.Status, update.RecordedAt, update.Latitude, update.Longitude)
		if err != nil {
			err = mapError(err)
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("%w: delivery %s is not %s", models.ErrInvalidTransition, update.DeliveryID, expected)
			}
			return fmt.Errorf("update delivery %s: %w", update.DeliveryID, err)
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO tracking_updates (id, delivery_id, status, latitude, longitude, note, recorded_at)
			VALUES (:id, :delivery_id, :status, :latitude, :longitude, :note, :recorded_at)`, update)
		if err != nil {
			return fmt.Errorf("insert tracking update: %w", mapError(err))
		}
		return nil
	})
	return d, err
}

// ListTrackingUpdates returns a delivery's history in recording order.
func (s *Store) ListTrackingUpdates(ctx context.Context, deliveryID string) ([]models.TrackingUpdate, error) {
	var out []models.TrackingUpdate
	err := s.db.SelectContext(ctx, &out, `SELECT `+trackingColumns+` FROM tracking_updates
		WHERE delivery_id = $1 ORDER BY recorded_at, id`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("list tracking updates: %w", mapError(err))
	}
	return out, nil
}
