package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const requestColumns = `id, builder_id, purchase_order_id, pickup_address, pickup_lat, pickup_lng,
	dropoff_address, dropoff_lat, dropoff_lng, material_summary, weight_kg, vehicle_type, status,
	assigned_provider_id, created_at, updated_at`

const entryColumns = `id, request_id, provider_id, position, distance_km, status, offered_at, expires_at,
	responded_at`

// CreateDeliveryRequest inserts a new request.
func (s *Store) CreateDeliveryRequest(ctx context.Context, req models.DeliveryRequest) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO delivery_requests (id, builder_id, purchase_order_id, pickup_address, pickup_lat, pickup_lng,
			dropoff_address, dropoff_lat, dropoff_lng, material_summary, weight_kg, vehicle_type, status,
			created_at, updated_at)
		VALUES (:id, :builder_id, :purchase_order_id, :pickup_address, :pickup_lat, :pickup_lng,
			:dropoff_address, :dropoff_lat, :dropoff_lng, :material_summary, :weight_kg, :vehicle_type, :status,
			:created_at, :updated_at)`, req)
	if err != nil {
		return fmt.Errorf("insert delivery request: %w", mapError(err))
	}
	return nil
}

// GetDeliveryRequest loads a request by id.
func (s *Store) GetDeliveryRequest(ctx context.Context, id string) (models.DeliveryRequest, error) {
	var req models.DeliveryRequest
	if err := s.db.GetContext(ctx, &req, `SELECT `+requestColumns+` FROM delivery_requests WHERE id = $1`, id); err != nil {
		return models.DeliveryRequest{}, fmt.Errorf("get delivery request %s: %w", id, mapError(err))
	}
	return req, nil
}

// CreateRotationEntries persists a request's queue. A request only ever gets
// one queue; a second call fails with ErrConflict.
func (s *Store) CreateRotationEntries(ctx context.Context, requestID string, entries []models.RotationEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var existing int
		if err := tx.GetContext(ctx, &existing, `SELECT COUNT(*) FROM rotation_entries WHERE request_id = $1`, requestID); err != nil {
			return fmt.Errorf("count rotation entries: %w", mapError(err))
		}
		if existing > 0 {
			return fmt.Errorf("%w: rotation queue for %s already exists", models.ErrConflict, requestID)
		}
		if len(entries) == 0 {
			return nil
		}

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO rotation_entries (id, request_id, provider_id, position, distance_km, status)
			VALUES (:id, :request_id, :provider_id, :position, :distance_km, :status)`, entries)
		if err != nil {
			return fmt.Errorf("insert rotation entries: %w", mapError(err))
		}
		return nil
	})
}

// ListRotationEntries returns a request's queue in position order.
func (s *Store) ListRotationEntries(ctx context.Context, requestID string) ([]models.RotationEntry, error) {
	var out []models.RotationEntry
	err := s.db.SelectContext(ctx, &out, `SELECT `+entryColumns+` FROM rotation_entries
		WHERE request_id = $1 ORDER BY position`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list rotation entries: %w", mapError(err))
	}
	return out, nil
}

// PromoteNextEntry offers the request to the lowest queued entry. When the
// queue is exhausted the request becomes no_provider and entry is nil. A
// request that is no longer open is left untouched and reported with
// ErrInvalidTransition.
func (s *Store) PromoteNextEntry(ctx context.Context, requestID string, now, expiresAt time.Time) (*models.RotationEntry, models.DeliveryRequest, error) {
	var (
		entry *models.RotationEntry
		req   models.DeliveryRequest
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &req, `SELECT `+requestColumns+` FROM delivery_requests WHERE id = $1 FOR UPDATE`, requestID); err != nil {
			return fmt.Errorf("lock delivery request %s: %w", requestID, mapError(err))
		}
		if !req.Status.Open() {
			return fmt.Errorf("%w: delivery request %s is %s", models.ErrInvalidTransition, requestID, req.Status)
		}

		var active int
		if err := tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM rotation_entries
			WHERE request_id = $1 AND status = 'offered'`, requestID); err != nil {
			return fmt.Errorf("count active offers: %w", mapError(err))
		}
		if active > 0 {
			return fmt.Errorf("%w: delivery request %s already has an active offer", models.ErrConflict, requestID)
		}

		var next models.RotationEntry
		err := tx.GetContext(ctx, &next, `
			UPDATE rotation_entries SET status = 'offered', offered_at = $2, expires_at = $3
			WHERE id = (
				SELECT id FROM rotation_entries
				WHERE request_id = $1 AND status = 'queued'
				ORDER BY position
				LIMIT 1
			)
			RETURNING `+entryColumns, requestID, now, expiresAt)
		nextStatus := models.RequestOffered
		switch {
		case err == nil:
			entry = &next
		case errors.Is(mapError(err), models.ErrNotFound):
			nextStatus = models.RequestNoProvider
		default:
			return fmt.Errorf("promote rotation entry: %w", mapError(err))
		}

		err = tx.GetContext(ctx, &req, `UPDATE delivery_requests SET status = $2, updated_at = $3
			WHERE id = $1 RETURNING `+requestColumns, requestID, nextStatus, now)
		if err != nil {
			return fmt.Errorf("update delivery request status: %w", mapError(err))
		}
		return nil
	})
	if err != nil {
		return nil, models.DeliveryRequest{}, err
	}
	return entry, req, nil
}

// claimOffer resolves the provider's active unexpired offer on a request.
func claimOffer(ctx context.Context, tx *sqlx.Tx, requestID, providerID string, to models.EntryStatus, now time.Time) (models.RotationEntry, error) {
	var entry models.RotationEntry
	err := tx.GetContext(ctx, &entry, `
		UPDATE rotation_entries SET status = $3, responded_at = $4
		WHERE request_id = $1 AND provider_id = $2 AND status = 'offered' AND expires_at > $4
		RETURNING `+entryColumns, requestID, providerID, to, now)
	if err != nil {
		err = mapError(err)
		if errors.Is(err, models.ErrNotFound) {
			return models.RotationEntry{}, fmt.Errorf("%w: provider %s has no active offer on %s", models.ErrOfferNotActive, providerID, requestID)
		}
		return models.RotationEntry{}, fmt.Errorf("claim offer: %w", err)
	}
	return entry, nil
}

func insertResponse(ctx context.Context, tx *sqlx.Tx, resp models.ProviderResponse) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO provider_responses (id, request_id, provider_id, response, reason, responded_at)
		VALUES (:id, :request_id, :provider_id, :response, :reason, :responded_at)`, resp)
	if err != nil {
		return fmt.Errorf("insert provider response: %w", mapError(err))
	}
	return nil
}

// AcceptOffer records an acceptance, skips the remaining queue, assigns the
// request and creates the delivery, all or nothing.
func (s *Store) AcceptOffer(ctx context.Context, resp models.ProviderResponse, delivery models.Delivery) (models.DeliveryRequest, error) {
	var req models.DeliveryRequest
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := claimOffer(ctx, tx, resp.RequestID, resp.ProviderID, models.EntryAccepted, resp.RespondedAt); err != nil {
			return err
		}
		if err := insertResponse(ctx, tx, resp); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE rotation_entries SET status = 'skipped'
			WHERE request_id = $1 AND status = 'queued'`, resp.RequestID); err != nil {
			return fmt.Errorf("skip remaining entries: %w", mapError(err))
		}

		err := tx.GetContext(ctx, &req, `
			UPDATE delivery_requests SET status = 'accepted', assigned_provider_id = $2, updated_at = $3
			WHERE id = $1 AND status = 'offered'
			RETURNING `+requestColumns, resp.RequestID, resp.ProviderID, resp.RespondedAt)
		if err != nil {
			err = mapError(err)
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("%w: delivery request %s is no longer open", models.ErrOfferNotActive, resp.RequestID)
			}
			return fmt.Errorf("assign delivery request: %w", err)
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO deliveries (id, tracking_number, delivery_request_id, builder_id, provider_id,
				purchase_order_id, pickup_address, dropoff_address, status, created_at, updated_at)
			VALUES (:id, :tracking_number, :delivery_request_id, :builder_id, :provider_id,
				:purchase_order_id, :pickup_address, :dropoff_address, :status, :created_at, :updated_at)`, delivery)
		if err != nil {
			return fmt.Errorf("insert delivery: %w", mapError(err))
		}
		return nil
	})
	return req, err
}

// DeclineOffer records a decline and frees the request for the next provider.
func (s *Store) DeclineOffer(ctx context.Context, resp models.ProviderResponse) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := claimOffer(ctx, tx, resp.RequestID, resp.ProviderID, models.EntryDeclined, resp.RespondedAt); err != nil {
			return err
		}
		return insertResponse(ctx, tx, resp)
	})
}

// ExpireOffers marks every offer whose deadline passed as expired and returns them.
func (s *Store) ExpireOffers(ctx context.Context, now time.Time) ([]models.RotationEntry, error) {
	var out []models.RotationEntry
	err := s.db.SelectContext(ctx, &out, `
		UPDATE rotation_entries SET status = 'expired', responded_at = $1
		WHERE status = 'offered' AND expires_at <= $1
		RETURNING `+entryColumns, now)
	if err != nil {
		return nil, fmt.Errorf("expire offers: %w", mapError(err))
	}
	return out, nil
}

// CancelDeliveryRequest cancels an open request and skips its remaining queue.
func (s *Store) CancelDeliveryRequest(ctx context.Context, id string, now time.Time) (models.DeliveryRequest, error) {
	var req models.DeliveryRequest
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &req, `
			UPDATE delivery_requests SET status = 'cancelled', updated_at = $2
			WHERE id = $1 AND status IN ('pending', 'offered')
			RETURNING `+requestColumns, id, now)
		if err != nil {
			err = mapError(err)
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("%w: delivery request %s is not open", models.ErrInvalidTransition, id)
			}
			return fmt.Errorf("cancel delivery request: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE rotation_entries SET status = 'skipped', responded_at = $2
			WHERE request_id = $1 AND status IN ('queued', 'offered')`, id, now); err != nil {
			return fmt.Errorf("skip rotation entries: %w", mapError(err))
		}
		return nil
	})
	return req, err
}

// ListActiveOffers returns the unexpired offers a provider currently holds.
func (s *Store) ListActiveOffers(ctx context.Context, providerID string, now time.Time) ([]models.Offer, error) {
	var entries []models.RotationEntry
	err := s.db.SelectContext(ctx, &entries, `SELECT `+entryColumns+` FROM rotation_entries
		WHERE provider_id = $1 AND status = 'offered' AND expires_at > $2
		ORDER BY offered_at`, providerID, now)
	if err != nil {
		return nil, fmt.Errorf("list active offers: %w", mapError(err))
	}

	offers := make([]models.Offer, 0, len(entries))
	for _, entry := range entries {
		req, err := s.GetDeliveryRequest(ctx, entry.RequestID)
		if err != nil {
			return nil, err
		}
		offers = append(offers, models.Offer{Request: req, Entry: entry})
	}
	return offers, nil
}
