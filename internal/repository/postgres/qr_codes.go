package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const qrColumns = `id, code, supplier_id, builder_id, purchase_order_id, material_id, description, quantity,
	status, scanned_by, scanned_at, created_at, updated_at`

// CreateQRCodes inserts a batch of codes.
func (s *Store) CreateQRCodes(ctx context.Context, codes []models.QRCode) error {
	if len(codes) == 0 {
		return nil
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO qr_codes (id, code, supplier_id, builder_id, purchase_order_id, material_id, description,
			quantity, status, created_at, updated_at)
		VALUES (:id, :code, :supplier_id, :builder_id, :purchase_order_id, :material_id, :description,
			:quantity, :status, :created_at, :updated_at)`, codes)
	if err != nil {
		return fmt.Errorf("insert qr codes: %w", mapError(err))
	}
	return nil
}

// ListQRCodesBySupplier returns a supplier's codes, optionally filtered by status.
func (s *Store) ListQRCodesBySupplier(ctx context.Context, supplierID string, status models.QRStatus) ([]models.QRCode, error) {
	query := `SELECT ` + qrColumns + ` FROM qr_codes WHERE supplier_id = $1`
	args := []any{supplierID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, code`

	var out []models.QRCode
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list qr codes: %w", mapError(err))
	}
	return out, nil
}

// GetQRCode loads a code by its printed value.
func (s *Store) GetQRCode(ctx context.Context, code string) (models.QRCode, error) {
	var q models.QRCode
	if err := s.db.GetContext(ctx, &q, `SELECT `+qrColumns+` FROM qr_codes WHERE code = $1`, code); err != nil {
		return models.QRCode{}, fmt.Errorf("get qr code %s: %w", code, mapError(err))
	}
	return q, nil
}

// TransitionQRCode moves a code between statuses. scannedBy is recorded when non-nil.
func (s *Store) TransitionQRCode(ctx context.Context, code string, from, to models.QRStatus, scannedBy *string, at time.Time) (models.QRCode, error) {
	var q models.QRCode
	err := s.db.GetContext(ctx, &q, `
		UPDATE qr_codes SET status = $3, updated_at = $4,
			scanned_by = COALESCE($5, scanned_by),
			scanned_at = CASE WHEN $5::TEXT IS NULL THEN scanned_at ELSE $4 END
		WHERE code = $1 AND status = $2
		RETURNING `+qrColumns, code, from, to, at, scannedBy)
	if err != nil {
		err = mapError(err)
		if errors.Is(err, models.ErrNotFound) {
			return models.QRCode{}, fmt.Errorf("%w: qr code %s is not %s", models.ErrInvalidTransition, code, from)
		}
		return models.QRCode{}, fmt.Errorf("transition qr code %s: %w", code, err)
	}
	return q, nil
}
