package qrcodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/realtime"
)

// Store is the persistence the QR code service needs.
type Store interface {
	GetPurchaseOrder(ctx context.Context, id string) (models.PurchaseOrder, error)
	CreateQRCodes(ctx context.Context, codes []models.QRCode) error
	ListQRCodesBySupplier(ctx context.Context, supplierID string, status models.QRStatus) ([]models.QRCode, error)
	GetQRCode(ctx context.Context, code string) (models.QRCode, error)
	TransitionQRCode(ctx context.Context, code string, from, to models.QRStatus, scannedBy *string, at time.Time) (models.QRCode, error)
}

// Service labels ordered material and tracks the labels as they are scanned.
type Service struct {
	store     Store
	publisher realtime.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewService wires a new QR code service instance.
func NewService(store Store, publisher realtime.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		publisher: realtime.OrNop(publisher),
		now:       time.Now,
		logger:    logger,
	}
}

// GenerateQRCodes creates one code per line of the supplier's order. An order
// only gets one live set of labels; voiding them all allows a new set.
func (s *Service) GenerateQRCodes(ctx context.Context, actor models.Actor, purchaseOrderID string) ([]models.QRCode, error) {
	if actor.Role != models.RoleSupplier {
		return nil, fmt.Errorf("%w: only suppliers generate qr codes", models.ErrForbidden)
	}
	po, err := s.store.GetPurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.SupplierID != actor.UserID {
		return nil, fmt.Errorf("%w: order %s belongs to another supplier", models.ErrForbidden, po.Number)
	}
	if !po.Status.Invoiceable() {
		return nil, fmt.Errorf("%w: order %s is %s", models.ErrInvalidTransition, po.Number, po.Status)
	}

	existing, err := s.store.ListQRCodesBySupplier(ctx, actor.UserID, "")
	if err != nil {
		return nil, err
	}
	for _, c := range existing {
		if c.PurchaseOrderID == po.ID && c.Status != models.QRVoid {
			return nil, fmt.Errorf("%w: order %s already has qr codes", models.ErrConflict, po.Number)
		}
	}

	now := s.now().UTC()
	codes := make([]models.QRCode, 0, len(po.Items))
	for _, item := range po.Items {
		codes = append(codes, models.QRCode{
			ID:              models.NewID(),
			Code:            models.NewQRCodeValue(),
			SupplierID:      po.SupplierID,
			BuilderID:       po.BuilderID,
			PurchaseOrderID: po.ID,
			MaterialID:      item.MaterialID,
			Description:     item.Description,
			Quantity:        item.Quantity,
			Status:          models.QRGenerated,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	if err := s.store.CreateQRCodes(ctx, codes); err != nil {
		return nil, err
	}

	s.logger.Info("qr codes generated", zap.String("purchase_order", po.Number), zap.Int("count", len(codes)))
	for _, c := range codes {
		s.publish(realtime.EventInsert, c)
	}
	return codes, nil
}

// GetSupplierQRCodes lists the supplier's codes, newest first.
func (s *Service) GetSupplierQRCodes(ctx context.Context, actor models.Actor, status models.QRStatus) ([]models.QRCode, error) {
	if actor.Role != models.RoleSupplier {
		return nil, fmt.Errorf("%w: only suppliers list qr codes", models.ErrForbidden)
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown qr status %q", models.ErrValidation, status)
	}
	codes, err := s.store.ListQRCodesBySupplier(ctx, actor.UserID, status)
	if err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []models.QRCode{}
	}
	return codes, nil
}

// UpdateQRStatus moves a code along its lifecycle. Suppliers dispatch and void
// their own codes; the ordering builder scans them as received and verified.
func (s *Service) UpdateQRStatus(ctx context.Context, actor models.Actor, code string, to models.QRStatus) (models.QRCode, error) {
	if !to.Valid() {
		return models.QRCode{}, fmt.Errorf("%w: unknown qr status %q", models.ErrValidation, to)
	}
	current, err := s.store.GetQRCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return models.QRCode{}, err
	}

	var scannedBy *string
	switch {
	case actor.IsAdmin():
	case to.SupplierSide():
		if actor.UserID != current.SupplierID {
			return models.QRCode{}, fmt.Errorf("%w: only the issuing supplier may set %s", models.ErrForbidden, to)
		}
	default:
		if actor.UserID != current.BuilderID {
			return models.QRCode{}, fmt.Errorf("%w: only the ordering builder may set %s", models.ErrForbidden, to)
		}
	}
	if !to.SupplierSide() {
		id := actor.UserID
		scannedBy = &id
	}

	if !current.Status.CanTransition(to) {
		return models.QRCode{}, fmt.Errorf("%w: qr code %s cannot go from %s to %s", models.ErrInvalidTransition, current.Code, current.Status, to)
	}

	updated, err := s.store.TransitionQRCode(ctx, current.Code, current.Status, to, scannedBy, s.now().UTC())
	if err != nil {
		return models.QRCode{}, err
	}
	s.logger.Info("qr code status changed",
		zap.String("code", updated.Code),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)),
		zap.String("actor_id", actor.UserID))
	s.publish(realtime.EventUpdate, updated)
	return updated, nil
}

// LookupQRCode resolves a scanned code for a party of its order.
func (s *Service) LookupQRCode(ctx context.Context, actor models.Actor, code string) (models.QRCode, error) {
	qr, err := s.store.GetQRCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return models.QRCode{}, err
	}
	if !actor.IsAdmin() && actor.UserID != qr.SupplierID && actor.UserID != qr.BuilderID {
		return models.QRCode{}, fmt.Errorf("%w: qr code %s", models.ErrNotFound, qr.Code)
	}
	return qr, nil
}

func (s *Service) publish(kind realtime.EventType, qr models.QRCode) {
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TableQRCodes,
		Type:     kind,
		RecordID: qr.ID,
		Record:   qr,
		Audience: qr.Audience(),
	})
}
