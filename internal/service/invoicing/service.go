package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/realtime"
)

// Store is the persistence the invoicing service needs.
type Store interface {
	GetPurchaseOrder(ctx context.Context, id string) (models.PurchaseOrder, error)
	CreateInvoice(ctx context.Context, inv models.Invoice) error
	GetInvoice(ctx context.Context, id string) (models.Invoice, error)
	ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, error)
	TransitionInvoice(ctx context.Context, id string, from, to models.InvoiceStatus, at time.Time) (models.Invoice, error)
	MarkOverdueInvoices(ctx context.Context, now time.Time) ([]models.Invoice, error)
}

// Ledger receives a copy of sent and paid invoices. It is optional.
type Ledger interface {
	AppendInvoice(ctx context.Context, inv models.Invoice) error
	AppendPayment(ctx context.Context, inv models.Invoice) error
}

// Service bills builders for the materials on their orders.
type Service struct {
	store     Store
	ledger    Ledger
	publisher realtime.Publisher
	taxRate   decimal.Decimal
	terms     time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewService wires a new invoicing service instance. ledger may be nil.
func NewService(store Store, ledger Ledger, publisher realtime.Publisher, cfg config.InvoicingConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rate, err := decimal.NewFromString(cfg.DefaultTaxRate)
	if err != nil {
		return nil, fmt.Errorf("parse default tax rate: %w", err)
	}
	return &Service{
		store:     store,
		ledger:    ledger,
		publisher: realtime.OrNop(publisher),
		taxRate:   rate,
		terms:     time.Duration(cfg.PaymentTermDays) * 24 * time.Hour,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// CreateInvoice drafts an invoice against one of the supplier's orders.
func (s *Service) CreateInvoice(ctx context.Context, actor models.Actor, req models.CreateInvoiceRequest) (models.Invoice, error) {
	po, err := s.store.GetPurchaseOrder(ctx, req.PurchaseOrderID)
	if err != nil {
		return models.Invoice{}, err
	}
	if actor.UserID != po.SupplierID {
		return models.Invoice{}, fmt.Errorf("%w: only the order's supplier can invoice it", models.ErrForbidden)
	}
	if !po.Status.Invoiceable() {
		return models.Invoice{}, fmt.Errorf("%w: order %s is %s", models.ErrInvalidTransition, po.Number, po.Status)
	}

	items := req.Items
	if len(items) == 0 {
		items = po.Items
	}
	if err := items.Validate(); err != nil {
		return models.Invoice{}, err
	}
	for i, item := range items {
		if _, ok := po.Items.Find(item.MaterialID); !ok {
			return models.Invoice{}, fmt.Errorf("%w: items[%d] material %q is not on the order", models.ErrValidation, i, item.MaterialID)
		}
	}

	rate := s.taxRate
	if req.TaxRate != nil {
		rate = *req.TaxRate
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return models.Invoice{}, fmt.Errorf("%w: tax_rate must be between 0 and 1", models.ErrValidation)
	}

	now := s.now().UTC()
	due := now.Add(s.terms)
	if req.DueDate != nil {
		if req.DueDate.Before(now) {
			return models.Invoice{}, fmt.Errorf("%w: due_date is in the past", models.ErrValidation)
		}
		due = req.DueDate.UTC()
	}

	inv := models.Invoice{
		ID:              models.NewID(),
		Number:          models.DocumentNumber(models.PrefixInvoice, now),
		PurchaseOrderID: po.ID,
		SupplierID:      po.SupplierID,
		BuilderID:       po.BuilderID,
		Items:           items,
		TaxRate:         rate,
		Status:          models.InvoiceDraft,
		Notes:           req.Notes,
		IssuedAt:        now,
		DueDate:         due,
		UpdatedAt:       now,
	}
	inv.ComputeTotals()

	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return models.Invoice{}, err
	}

	s.logger.Info("invoice drafted",
		zap.String("invoice", inv.Number),
		zap.String("po", po.Number),
		zap.String("total", inv.Total.StringFixed(2)))
	s.publish(realtime.EventInsert, inv)
	return inv, nil
}

// SendInvoice issues a draft to the builder and mirrors it to the ledger.
func (s *Service) SendInvoice(ctx context.Context, actor models.Actor, id string) (models.Invoice, error) {
	inv, err := s.supplierInvoice(ctx, actor, id)
	if err != nil {
		return models.Invoice{}, err
	}
	sent, err := s.transition(ctx, inv, models.InvoiceSent)
	if err != nil {
		return models.Invoice{}, err
	}
	if s.ledger != nil {
		if err := s.ledger.AppendInvoice(ctx, sent); err != nil {
			s.logger.Warn("invoice ledger export failed", zap.String("invoice", sent.Number), zap.Error(err))
		}
	}
	return sent, nil
}

// MarkInvoicePaid records payment of a sent or overdue invoice.
func (s *Service) MarkInvoicePaid(ctx context.Context, actor models.Actor, id string) (models.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return models.Invoice{}, err
	}
	if !actor.IsAdmin() && actor.UserID != inv.SupplierID {
		return models.Invoice{}, fmt.Errorf("%w: only the supplier can record payment", models.ErrForbidden)
	}
	paid, err := s.transition(ctx, inv, models.InvoicePaid)
	if err != nil {
		return models.Invoice{}, err
	}
	if s.ledger != nil {
		if err := s.ledger.AppendPayment(ctx, paid); err != nil {
			s.logger.Warn("invoice ledger export failed", zap.String("invoice", paid.Number), zap.Error(err))
		}
	}
	return paid, nil
}

// CancelInvoice voids a draft or sent invoice.
func (s *Service) CancelInvoice(ctx context.Context, actor models.Actor, id string) (models.Invoice, error) {
	inv, err := s.supplierInvoice(ctx, actor, id)
	if err != nil {
		return models.Invoice{}, err
	}
	return s.transition(ctx, inv, models.InvoiceCancelled)
}

// MarkOverdueInvoices flags sent invoices past their due date.
func (s *Service) MarkOverdueInvoices(ctx context.Context) (int, error) {
	overdue, err := s.store.MarkOverdueInvoices(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	for _, inv := range overdue {
		s.logger.Info("invoice overdue", zap.String("invoice", inv.Number), zap.Time("due_date", inv.DueDate))
		s.publish(realtime.EventUpdate, inv)
	}
	return len(overdue), nil
}

// GetInvoice returns an invoice visible to the actor.
func (s *Service) GetInvoice(ctx context.Context, actor models.Actor, id string) (models.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return models.Invoice{}, err
	}
	if !actor.IsAdmin() && actor.UserID != inv.SupplierID && actor.UserID != inv.BuilderID {
		return models.Invoice{}, fmt.Errorf("%w: not a party to invoice %s", models.ErrForbidden, id)
	}
	// Drafts stay private to the supplier until sent.
	if inv.Status == models.InvoiceDraft && actor.UserID == inv.BuilderID {
		return models.Invoice{}, fmt.Errorf("invoice %s: %w", id, models.ErrNotFound)
	}
	return inv, nil
}

// ListInvoices returns the actor's invoices, optionally by status.
func (s *Service) ListInvoices(ctx context.Context, actor models.Actor, status models.InvoiceStatus) ([]models.Invoice, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, status)
	}
	filter := models.InvoiceFilter{Status: status}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleSupplier:
		filter.SupplierID = actor.UserID
	case models.RoleBuilder:
		filter.BuilderID = actor.UserID
	default:
		return nil, fmt.Errorf("%w: %s cannot list invoices", models.ErrForbidden, actor.Role)
	}

	invoices, err := s.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleBuilder {
		return invoices, nil
	}
	visible := invoices[:0]
	for _, inv := range invoices {
		if inv.Status != models.InvoiceDraft {
			visible = append(visible, inv)
		}
	}
	return visible, nil
}

func (s *Service) supplierInvoice(ctx context.Context, actor models.Actor, id string) (models.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return models.Invoice{}, err
	}
	if actor.UserID != inv.SupplierID {
		return models.Invoice{}, fmt.Errorf("%w: only the issuing supplier can change invoice %s", models.ErrForbidden, id)
	}
	return inv, nil
}

func (s *Service) transition(ctx context.Context, inv models.Invoice, to models.InvoiceStatus) (models.Invoice, error) {
	if !inv.Status.CanTransition(to) {
		return models.Invoice{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, inv.Status, to)
	}
	updated, err := s.store.TransitionInvoice(ctx, inv.ID, inv.Status, to, s.now().UTC())
	if err != nil {
		return models.Invoice{}, err
	}
	s.logger.Info("invoice transitioned",
		zap.String("invoice", updated.Number),
		zap.String("from", string(inv.Status)),
		zap.String("to", string(to)))
	s.publish(realtime.EventUpdate, updated)
	return updated, nil
}

func (s *Service) publish(kind realtime.EventType, inv models.Invoice) {
	audience := []string{inv.SupplierID}
	if inv.Status != models.InvoiceDraft {
		audience = inv.Audience()
	}
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TableInvoices,
		Type:     kind,
		RecordID: inv.ID,
		Record:   inv,
		Audience: audience,
	})
}
