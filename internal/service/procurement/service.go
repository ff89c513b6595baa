package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/realtime"
)

// Store is the persistence the procurement service needs.
type Store interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)

	CreatePurchaseOrder(ctx context.Context, po models.PurchaseOrder) error
	GetPurchaseOrder(ctx context.Context, id string) (models.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, filter models.OrderFilter) ([]models.PurchaseOrder, error)
	TransitionPurchaseOrder(ctx context.Context, id string, from, to models.OrderStatus, at time.Time) (models.PurchaseOrder, error)

	CreateDeliveryNote(ctx context.Context, note models.DeliveryNote) (models.PurchaseOrder, error)
	GetDeliveryNote(ctx context.Context, id string) (models.DeliveryNote, error)
	ListDeliveryNotes(ctx context.Context, purchaseOrderID string) ([]models.DeliveryNote, error)

	CreateGoodsReceivedNote(ctx context.Context, grn models.GoodsReceivedNote) (models.PurchaseOrder, error)
	ListGoodsReceivedNotes(ctx context.Context, purchaseOrderID string) ([]models.GoodsReceivedNote, error)
}

// Service implements the purchase order, delivery note and goods received
// workflows between builders and suppliers.
type Service struct {
	store     Store
	publisher realtime.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewService wires a new procurement service instance.
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

// CreatePurchaseOrder places a new order from a builder to a supplier.
func (s *Service) CreatePurchaseOrder(ctx context.Context, actor models.Actor, req models.CreatePurchaseOrderRequest) (models.PurchaseOrder, error) {
	if actor.Role != models.RoleBuilder {
		return models.PurchaseOrder{}, fmt.Errorf("%w: only builders place orders", models.ErrForbidden)
	}
	if err := req.Items.Validate(); err != nil {
		return models.PurchaseOrder{}, err
	}
	if strings.TrimSpace(req.DeliveryAddress) == "" {
		return models.PurchaseOrder{}, fmt.Errorf("%w: delivery_address is required", models.ErrValidation)
	}

	supplier, err := s.store.GetProfile(ctx, req.SupplierID)
	if errors.Is(err, models.ErrNotFound) {
		return models.PurchaseOrder{}, fmt.Errorf("%w: supplier %s does not exist", models.ErrValidation, req.SupplierID)
	}
	if err != nil {
		return models.PurchaseOrder{}, err
	}
	if supplier.Role != models.RoleSupplier {
		return models.PurchaseOrder{}, fmt.Errorf("%w: %s is not a supplier", models.ErrValidation, req.SupplierID)
	}

	now := s.now().UTC()
	po := models.PurchaseOrder{
		ID:              models.NewID(),
		Number:          models.DocumentNumber(models.PrefixPurchaseOrder, now),
		BuilderID:       actor.UserID,
		SupplierID:      supplier.ID,
		Status:          models.OrderPending,
		Items:           req.Items,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		RequiredBy:      req.RequiredBy,
		Notes:           req.Notes,
		Subtotal:        req.Items.Subtotal().Round(2),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreatePurchaseOrder(ctx, po); err != nil {
		return models.PurchaseOrder{}, err
	}

	s.logger.Info("purchase order created",
		zap.String("po", po.Number),
		zap.String("builder_id", po.BuilderID),
		zap.String("supplier_id", po.SupplierID),
		zap.String("subtotal", po.Subtotal.StringFixed(2)))
	s.publishOrder(realtime.EventInsert, po)
	return po, nil
}

// ConfirmPurchaseOrder is the supplier accepting a pending order.
func (s *Service) ConfirmPurchaseOrder(ctx context.Context, actor models.Actor, id string) (models.PurchaseOrder, error) {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return models.PurchaseOrder{}, err
	}
	if actor.UserID != po.SupplierID {
		return models.PurchaseOrder{}, fmt.Errorf("%w: only the order's supplier can confirm it", models.ErrForbidden)
	}
	return s.transition(ctx, po, models.OrderConfirmed)
}

// CancelPurchaseOrder cancels an order. Builders may cancel until dispatch;
// suppliers may only reject a pending order.
func (s *Service) CancelPurchaseOrder(ctx context.Context, actor models.Actor, id string) (models.PurchaseOrder, error) {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return models.PurchaseOrder{}, err
	}
	switch {
	case actor.IsAdmin(), actor.UserID == po.BuilderID:
	case actor.UserID == po.SupplierID:
		if po.Status != models.OrderPending {
			return models.PurchaseOrder{}, fmt.Errorf("%w: suppliers can only reject pending orders", models.ErrInvalidTransition)
		}
	default:
		return models.PurchaseOrder{}, fmt.Errorf("%w: not a party to order %s", models.ErrForbidden, id)
	}
	return s.transition(ctx, po, models.OrderCancelled)
}

// CompletePurchaseOrder closes a delivered order.
func (s *Service) CompletePurchaseOrder(ctx context.Context, actor models.Actor, id string) (models.PurchaseOrder, error) {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return models.PurchaseOrder{}, err
	}
	if actor.UserID != po.BuilderID {
		return models.PurchaseOrder{}, fmt.Errorf("%w: only the order's builder can complete it", models.ErrForbidden)
	}
	return s.transition(ctx, po, models.OrderCompleted)
}

// GetPurchaseOrder returns an order visible to the actor.
func (s *Service) GetPurchaseOrder(ctx context.Context, actor models.Actor, id string) (models.PurchaseOrder, error) {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return models.PurchaseOrder{}, err
	}
	if !actor.IsAdmin() && !po.IsParty(actor) {
		return models.PurchaseOrder{}, fmt.Errorf("%w: not a party to order %s", models.ErrForbidden, id)
	}
	return po, nil
}

// ListPurchaseOrders returns the actor's orders, optionally by status.
func (s *Service) ListPurchaseOrders(ctx context.Context, actor models.Actor, status models.OrderStatus) ([]models.PurchaseOrder, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, status)
	}
	filter := models.OrderFilter{Status: status}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleBuilder:
		filter.BuilderID = actor.UserID
	case models.RoleSupplier:
		filter.SupplierID = actor.UserID
	default:
		return nil, fmt.Errorf("%w: %s cannot list orders", models.ErrForbidden, actor.Role)
	}
	return s.store.ListPurchaseOrders(ctx, filter)
}

func (s *Service) transition(ctx context.Context, po models.PurchaseOrder, to models.OrderStatus) (models.PurchaseOrder, error) {
	if !po.Status.CanTransition(to) {
		return models.PurchaseOrder{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, po.Status, to)
	}
	updated, err := s.store.TransitionPurchaseOrder(ctx, po.ID, po.Status, to, s.now().UTC())
	if err != nil {
		return models.PurchaseOrder{}, err
	}
	s.logger.Info("purchase order transitioned",
		zap.String("po", updated.Number),
		zap.String("from", string(po.Status)),
		zap.String("to", string(to)))
	s.publishOrder(realtime.EventUpdate, updated)
	return updated, nil
}

// CreateDeliveryNote records a dispatch against a confirmed order and moves
// the order to dispatched.
func (s *Service) CreateDeliveryNote(ctx context.Context, actor models.Actor, req models.CreateDeliveryNoteRequest) (models.DeliveryNote, error) {
	po, err := s.store.GetPurchaseOrder(ctx, req.PurchaseOrderID)
	if err != nil {
		return models.DeliveryNote{}, err
	}
	if actor.UserID != po.SupplierID {
		return models.DeliveryNote{}, fmt.Errorf("%w: only the order's supplier can dispatch it", models.ErrForbidden)
	}
	if po.Status != models.OrderConfirmed {
		return models.DeliveryNote{}, fmt.Errorf("%w: order %s is %s, delivery notes need a confirmed order", models.ErrInvalidTransition, po.Number, po.Status)
	}

	items, err := dispatchLines(po.Items, req.Items)
	if err != nil {
		return models.DeliveryNote{}, err
	}

	now := s.now().UTC()
	note := models.DeliveryNote{
		ID:                  models.NewID(),
		Number:              models.DocumentNumber(models.PrefixDeliveryNote, now),
		PurchaseOrderID:     po.ID,
		SupplierID:          po.SupplierID,
		BuilderID:           po.BuilderID,
		DeliveryID:          req.DeliveryID,
		Items:               items,
		Status:              models.NoteDispatched,
		VehicleRegistration: strings.ToUpper(strings.TrimSpace(req.VehicleRegistration)),
		DriverName:          strings.TrimSpace(req.DriverName),
		Notes:               req.Notes,
		DispatchedAt:        now,
	}

	updated, err := s.store.CreateDeliveryNote(ctx, note)
	if err != nil {
		return models.DeliveryNote{}, err
	}

	s.logger.Info("delivery note issued", zap.String("dn", note.Number), zap.String("po", updated.Number))
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TableDeliveryNotes,
		Type:     realtime.EventInsert,
		RecordID: note.ID,
		Record:   note,
		Audience: note.Audience(),
	})
	s.publishOrder(realtime.EventUpdate, updated)
	return note, nil
}

// dispatchLines checks requested dispatch lines against the order and fills
// description and unit from it.
func dispatchLines(ordered models.LineItems, requested models.DispatchedItems) (models.DispatchedItems, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", models.ErrValidation)
	}
	seen := make(map[string]struct{}, len(requested))
	out := make(models.DispatchedItems, 0, len(requested))
	for i, item := range requested {
		line, ok := ordered.Find(item.MaterialID)
		if !ok {
			return nil, fmt.Errorf("%w: items[%d] material %q is not on the order", models.ErrValidation, i, item.MaterialID)
		}
		if _, dup := seen[item.MaterialID]; dup {
			return nil, fmt.Errorf("%w: material %s listed twice", models.ErrValidation, item.MaterialID)
		}
		seen[item.MaterialID] = struct{}{}
		if !item.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: items[%d].quantity must be positive", models.ErrValidation, i)
		}
		if item.Quantity.GreaterThan(line.Quantity) {
			return nil, fmt.Errorf("%w: items[%d] dispatches %s but only %s were ordered",
				models.ErrValidation, i, item.Quantity, line.Quantity)
		}
		out = append(out, models.DispatchedItem{
			MaterialID:  line.MaterialID,
			Description: line.Description,
			Unit:        line.Unit,
			Quantity:    item.Quantity,
		})
	}
	return out, nil
}

// GetDeliveryNote returns a note visible to the actor.
func (s *Service) GetDeliveryNote(ctx context.Context, actor models.Actor, id string) (models.DeliveryNote, error) {
	note, err := s.store.GetDeliveryNote(ctx, id)
	if err != nil {
		return models.DeliveryNote{}, err
	}
	if !actor.IsAdmin() && actor.UserID != note.BuilderID && actor.UserID != note.SupplierID {
		return models.DeliveryNote{}, fmt.Errorf("%w: not a party to delivery note %s", models.ErrForbidden, id)
	}
	return note, nil
}

// ListDeliveryNotes returns the notes issued against an order.
func (s *Service) ListDeliveryNotes(ctx context.Context, actor models.Actor, purchaseOrderID string) ([]models.DeliveryNote, error) {
	if _, err := s.GetPurchaseOrder(ctx, actor, purchaseOrderID); err != nil {
		return nil, err
	}
	return s.store.ListDeliveryNotes(ctx, purchaseOrderID)
}

// CreateGoodsReceivedNote records the builder's receipt of a delivery note.
// The note becomes received and the order delivered.
func (s *Service) CreateGoodsReceivedNote(ctx context.Context, actor models.Actor, req models.CreateGoodsReceivedNoteRequest) (models.GoodsReceivedNote, error) {
	note, err := s.store.GetDeliveryNote(ctx, req.DeliveryNoteID)
	if err != nil {
		return models.GoodsReceivedNote{}, err
	}
	if actor.UserID != note.BuilderID {
		return models.GoodsReceivedNote{}, fmt.Errorf("%w: only the order's builder can receive goods", models.ErrForbidden)
	}
	if note.Status != models.NoteDispatched {
		return models.GoodsReceivedNote{}, fmt.Errorf("%w: delivery note %s already received", models.ErrConflict, note.Number)
	}

	items, status, err := receiptLines(note.Items, req.Items)
	if err != nil {
		return models.GoodsReceivedNote{}, err
	}

	now := s.now().UTC()
	grn := models.GoodsReceivedNote{
		ID:              models.NewID(),
		Number:          models.DocumentNumber(models.PrefixGoodsReceived, now),
		DeliveryNoteID:  note.ID,
		PurchaseOrderID: note.PurchaseOrderID,
		BuilderID:       note.BuilderID,
		SupplierID:      note.SupplierID,
		Items:           items,
		Status:          status,
		Notes:           req.Notes,
		ReceivedAt:      now,
	}

	po, err := s.store.CreateGoodsReceivedNote(ctx, grn)
	if err != nil {
		return models.GoodsReceivedNote{}, err
	}

	s.logger.Info("goods received",
		zap.String("grn", grn.Number),
		zap.String("dn", note.Number),
		zap.String("status", string(grn.Status)))
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TableGoodsReceivedNotes,
		Type:     realtime.EventInsert,
		RecordID: grn.ID,
		Record:   grn,
		Audience: []string{grn.BuilderID, grn.SupplierID},
	})
	note.Status = models.NoteReceived
	note.ReceivedAt = &now
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TableDeliveryNotes,
		Type:     realtime.EventUpdate,
		RecordID: note.ID,
		Record:   note,
		Audience: note.Audience(),
	})
	s.publishOrder(realtime.EventUpdate, po)
	return grn, nil
}

// receiptLines reconciles the builder's counts with what was dispatched.
// Dispatched materials the builder does not mention count as not received.
func receiptLines(dispatched models.DispatchedItems, lines []models.ReceiptLine) (models.ReceivedItems, models.GRNStatus, error) {
	if len(lines) == 0 {
		return nil, "", fmt.Errorf("%w: at least one item is required", models.ErrValidation)
	}
	onNote := make(map[string]struct{}, len(dispatched))
	for _, d := range dispatched {
		onNote[d.MaterialID] = struct{}{}
	}
	counts := make(map[string]models.ReceiptLine, len(lines))
	for i, line := range lines {
		if _, ok := onNote[line.MaterialID]; !ok {
			return nil, "", fmt.Errorf("%w: material %q was not on the delivery note", models.ErrValidation, line.MaterialID)
		}
		if _, dup := counts[line.MaterialID]; dup {
			return nil, "", fmt.Errorf("%w: material %s listed twice", models.ErrValidation, line.MaterialID)
		}
		if line.Received.IsNegative() || line.Rejected.IsNegative() {
			return nil, "", fmt.Errorf("%w: items[%d] quantities must not be negative", models.ErrValidation, i)
		}
		counts[line.MaterialID] = line
	}

	status := models.GRNComplete
	items := make(models.ReceivedItems, 0, len(dispatched))
	for _, d := range dispatched {
		line, ok := counts[d.MaterialID]
		if !ok {
			line = models.ReceiptLine{MaterialID: d.MaterialID, Received: decimal.Zero, Rejected: decimal.Zero}
		}
		if line.Received.Add(line.Rejected).GreaterThan(d.Quantity) {
			return nil, "", fmt.Errorf("%w: material %s received %s and rejected %s of %s delivered",
				models.ErrValidation, d.MaterialID, line.Received, line.Rejected, d.Quantity)
		}
		if !line.Received.Equal(d.Quantity) {
			status = models.GRNPartial
		}
		items = append(items, models.ReceivedItem{
			MaterialID:  d.MaterialID,
			Description: d.Description,
			Unit:        d.Unit,
			Delivered:   d.Quantity,
			Received:    line.Received,
			Rejected:    line.Rejected,
			Condition:   strings.TrimSpace(line.Condition),
		})
	}
	return items, status, nil
}

// ListGoodsReceivedNotes returns the receipts recorded against an order.
func (s *Service) ListGoodsReceivedNotes(ctx context.Context, actor models.Actor, purchaseOrderID string) ([]models.GoodsReceivedNote, error) {
	if _, err := s.GetPurchaseOrder(ctx, actor, purchaseOrderID); err != nil {
		return nil, err
	}
	return s.store.ListGoodsReceivedNotes(ctx, purchaseOrderID)
}

func (s *Service) publishOrder(kind realtime.EventType, po models.PurchaseOrder) {
	s.publisher.Publish(realtime.Change{
		Table:    realtime.TablePurchaseOrders,
		Type:     kind,
		RecordID: po.ID,
		Record:   po,
		Audience: po.Audience(),
	})
}
