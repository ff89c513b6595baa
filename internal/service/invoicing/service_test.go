package invoicing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
)

type fakeStore struct {
	orders   map[string]models.PurchaseOrder
	invoices map[string]models.Invoice
}

func (f *fakeStore) GetPurchaseOrder(_ context.Context, id string) (models.PurchaseOrder, error) {
	po, ok := f.orders[id]
	if !ok {
		return models.PurchaseOrder{}, models.ErrNotFound
	}
	return po, nil
}

func (f *fakeStore) CreateInvoice(_ context.Context, inv models.Invoice) error {
	f.invoices[inv.ID] = inv
	return nil
}

func (f *fakeStore) GetInvoice(_ context.Context, id string) (models.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return models.Invoice{}, models.ErrNotFound
	}
	return inv, nil
}

func (f *fakeStore) ListInvoices(_ context.Context, filter models.InvoiceFilter) ([]models.Invoice, error) {
	var out []models.Invoice
	for _, inv := range f.invoices {
		if filter.SupplierID != "" && inv.SupplierID != filter.SupplierID {
			continue
		}
		if filter.BuilderID != "" && inv.BuilderID != filter.BuilderID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (f *fakeStore) TransitionInvoice(_ context.Context, id string, from, to models.InvoiceStatus, at time.Time) (models.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok || inv.Status != from {
		return models.Invoice{}, fmt.Errorf("%w: stale", models.ErrInvalidTransition)
	}
	inv.Status = to
	inv.UpdatedAt = at
	if to == models.InvoicePaid {
		inv.PaidAt = &at
	}
	f.invoices[id] = inv
	return inv, nil
}

func (f *fakeStore) MarkOverdueInvoices(_ context.Context, now time.Time) ([]models.Invoice, error) {
	var out []models.Invoice
	for id, inv := range f.invoices {
		if inv.Status == models.InvoiceSent && inv.DueDate.Before(now) {
			inv.Status = models.InvoiceOverdue
			f.invoices[id] = inv
			out = append(out, inv)
		}
	}
	return out, nil
}

type fakeLedger struct {
	invoices []string
	payments []string
	err      error
}

func (l *fakeLedger) AppendInvoice(_ context.Context, inv models.Invoice) error {
	l.invoices = append(l.invoices, inv.Number)
	return l.err
}

func (l *fakeLedger) AppendPayment(_ context.Context, inv models.Invoice) error {
	l.payments = append(l.payments, inv.Number)
	return l.err
}

var (
	supplier = models.Actor{UserID: "supplier-1", Role: models.RoleSupplier}
	builder  = models.Actor{UserID: "builder-1", Role: models.RoleBuilder}
	clock    = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
)

func newService(t *testing.T, status models.OrderStatus) (*Service, *fakeStore, *fakeLedger) {
	t.Helper()
	store := &fakeStore{
		orders: map[string]models.PurchaseOrder{
			"po-1": {
				ID: "po-1", Number: "PO-1", BuilderID: "builder-1", SupplierID: "supplier-1", Status: status,
				Items: models.LineItems{
					{MaterialID: "cement", Quantity: decimal.NewFromInt(100), UnitPrice: decimal.RequireFromString("7.35")},
					{MaterialID: "sand", Quantity: decimal.RequireFromString("2.5"), UnitPrice: decimal.RequireFromString("33.333")},
				},
			},
		},
		invoices: map[string]models.Invoice{},
	}
	ledger := &fakeLedger{}
	svc, err := NewService(store, ledger, nil, config.InvoicingConfig{DefaultTaxRate: "0.16", PaymentTermDays: 30}, nil)
	require.NoError(t, err)
	svc.now = func() time.Time { return clock }
	return svc, store, ledger
}

func TestNewServiceRejectsBadTaxRate(t *testing.T) {
	_, err := NewService(&fakeStore{}, nil, nil, config.InvoicingConfig{DefaultTaxRate: "sixteen"}, nil)
	assert.Error(t, err)
}

func TestCreateInvoiceDefaults(t *testing.T) {
	svc, _, _ := newService(t, models.OrderDelivered)

	inv, err := svc.CreateInvoice(context.Background(), supplier, models.CreateInvoiceRequest{PurchaseOrderID: "po-1"})
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceDraft, inv.Status)
	assert.Len(t, inv.Items, 2)
	// 735 + 83.3325 = 818.3325 -> 818.33; tax 16% = 130.9328 -> 130.93
	assert.Equal(t, "818.33", inv.Subtotal.StringFixed(2))
	assert.Equal(t, "130.93", inv.TaxAmount.StringFixed(2))
	assert.Equal(t, "949.26", inv.Total.StringFixed(2))
	assert.Equal(t, clock.AddDate(0, 0, 30), inv.DueDate)
	assert.Regexp(t, `^INV-20240603-`, inv.Number)
}

func TestCreateInvoiceRules(t *testing.T) {
	ctx := context.Background()

	svc, _, _ := newService(t, models.OrderPending)
	_, err := svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{PurchaseOrderID: "po-1"})
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "pending orders are not billable")

	svc, _, _ = newService(t, models.OrderConfirmed)
	_, err = svc.CreateInvoice(ctx, builder, models.CreateInvoiceRequest{PurchaseOrderID: "po-1"})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{
		PurchaseOrderID: "po-1",
		Items:           models.LineItems{{MaterialID: "steel", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)}},
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	rate := decimal.RequireFromString("1.5")
	_, err = svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{PurchaseOrderID: "po-1", TaxRate: &rate})
	assert.ErrorIs(t, err, models.ErrValidation)

	past := clock.Add(-time.Hour)
	_, err = svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{PurchaseOrderID: "po-1", DueDate: &past})
	assert.ErrorIs(t, err, models.ErrValidation)

	zero := decimal.Zero
	inv, err := svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{
		PurchaseOrderID: "po-1",
		TaxRate:         &zero,
		Items:           models.LineItems{{MaterialID: "cement", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.RequireFromString("7.35")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "73.50", inv.Total.StringFixed(2))
}

func TestInvoiceLifecycleAndLedger(t *testing.T) {
	svc, _, ledger := newService(t, models.OrderDelivered)
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{PurchaseOrderID: "po-1"})
	require.NoError(t, err)

	_, err = svc.GetInvoice(ctx, builder, inv.ID)
	assert.ErrorIs(t, err, models.ErrNotFound, "drafts are hidden from builders")

	_, err = svc.MarkInvoicePaid(ctx, supplier, inv.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	sent, err := svc.SendInvoice(ctx, supplier, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceSent, sent.Status)
	assert.Equal(t, []string{inv.Number}, ledger.invoices)

	got, err := svc.GetInvoice(ctx, builder, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Number, got.Number)

	_, err = svc.MarkInvoicePaid(ctx, builder, inv.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	paid, err := svc.MarkInvoicePaid(ctx, models.Actor{UserID: "admin", Role: models.RoleAdmin}, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, []string{inv.Number}, ledger.payments)

	_, err = svc.CancelInvoice(ctx, supplier, inv.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestSendInvoiceIgnoresLedgerFailure(t *testing.T) {
	svc, _, ledger := newService(t, models.OrderConfirmed)
	ledger.err = errors.New("quota exceeded")
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{PurchaseOrderID: "po-1"})
	require.NoError(t, err)

	sent, err := svc.SendInvoice(ctx, supplier, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceSent, sent.Status)
}

func TestMarkOverdueInvoices(t *testing.T) {
	svc, store, _ := newService(t, models.OrderDelivered)
	ctx := context.Background()

	due := clock.Add(24 * time.Hour)
	inv, err := svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{PurchaseOrderID: "po-1", DueDate: &due})
	require.NoError(t, err)
	_, err = svc.SendInvoice(ctx, supplier, inv.ID)
	require.NoError(t, err)

	n, err := svc.MarkOverdueInvoices(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.now = func() time.Time { return clock.Add(48 * time.Hour) }
	n, err = svc.MarkOverdueInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.InvoiceOverdue, store.invoices[inv.ID].Status)

	paid, err := svc.MarkInvoicePaid(ctx, supplier, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, paid.Status)
}

func TestListInvoicesHidesDraftsFromBuilders(t *testing.T) {
	svc, _, _ := newService(t, models.OrderDelivered)
	ctx := context.Background()

	first, err := svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{PurchaseOrderID: "po-1"})
	require.NoError(t, err)
	_, err = svc.CreateInvoice(ctx, supplier, models.CreateInvoiceRequest{PurchaseOrderID: "po-1"})
	require.NoError(t, err)
	_, err = svc.SendInvoice(ctx, supplier, first.ID)
	require.NoError(t, err)

	forSupplier, err := svc.ListInvoices(ctx, supplier, "")
	require.NoError(t, err)
	assert.Len(t, forSupplier, 2)

	forBuilder, err := svc.ListInvoices(ctx, builder, "")
	require.NoError(t, err)
	require.Len(t, forBuilder, 1)
	assert.Equal(t, first.ID, forBuilder[0].ID)

	_, err = svc.ListInvoices(ctx, builder, "unpaid")
	assert.ErrorIs(t, err, models.ErrValidation)
}
