package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
)

type stubAnalytics struct {
	orders     []models.StatusCount
	deliveries []models.StatusCount
	codes      []models.StatusCount
	offers     []models.StatusCount
	invoiced   map[models.InvoiceStatus]decimal.Decimal
	spend      decimal.Decimal

	lastFilter   models.OrderFilter
	activityFrom time.Time
	activityTo   time.Time
}

func (s *stubAnalytics) CountOrdersByStatus(_ context.Context, f models.OrderFilter) ([]models.StatusCount, error) {
	s.lastFilter = f
	return s.orders, nil
}

func (s *stubAnalytics) CountDeliveriesByStatus(context.Context, string) ([]models.StatusCount, error) {
	return s.deliveries, nil
}

func (s *stubAnalytics) CountQRCodesByStatus(context.Context, string) ([]models.StatusCount, error) {
	return s.codes, nil
}

func (s *stubAnalytics) CountOffersByStatus(context.Context, string) ([]models.StatusCount, error) {
	return s.offers, nil
}

func (s *stubAnalytics) SumOrderSubtotals(_ context.Context, _ string, statuses []models.OrderStatus) (decimal.Decimal, error) {
	for _, st := range statuses {
		if st == models.OrderCancelled {
			return decimal.Zero, errors.New("cancelled orders must not count")
		}
	}
	return s.spend, nil
}

func (s *stubAnalytics) SumInvoiceTotals(_ context.Context, _ string, statuses []models.InvoiceStatus) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, st := range statuses {
		total = total.Add(s.invoiced[st])
	}
	return total, nil
}

func (s *stubAnalytics) PlatformActivity(_ context.Context, from, to time.Time) (models.DailyReport, error) {
	s.activityFrom, s.activityTo = from, to
	return models.DailyReport{
		Date:                from,
		OrdersCreated:       12,
		OrdersCompleted:     5,
		DeliveriesCompleted: 4,
		RequestsUnassigned:  1,
		InvoicedAmount:      "9800.00",
		PaidAmount:          "4200.50",
	}, nil
}

type memorySnapshots struct {
	saved []models.DailyReport
}

func (m *memorySnapshots) SaveDailyReport(_ context.Context, r models.DailyReport) error {
	m.saved = append(m.saved, r)
	return nil
}

func (m *memorySnapshots) LatestDailyReport(context.Context) (models.DailyReport, error) {
	if len(m.saved) == 0 {
		return models.DailyReport{}, models.ErrNotFound
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *memorySnapshots) ListDailyReports(_ context.Context, from, to time.Time) ([]models.DailyReport, error) {
	var out []models.DailyReport
	for _, r := range m.saved {
		if !r.Date.Before(from) && r.Date.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fixedEvents int

func (f fixedEvents) CountEvents(context.Context, time.Time, time.Time) (int, error) { return int(f), nil }

type recordingSender struct{ sent []models.Notification }

func (r *recordingSender) Send(_ context.Context, n models.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func newService(t *testing.T, recipient string) (*Service, *stubAnalytics, *memorySnapshots, *recordingSender) {
	t.Helper()
	analytics := &stubAnalytics{invoiced: map[models.InvoiceStatus]decimal.Decimal{}}
	snapshots := &memorySnapshots{}
	sender := &recordingSender{}
	svc, err := NewService(analytics, snapshots, fixedEvents(3), sender, config.ReportingConfig{Timezone: "Africa/Johannesburg"}, recipient, nil)
	require.NoError(t, err)
	// Saturday 2024-06-08 06:30 local.
	svc.now = func() time.Time { return time.Date(2024, 6, 8, 4, 30, 0, 0, time.UTC) }
	return svc, analytics, snapshots, sender
}

func TestNewServiceRejectsUnknownTimezone(t *testing.T) {
	_, err := NewService(&stubAnalytics{}, &memorySnapshots{}, nil, nil, config.ReportingConfig{Timezone: "Mars/Olympus"}, "", nil)
	require.Error(t, err)
}

func TestBuilderDashboard(t *testing.T) {
	svc, analytics, _, _ := newService(t, "")
	analytics.orders = []models.StatusCount{{Status: "pending", Count: 2}, {Status: "completed", Count: 1}}
	analytics.deliveries = []models.StatusCount{{Status: "in_transit", Count: 1}}
	analytics.spend = decimal.RequireFromString("15250.5")

	dash, err := svc.DashboardStats(context.Background(), models.Actor{UserID: "b1", Role: models.RoleBuilder})
	require.NoError(t, err)

	assert.Equal(t, "b1", analytics.lastFilter.BuilderID)
	assert.Equal(t, 2, dash.Orders["pending"])
	assert.Equal(t, 1, dash.Deliveries["in_transit"])
	assert.Equal(t, "15250.50", dash.Amounts["committed_spend"])
	assert.Nil(t, dash.Snapshot)
}

func TestSupplierDashboard(t *testing.T) {
	svc, analytics, _, _ := newService(t, "")
	analytics.invoiced[models.InvoiceSent] = decimal.NewFromInt(1000)
	analytics.invoiced[models.InvoiceOverdue] = decimal.NewFromInt(250)
	analytics.invoiced[models.InvoicePaid] = decimal.RequireFromString("499.99")
	analytics.codes = []models.StatusCount{{Status: "generated", Count: 4}}

	dash, err := svc.DashboardStats(context.Background(), models.Actor{UserID: "s1", Role: models.RoleSupplier})
	require.NoError(t, err)

	assert.Equal(t, "s1", analytics.lastFilter.SupplierID)
	assert.Equal(t, "1749.99", dash.Amounts["invoiced"])
	assert.Equal(t, "499.99", dash.Amounts["paid"])
	assert.Equal(t, "1250.00", dash.Amounts["outstanding"])
	assert.Equal(t, 4, dash.QRCodes["generated"])
}

func TestProviderDashboard(t *testing.T) {
	svc, analytics, _, _ := newService(t, "")
	analytics.offers = []models.StatusCount{
		{Status: "accepted", Count: 3},
		{Status: "declined", Count: 2},
		{Status: "expired", Count: 1},
		{Status: "offered", Count: 1},
	}

	dash, err := svc.DashboardStats(context.Background(), models.Actor{UserID: "p1", Role: models.RoleDeliveryProvider})
	require.NoError(t, err)
	require.NotNil(t, dash.AcceptanceRate)
	assert.Equal(t, 50.0, *dash.AcceptanceRate)

	analytics.offers = nil
	dash, err = svc.DashboardStats(context.Background(), models.Actor{UserID: "p1", Role: models.RoleDeliveryProvider})
	require.NoError(t, err)
	assert.Nil(t, dash.AcceptanceRate)
}

func TestAdminDashboardIncludesSnapshots(t *testing.T) {
	svc, analytics, snapshots, _ := newService(t, "")
	ctx := context.Background()
	admin := models.Actor{UserID: "a1", Role: models.RoleAdmin}

	dash, err := svc.DashboardStats(ctx, admin)
	require.NoError(t, err)
	require.NotNil(t, dash.Snapshot)
	assert.Nil(t, dash.Previous)
	assert.Equal(t, 3, dash.Snapshot.SecurityEvents)
	assert.Equal(t, models.OrderFilter{}, analytics.lastFilter)

	require.NoError(t, svc.SaveDailySnapshot(ctx))
	require.Len(t, snapshots.saved, 1)

	dash, err = svc.DashboardStats(ctx, admin)
	require.NoError(t, err)
	require.NotNil(t, dash.Previous)
}

func TestPlatformSnapshotUsesLocalDay(t *testing.T) {
	svc, analytics, _, _ := newService(t, "")

	// 23:30 UTC on the 7th is already the 8th in Johannesburg.
	report, err := svc.PlatformSnapshot(context.Background(), time.Date(2024, 6, 7, 23, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 6, 7, 22, 0, 0, 0, time.UTC), report.Date)
	assert.Equal(t, 24*time.Hour, analytics.activityTo.Sub(analytics.activityFrom))
	assert.Equal(t, 12, report.OrdersCreated)
	assert.Equal(t, 3, report.SecurityEvents)
}

func TestSaveDailySnapshotStoresYesterday(t *testing.T) {
	svc, _, snapshots, _ := newService(t, "")

	require.NoError(t, svc.SaveDailySnapshot(context.Background()))
	require.Len(t, snapshots.saved, 1)
	// Yesterday in Johannesburg is 2024-06-07, which starts at 22:00 UTC on the 6th.
	assert.Equal(t, time.Date(2024, 6, 6, 22, 0, 0, 0, time.UTC), snapshots.saved[0].Date)
}

func TestWeeklySummary(t *testing.T) {
	svc, _, snapshots, _ := newService(t, "")
	snapshots.saved = []models.DailyReport{
		{Date: time.Date(2024, 6, 3, 22, 0, 0, 0, time.UTC), OrdersCreated: 2},
		{Date: time.Date(2024, 6, 4, 22, 0, 0, 0, time.UTC), OrdersCreated: 6},
	}

	summary, err := svc.WeeklySummary(context.Background(), svc.now())
	require.NoError(t, err)

	assert.Contains(t, summary, "BuildMart weekly summary (2024-06-01 to 2024-06-07)")
	assert.Contains(t, summary, "Orders created: 12")
	assert.Contains(t, summary, "Invoiced: 9800.00")
	assert.Contains(t, summary, "Security events: 3")
	assert.Contains(t, summary, "Busiest day: 2024-06-05 (6 orders)")
}

func TestSendWeeklySummary(t *testing.T) {
	svc, _, _, sender := newService(t, "27820000000")
	require.NoError(t, svc.SendWeeklySummary(context.Background()))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "27820000000", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Body, "Orders completed: 5")

	quiet, _, _, quietSender := newService(t, "")
	require.NoError(t, quiet.SendWeeklySummary(context.Background()))
	assert.Empty(t, quietSender.sent)
}
