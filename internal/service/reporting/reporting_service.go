package reporting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const dateLayout = "2006-01-02"

// Analytics is the aggregate query surface of the marketplace database.
type Analytics interface {
	CountOrdersByStatus(ctx context.Context, filter models.OrderFilter) ([]models.StatusCount, error)
	CountDeliveriesByStatus(ctx context.Context, userID string) ([]models.StatusCount, error)
	CountQRCodesByStatus(ctx context.Context, supplierID string) ([]models.StatusCount, error)
	CountOffersByStatus(ctx context.Context, providerID string) ([]models.StatusCount, error)
	SumOrderSubtotals(ctx context.Context, builderID string, statuses []models.OrderStatus) (decimal.Decimal, error)
	SumInvoiceTotals(ctx context.Context, supplierID string, statuses []models.InvoiceStatus) (decimal.Decimal, error)
	PlatformActivity(ctx context.Context, from, to time.Time) (models.DailyReport, error)
}

// Snapshots stores the daily platform reports.
type Snapshots interface {
	SaveDailyReport(ctx context.Context, report models.DailyReport) error
	LatestDailyReport(ctx context.Context) (models.DailyReport, error)
	ListDailyReports(ctx context.Context, from, to time.Time) ([]models.DailyReport, error)
}

// EventCounter counts audited security events.
type EventCounter interface {
	CountEvents(ctx context.Context, from, to time.Time) (int, error)
}

// Sender delivers a message to a phone number.
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// Service exposes dashboards and scheduled platform summaries.
type Service struct {
	analytics Analytics
	snapshots Snapshots
	events    EventCounter
	sender    Sender
	recipient string
	location  *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// NewService wires a new reporting service instance. sender may be nil, in
// which case weekly summaries are only logged.
func NewService(analytics Analytics, snapshots Snapshots, events EventCounter, sender Sender, cfg config.ReportingConfig, recipient string, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	location := time.UTC
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load reporting timezone: %w", err)
		}
		location = loc
	}
	return &Service{
		analytics: analytics,
		snapshots: snapshots,
		events:    events,
		sender:    sender,
		recipient: recipient,
		location:  location,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// DashboardStats builds the analytics view for the caller's role.
func (s *Service) DashboardStats(ctx context.Context, actor models.Actor) (models.Dashboard, error) {
	dash := models.Dashboard{Role: actor.Role}

	switch actor.Role {
	case models.RoleBuilder:
		orders, err := s.analytics.CountOrdersByStatus(ctx, models.OrderFilter{BuilderID: actor.UserID})
		if err != nil {
			return dash, err
		}
		deliveries, err := s.analytics.CountDeliveriesByStatus(ctx, actor.UserID)
		if err != nil {
			return dash, err
		}
		spend, err := s.analytics.SumOrderSubtotals(ctx, actor.UserID, []models.OrderStatus{
			models.OrderPending, models.OrderConfirmed, models.OrderDispatched, models.OrderDelivered, models.OrderCompleted,
		})
		if err != nil {
			return dash, err
		}
		dash.Orders = toMap(orders)
		dash.Deliveries = toMap(deliveries)
		dash.Amounts = map[string]string{"committed_spend": spend.StringFixed(2)}

	case models.RoleSupplier:
		orders, err := s.analytics.CountOrdersByStatus(ctx, models.OrderFilter{SupplierID: actor.UserID})
		if err != nil {
			return dash, err
		}
		codes, err := s.analytics.CountQRCodesByStatus(ctx, actor.UserID)
		if err != nil {
			return dash, err
		}
		invoiced, err := s.analytics.SumInvoiceTotals(ctx, actor.UserID, []models.InvoiceStatus{models.InvoiceSent, models.InvoicePaid, models.InvoiceOverdue})
		if err != nil {
			return dash, err
		}
		paid, err := s.analytics.SumInvoiceTotals(ctx, actor.UserID, []models.InvoiceStatus{models.InvoicePaid})
		if err != nil {
			return dash, err
		}
		dash.Orders = toMap(orders)
		dash.QRCodes = toMap(codes)
		dash.Amounts = map[string]string{
			"invoiced":    invoiced.StringFixed(2),
			"paid":        paid.StringFixed(2),
			"outstanding": invoiced.Sub(paid).StringFixed(2),
		}

	case models.RoleDeliveryProvider:
		deliveries, err := s.analytics.CountDeliveriesByStatus(ctx, actor.UserID)
		if err != nil {
			return dash, err
		}
		offers, err := s.analytics.CountOffersByStatus(ctx, actor.UserID)
		if err != nil {
			return dash, err
		}
		dash.Deliveries = toMap(deliveries)
		dash.Offers = toMap(offers)
		dash.AcceptanceRate = acceptanceRate(dash.Offers)

	case models.RoleAdmin:
		orders, err := s.analytics.CountOrdersByStatus(ctx, models.OrderFilter{})
		if err != nil {
			return dash, err
		}
		deliveries, err := s.analytics.CountDeliveriesByStatus(ctx, "")
		if err != nil {
			return dash, err
		}
		today, err := s.PlatformSnapshot(ctx, s.now())
		if err != nil {
			return dash, err
		}
		dash.Orders = toMap(orders)
		dash.Deliveries = toMap(deliveries)
		dash.Snapshot = &today

		previous, err := s.snapshots.LatestDailyReport(ctx)
		switch {
		case err == nil:
			dash.Previous = &previous
		case !errors.Is(err, models.ErrNotFound):
			s.logger.Warn("load latest daily report", zap.Error(err))
		}

	default:
		return dash, fmt.Errorf("%w: unknown role %q", models.ErrForbidden, actor.Role)
	}

	return dash, nil
}

// acceptanceRate is accepted offers over answered or lapsed ones, as a percentage.
func acceptanceRate(offers map[string]int) *float64 {
	accepted := offers[string(models.EntryAccepted)]
	resolved := accepted + offers[string(models.EntryDeclined)] + offers[string(models.EntryExpired)]
	if resolved == 0 {
		return nil
	}
	rate := math.Round(float64(accepted)/float64(resolved)*10000) / 100
	return &rate
}

func toMap(counts []models.StatusCount) map[string]int {
	out := make(map[string]int, len(counts))
	for _, c := range counts {
		out[c.Status] = c.Count
	}
	return out
}

func (s *Service) startOfDay(t time.Time) time.Time {
	local := t.In(s.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
}

// PlatformSnapshot reports the activity of the local calendar day containing day.
func (s *Service) PlatformSnapshot(ctx context.Context, day time.Time) (models.DailyReport, error) {
	from := s.startOfDay(day)
	to := from.AddDate(0, 0, 1)

	report, err := s.analytics.PlatformActivity(ctx, from, to)
	if err != nil {
		return models.DailyReport{}, err
	}
	report.Date = from.UTC()
	report.CreatedAt = s.now().UTC()

	if s.events != nil {
		n, err := s.events.CountEvents(ctx, from, to)
		if err != nil {
			s.logger.Warn("count security events for snapshot", zap.Error(err))
		} else {
			report.SecurityEvents = n
		}
	}
	return report, nil
}

// SaveDailySnapshot stores the snapshot of the previous local day.
func (s *Service) SaveDailySnapshot(ctx context.Context) error {
	report, err := s.PlatformSnapshot(ctx, s.startOfDay(s.now()).AddDate(0, 0, -1))
	if err != nil {
		return fmt.Errorf("build daily snapshot: %w", err)
	}
	if err := s.snapshots.SaveDailyReport(ctx, report); err != nil {
		return err
	}
	s.logger.Info("daily snapshot saved",
		zap.String("date", report.Date.In(s.location).Format(dateLayout)),
		zap.Int("orders_created", report.OrdersCreated),
		zap.String("invoiced", report.InvoicedAmount))
	return nil
}

// WeeklySummary formats the seven local days before now.
func (s *Service) WeeklySummary(ctx context.Context, now time.Time) (string, error) {
	to := s.startOfDay(now)
	from := to.AddDate(0, 0, -7)

	totals, err := s.analytics.PlatformActivity(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("load weekly activity: %w", err)
	}
	events := 0
	if s.events != nil {
		if events, err = s.events.CountEvents(ctx, from, to); err != nil {
			s.logger.Warn("count security events for summary", zap.Error(err))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "BuildMart weekly summary (%s to %s)\n", from.Format(dateLayout), to.AddDate(0, 0, -1).Format(dateLayout))
	fmt.Fprintf(&b, "Orders created: %d\n", totals.OrdersCreated)
	fmt.Fprintf(&b, "Orders completed: %d\n", totals.OrdersCompleted)
	fmt.Fprintf(&b, "Deliveries completed: %d\n", totals.DeliveriesCompleted)
	fmt.Fprintf(&b, "Requests without provider: %d\n", totals.RequestsUnassigned)
	fmt.Fprintf(&b, "Invoiced: %s\n", totals.InvoicedAmount)
	fmt.Fprintf(&b, "Paid: %s\n", totals.PaidAmount)
	fmt.Fprintf(&b, "Security events: %d", events)

	daily, err := s.snapshots.ListDailyReports(ctx, from.UTC(), to.UTC())
	if err != nil {
		s.logger.Warn("load daily snapshots for summary", zap.Error(err))
	}
	var busiest *models.DailyReport
	for i := range daily {
		if busiest == nil || daily[i].OrdersCreated > busiest.OrdersCreated {
			busiest = &daily[i]
		}
	}
	if busiest != nil && busiest.OrdersCreated > 0 {
		fmt.Fprintf(&b, "\nBusiest day: %s (%d orders)", busiest.Date.In(s.location).Format(dateLayout), busiest.OrdersCreated)
	}

	return b.String(), nil
}

// SendWeeklySummary delivers the weekly summary to the admin recipient.
func (s *Service) SendWeeklySummary(ctx context.Context) error {
	summary, err := s.WeeklySummary(ctx, s.now())
	if err != nil {
		return err
	}
	if s.sender == nil || s.recipient == "" {
		s.logger.Info("weekly summary not sent: no recipient configured", zap.String("summary", summary))
		return nil
	}
	if err := s.sender.Send(ctx, models.Notification{To: s.recipient, Body: summary}); err != nil {
		return fmt.Errorf("send weekly summary: %w", err)
	}
	s.logger.Info("weekly summary sent", zap.String("to", s.recipient))
	return nil
}
