package sheets

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const (
	invoicesRange = "Invoices!A:J"
	paymentsRange = "Payments!A:E"
	dateLayout    = "2006-01-02"
)

// InvoiceLedger mirrors issued invoices and payments into a spreadsheet the
// finance team already works from.
type InvoiceLedger struct {
	service       *sheetsapi.Service
	spreadsheetID string
	logger        *zap.Logger
}

// NewInvoiceLedger builds a Google Sheets backed ledger.
func NewInvoiceLedger(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (*InvoiceLedger, error) {
	service, err := sheetsapi.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath), option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}
	return newInvoiceLedger(service, cfg.SpreadsheetID, logger), nil
}

func newInvoiceLedger(service *sheetsapi.Service, spreadsheetID string, logger *zap.Logger) *InvoiceLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceLedger{service: service, spreadsheetID: spreadsheetID, logger: logger}
}

// AppendInvoice writes one row for a sent invoice.
func (l *InvoiceLedger) AppendInvoice(ctx context.Context, inv models.Invoice) error {
	return l.writeRow(ctx, invoicesRange, []interface{}{
		inv.Number,
		inv.IssuedAt.Format(dateLayout),
		inv.DueDate.Format(dateLayout),
		inv.SupplierID,
		inv.BuilderID,
		inv.PurchaseOrderID,
		inv.Subtotal.StringFixed(2),
		inv.TaxAmount.StringFixed(2),
		inv.Total.StringFixed(2),
		string(inv.Status),
	})
}

// AppendPayment writes one row for a paid invoice.
func (l *InvoiceLedger) AppendPayment(ctx context.Context, inv models.Invoice) error {
	paid := ""
	if inv.PaidAt != nil {
		paid = inv.PaidAt.Format(dateLayout)
	}
	return l.writeRow(ctx, paymentsRange, []interface{}{
		inv.Number,
		paid,
		inv.SupplierID,
		inv.BuilderID,
		inv.Total.StringFixed(2),
	})
}

func (l *InvoiceLedger) writeRow(ctx context.Context, sheetRange string, values []interface{}) error {
	payload := &sheetsapi.ValueRange{Values: [][]interface{}{values}}

	call := l.service.Spreadsheets.Values.Append(l.spreadsheetID, sheetRange, payload).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx)

	if _, err := call.Do(); err != nil {
		return fmt.Errorf("append row into range %s: %w", sheetRange, err)
	}

	l.logger.Debug("row appended to sheet", zap.String("range", sheetRange))
	return nil
}
