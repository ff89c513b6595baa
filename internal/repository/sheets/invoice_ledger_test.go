package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

func TestAppendInvoice(t *testing.T) {
	var (
		gotPath  string
		gotQuery string
		gotBody  sheetsapi.ValueRange
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	service, err := sheetsapi.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	ledger := newInvoiceLedger(service, "sheet-1", nil)

	issued := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	err = ledger.AppendInvoice(ctx, models.Invoice{
		Number:          "INV-20240603-ABCDEF",
		PurchaseOrderID: "po-1",
		SupplierID:      "supplier-1",
		BuilderID:       "builder-1",
		Subtotal:        decimal.RequireFromString("1000"),
		TaxAmount:       decimal.RequireFromString("150"),
		Total:           decimal.RequireFromString("1150"),
		Status:          models.InvoiceSent,
		IssuedAt:        issued,
		DueDate:         issued.AddDate(0, 0, 30),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotPath, "/v4/spreadsheets/sheet-1/values/"), gotPath)
	assert.True(t, strings.HasSuffix(gotPath, ":append"), gotPath)
	assert.Contains(t, gotQuery, "valueInputOption=USER_ENTERED")
	require.Len(t, gotBody.Values, 1)
	row := gotBody.Values[0]
	require.Len(t, row, 10)
	assert.Equal(t, "INV-20240603-ABCDEF", row[0])
	assert.Equal(t, "2024-07-03", row[2])
	assert.Equal(t, "1150.00", row[8])
	assert.Equal(t, "sent", row[9])
}

func TestAppendPaymentSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission"}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	service, err := sheetsapi.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	err = newInvoiceLedger(service, "sheet-1", nil).AppendPayment(ctx, models.Invoice{Number: "INV-1", Total: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), paymentsRange)
}
