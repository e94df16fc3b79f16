package workflow

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/procurement-workflow/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %s, got %s", want, got.String())
}

func testEngine(t *testing.T, thresholds ...model.ApprovalThreshold) *Engine {
	t.Helper()
	th, err := NewThresholds(thresholds)
	require.NoError(t, err)
	rates := NewRateTable("PEN", []model.ExchangeRate{
		{Year: 2025, Currency: "USD", Rate: dec("3.75")},
	})
	return NewEngine(Settings{
		Rates:        rates,
		Thresholds:   th,
		TaxRate:      dec("0.18"),
		InvoiceVPKey: "INVOICE_VP_THRESHOLD",
		OCVPKey:      "OC_VP_THRESHOLD",
	}, func() time.Time { return fixedNow })
}

func vpThreshold(key, amount string) model.ApprovalThreshold {
	return model.ApprovalThreshold{Key: key, AmountInLocalCurrency: dec(amount), Active: true}
}

func allocation(ceco, pct string) model.CostCenterAllocation {
	return model.CostCenterAllocation{CostCenterID: ceco, Percentage: dec(pct)}
}

func testInvoice(status model.InvoiceStatus, amount string) *model.Invoice {
	return &model.Invoice{
		ID:                 uuid.New(),
		DocType:            model.DocTypeInvoice,
		Currency:           "PEN",
		AmountExcludingTax: dec(amount),
		Status:             status,
		CreatedAt:          fixedNow,
	}
}

func testOC(status model.OCStatus, amount string) *model.PurchaseOrder {
	return &model.PurchaseOrder{
		ID:                 uuid.New(),
		Currency:           "PEN",
		AmountExcludingTax: dec(amount),
		Status:             status,
		CreatedAt:          fixedNow,
	}
}
