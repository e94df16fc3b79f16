package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/procurement-workflow/internal/config"
	"github.com/nurpe/procurement-workflow/internal/model"
	"github.com/nurpe/procurement-workflow/internal/repository"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

var (
	operator  = model.Principal{UserID: uuid.New(), Name: "ana", Role: model.RoleOperator}
	requester = model.Principal{UserID: uuid.New(), Name: "luis", Role: "REQUESTER"}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event model.StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.NewStatus)
	}
	return out
}

type fakePDF struct {
	statement model.ConsumptionStatement
}

func (f *fakePDF) Generate(statement model.ConsumptionStatement) ([]byte, error) {
	f.statement = statement
	return []byte("%PDF-fake"), nil
}

type fakeExcel struct{}

func (fakeExcel) Generate(BulkResult) ([]byte, error) {
	return []byte("xlsx"), nil
}

type fixture struct {
	store    *repository.MemoryStore
	events   *recordingPublisher
	pdf      *fakePDF
	ocs      *OCService
	invoices *InvoiceService
	bulk     *BulkService
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.SetThresholds(
		model.ApprovalThreshold{Key: "INVOICE_VP_THRESHOLD", AmountInLocalCurrency: decimal.NewFromInt(10000), Active: true},
		model.ApprovalThreshold{Key: "OC_VP_THRESHOLD", AmountInLocalCurrency: decimal.NewFromInt(10000), Active: true},
	)
	store.SetExchangeRates(model.ExchangeRate{Year: 2026, Currency: "USD", Rate: decimal.RequireFromString("3.75")})

	snapshots, err := NewSnapshots(store, config.WorkflowConfig{
		LocalCurrency:         "PEN",
		TaxRate:               decimal.RequireFromString("0.18"),
		InvoiceVPThresholdKey: "INVOICE_VP_THRESHOLD",
		OCVPThresholdKey:      "OC_VP_THRESHOLD",
		OverConsumptionPolicy: policy,
	}, func() time.Time { return testNow })
	require.NoError(t, err)

	f := &fixture{store: store, events: &recordingPublisher{}, pdf: &fakePDF{}}
	log := zerolog.Nop()
	f.ocs = NewOCService(store, store, snapshots, f.events, f.pdf, log)
	f.invoices = NewInvoiceService(store, store, snapshots, f.events, log)
	f.bulk = NewBulkService(f.ocs, f.invoices, fakeExcel{}, log)
	return f
}

func ocInput(amount string) OCInput {
	return OCInput{
		Currency:           "PEN",
		AmountExcludingTax: decimal.RequireFromString(amount),
		Requester:          "luis",
		Allocations: []model.CostCenterAllocation{
			{CostCenterID: "CC-100", Percentage: decimal.NewFromInt(60)},
			{CostCenterID: "CC-200", Percentage: decimal.NewFromInt(40)},
		},
		BudgetPeriodFrom: "2026-01",
		BudgetPeriodTo:   "2026-12",
		Principal:        requester,
	}
}

func invoiceInput(ocID uuid.UUID, docType model.DocType, amount string) InvoiceInput {
	return InvoiceInput{
		OCID:               &ocID,
		DocType:            docType,
		Currency:           "PEN",
		AmountExcludingTax: decimal.RequireFromString(amount),
		Allocations: []model.CostCenterAllocation{
			{CostCenterID: "CC-100", Percentage: decimal.NewFromInt(100)},
		},
		Periods:   []string{"2026-03"},
		Principal: requester,
	}
}

func (f *fixture) createOC(t *testing.T, amount string) *model.PurchaseOrder {
	t.Helper()
	res, err := f.ocs.Create(context.Background(), ocInput(amount))
	require.NoError(t, err)
	return res.OC
}

func (f *fixture) createInvoice(t *testing.T, ocID uuid.UUID, docType model.DocType, amount string) *model.Invoice {
	t.Helper()
	res, err := f.invoices.Create(context.Background(), invoiceInput(ocID, docType, amount))
	require.NoError(t, err)
	return res.Invoice
}

func (f *fixture) setOCStatus(t *testing.T, id uuid.UUID, status model.OCStatus) {
	t.Helper()
	_, err := f.ocs.SetStatus(context.Background(), StatusChangeInput{ID: id, Status: string(status), Principal: operator})
	require.NoError(t, err)
}

func (f *fixture) setInvoiceStatus(t *testing.T, id uuid.UUID, status model.InvoiceStatus) {
	t.Helper()
	_, err := f.invoices.SetStatus(context.Background(), StatusChangeInput{ID: id, Status: string(status), Principal: operator})
	require.NoError(t, err)
}

func ptr[T any](v T) *T {
	return &v
}
