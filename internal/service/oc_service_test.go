package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/procurement-workflow/internal/model"
	"github.com/nurpe/procurement-workflow/internal/repository"
	"github.com/nurpe/procurement-workflow/internal/workflow"
)

func TestOCService_Create(t *testing.T) {
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")

	assert.Equal(t, model.OCStatusPendiente, oc.Status)
	assert.Equal(t, int64(1), oc.Version)
	require.Len(t, oc.Allocations, 2)
	assert.Equal(t, "6000.00", oc.Allocations[0].Amount.StringFixed(2))
	assert.Equal(t, "4000.00", oc.Allocations[1].Amount.StringFixed(2))

	history, err := f.ocs.History(context.Background(), oc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "PENDIENTE", history[0].Status)
	assert.Equal(t, "luis", history[0].ChangedBy)
}

func TestOCService_CreateInvalid(t *testing.T) {
	f := newFixture(t, "warn")
	in := ocInput("0")
	in.Allocations[1].Percentage = decimal.NewFromInt(10)

	_, err := f.ocs.Create(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrValidation)
	assert.ErrorIs(t, err, workflow.ErrAllocationMismatch)

	ocs, _ := f.store.Counts()
	assert.Zero(t, ocs)
}

func TestOCService_CreateOutsideSupportCostCenters(t *testing.T) {
	f := newFixture(t, "warn")
	support := uuid.New()
	f.store.SetSupportCostCenters(support, "CC-100")

	in := ocInput("1000")
	in.SupportID = &support
	_, err := f.ocs.Create(context.Background(), in)
	require.Error(t, err)
	issues := workflow.IssuesOf(err)
	require.Len(t, issues, 1)
	assert.Equal(t, []string{"allocations", "1", "costCenterId"}, issues[0].Path)
}

func TestOCService_Update(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")

	t.Run("unchanged keeps the version", func(t *testing.T) {
		res, err := f.ocs.Update(ctx, oc.ID, ocInput("10000"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.OC.Version)
	})

	t.Run("changed bumps the version", func(t *testing.T) {
		in := ocInput("12000")
		in.Version = ptr(int64(1))
		res, err := f.ocs.Update(ctx, oc.ID, in)
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.OC.Version)
		assert.Equal(t, "7200.00", res.OC.Allocations[0].Amount.StringFixed(2))
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		in := ocInput("13000")
		in.Version = ptr(int64(1))
		_, err := f.ocs.Update(ctx, oc.ID, in)
		assert.ErrorIs(t, err, ErrConcurrentModification)
	})
}

func TestOCService_UpdateGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")
	_, err := f.ocs.RequestCancel(ctx, TransitionInput{ID: oc.ID, Principal: requester})
	require.NoError(t, err)

	_, err = f.ocs.Update(ctx, oc.ID, ocInput("9000"))
	assert.ErrorIs(t, err, workflow.ErrGuardViolation)

	_, err = f.ocs.Update(ctx, uuid.New(), ocInput("9000"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOCService_UpdateBelowConsumption(t *testing.T) {
	ctx := context.Background()

	t.Run("warn", func(t *testing.T) {
		f := newFixture(t, "warn")
		oc := f.createOC(t, "10000")
		f.createInvoice(t, oc.ID, model.DocTypeInvoice, "8000")

		res, err := f.ocs.Update(ctx, oc.ID, ocInput("5000"))
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "over-consumed")
	})

	t.Run("block", func(t *testing.T) {
		f := newFixture(t, "block")
		oc := f.createOC(t, "10000")
		f.createInvoice(t, oc.ID, model.DocTypeInvoice, "8000")

		_, err := f.ocs.Update(ctx, oc.ID, ocInput("5000"))
		assert.ErrorIs(t, err, workflow.ErrValidation)

		stored, err := f.ocs.Get(ctx, oc.ID)
		require.NoError(t, err)
		assert.Equal(t, "10000", stored.AmountExcludingTax.String())
	})
}

func TestOCService_UpdateKeepsInvoiceReferences(t *testing.T) {
	ctx := context.Background()

	t.Run("currency is fixed once invoiced", func(t *testing.T) {
		f := newFixture(t, "warn")
		oc := f.createOC(t, "5000")
		f.createInvoice(t, oc.ID, model.DocTypeInvoice, "2000")

		in := ocInput("5000")
		in.Currency = "USD"
		_, err := f.ocs.Update(ctx, oc.ID, in)
		require.ErrorIs(t, err, workflow.ErrValidation)
		assert.Equal(t, []string{"currency"}, workflow.IssuesOf(err)[0].Path)

		c, err := f.ocs.Consumption(ctx, oc.ID)
		require.NoError(t, err)
		assert.Equal(t, "PEN", c.Currency)
	})

	t.Run("rejected invoices do not pin the currency", func(t *testing.T) {
		f := newFixture(t, "warn")
		oc := f.createOC(t, "5000")
		inv := f.createInvoice(t, oc.ID, model.DocTypeInvoice, "2000")
		_, err := f.invoices.Reject(ctx, TransitionInput{ID: inv.ID, Note: "wrong OC", Principal: operator})
		require.NoError(t, err)

		in := ocInput("5000")
		in.Currency = "USD"
		res, err := f.ocs.Update(ctx, oc.ID, in)
		require.NoError(t, err)
		assert.Equal(t, "USD", res.OC.Currency)
	})

	t.Run("cost center used by an invoice cannot be dropped", func(t *testing.T) {
		f := newFixture(t, "warn")
		oc := f.createOC(t, "5000")
		f.createInvoice(t, oc.ID, model.DocTypeInvoice, "2000")

		in := ocInput("5000")
		in.Allocations = []model.CostCenterAllocation{{CostCenterID: "CC-900", Percentage: decimal.NewFromInt(100)}}
		_, err := f.ocs.Update(ctx, oc.ID, in)
		require.ErrorIs(t, err, workflow.ErrValidation)
		issues := workflow.IssuesOf(err)
		require.Len(t, issues, 1)
		assert.Equal(t, []string{"allocations"}, issues[0].Path)
		assert.Contains(t, issues[0].Message, "CC-100")

		stored, err := f.ocs.Get(ctx, oc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("unused cost center can be dropped", func(t *testing.T) {
		f := newFixture(t, "warn")
		oc := f.createOC(t, "5000")
		f.createInvoice(t, oc.ID, model.DocTypeInvoice, "2000")

		in := ocInput("5000")
		in.Allocations = []model.CostCenterAllocation{{CostCenterID: "CC-100", Percentage: decimal.NewFromInt(100)}}
		res, err := f.ocs.Update(ctx, oc.ID, in)
		require.NoError(t, err)
		assert.Equal(t, []string{"CC-100"}, res.OC.CostCenterIDs())
	})
}

func TestOCService_RouteApproval(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   model.OCStatus
	}{
		// 10000 * 1.18 = 11800 >= 10000
		{name: "above threshold with tax", amount: "10000", want: model.OCStatusAprobacionVP},
		// 8474.58 * 1.18 = 10000.0044
		{name: "crosses threshold only with tax", amount: "8474.58", want: model.OCStatusAprobacionVP},
		{name: "below threshold", amount: "8474.57", want: model.OCStatusAtenderCompras},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "warn")
			oc := f.createOC(t, tt.amount)
			f.setOCStatus(t, oc.ID, model.OCStatusProcesado)

			routed, err := f.ocs.RouteApproval(context.Background(), TransitionInput{ID: oc.ID, Principal: operator})
			require.NoError(t, err)
			assert.Equal(t, tt.want, routed.Status)
			assert.Equal(t, int64(3), routed.Version)
		})
	}
}

func TestOCService_ApprovalPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")
	f.setOCStatus(t, oc.ID, model.OCStatusProcesado)

	_, err := f.ocs.RouteApproval(ctx, TransitionInput{ID: oc.ID, Principal: operator})
	require.NoError(t, err)
	approved, err := f.ocs.ApproveVP(ctx, TransitionInput{ID: oc.ID, Principal: operator})
	require.NoError(t, err)
	assert.Equal(t, model.OCStatusAtenderCompras, approved.Status)

	assert.Equal(t, []string{"PROCESADO", "APROBACION_VP", "ATENDER_COMPRAS"}, f.events.statuses())
	for _, e := range f.events.events {
		assert.Equal(t, model.DocumentTypeOC, e.DocumentType)
		assert.Equal(t, oc.ID.String(), e.ID)
	}
}

func TestOCService_CancelRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")
	f.setOCStatus(t, oc.ID, model.OCStatusProcesar)

	pending, err := f.ocs.RequestCancel(ctx, TransitionInput{ID: oc.ID, Note: "duplicated", Principal: requester})
	require.NoError(t, err)
	assert.Equal(t, model.OCStatusAnular, pending.Status)
	require.NotNil(t, pending.PreCancelStatus)
	assert.Equal(t, model.OCStatusProcesar, *pending.PreCancelStatus)

	_, err = f.ocs.RejectCancel(ctx, TransitionInput{ID: oc.ID, Principal: operator})
	assert.ErrorIs(t, err, workflow.ErrValidation)

	restored, err := f.ocs.RejectCancel(ctx, TransitionInput{ID: oc.ID, Note: "still needed", Principal: operator})
	require.NoError(t, err)
	assert.Equal(t, model.OCStatusProcesar, restored.Status)
	assert.Nil(t, restored.PreCancelStatus)

	history, err := f.ocs.History(ctx, oc.ID)
	require.NoError(t, err)
	statuses := make([]string, 0, len(history))
	for _, h := range history {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []string{"PENDIENTE", "PROCESAR", "ANULAR", "PROCESAR"}, statuses)
	assert.Equal(t, "still needed", history[3].Note)
}

func TestOCService_ConfirmCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")

	_, err := f.ocs.RequestCancel(ctx, TransitionInput{ID: oc.ID, Principal: requester})
	require.NoError(t, err)
	cancelled, err := f.ocs.ApproveCancel(ctx, TransitionInput{ID: oc.ID, Principal: operator})
	require.NoError(t, err)
	assert.Equal(t, model.OCStatusAnulado, cancelled.Status)

	_, err = f.ocs.SetStatus(ctx, StatusChangeInput{ID: oc.ID, Status: "PROCESAR", Principal: operator})
	assert.ErrorIs(t, err, workflow.ErrGuardViolation)
}

func TestOCService_GuardFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")

	_, err := f.ocs.ApproveVP(ctx, TransitionInput{ID: oc.ID, Principal: operator})
	assert.ErrorIs(t, err, workflow.ErrGuardViolation)
	_, err = f.ocs.RouteApproval(ctx, TransitionInput{ID: oc.ID, Principal: operator})
	assert.ErrorIs(t, err, workflow.ErrGuardViolation)

	history, err := f.ocs.History(ctx, oc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Empty(t, f.events.statuses())

	stored, err := f.ocs.Get(ctx, oc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
}

func TestOCService_SetStatusPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")

	_, err := f.ocs.SetStatus(ctx, StatusChangeInput{ID: oc.ID, Status: "PROCESAR", Principal: requester})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.ocs.SetStatus(ctx, StatusChangeInput{ID: oc.ID, Status: "BOGUS", Principal: operator})
	assert.ErrorIs(t, err, workflow.ErrValidation)

	_, err = f.ocs.SetStatus(ctx, StatusChangeInput{ID: oc.ID, Status: "ANULADO", Principal: operator})
	assert.ErrorIs(t, err, workflow.ErrGuardViolation)
}

// staleOCStore serves a fixed snapshot on reads while writes hit the real store.
type staleOCStore struct {
	*repository.MemoryStore
	snapshot model.PurchaseOrder
}

func (s *staleOCStore) GetOC(context.Context, uuid.UUID) (*model.PurchaseOrder, error) {
	oc := s.snapshot
	return &oc, nil
}

func TestOCService_ConcurrentTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")
	f.setOCStatus(t, oc.ID, model.OCStatusProcesado)

	snapshot, err := f.ocs.Get(ctx, oc.ID)
	require.NoError(t, err)
	_, err = f.ocs.RequestCancel(ctx, TransitionInput{ID: oc.ID, Principal: requester})
	require.NoError(t, err)

	stale := &staleOCStore{MemoryStore: f.store, snapshot: *snapshot}
	slow := NewOCService(stale, f.store, f.ocs.snapshots, f.events, f.pdf, zerolog.Nop())
	_, err = slow.RouteApproval(ctx, TransitionInput{ID: oc.ID, Principal: operator})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	stored, err := f.ocs.Get(ctx, oc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OCStatusAnular, stored.Status)
	history, err := f.ocs.History(ctx, oc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestOCService_Consumption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")

	f.createInvoice(t, oc.ID, model.DocTypeInvoice, "4000")
	f.createInvoice(t, oc.ID, model.DocTypeCreditNote, "1000")
	rejected := f.createInvoice(t, oc.ID, model.DocTypeInvoice, "2000")
	_, err := f.invoices.Reject(ctx, TransitionInput{ID: rejected.ID, Note: "wrong supplier", Principal: operator})
	require.NoError(t, err)

	c, err := f.ocs.Consumption(ctx, oc.ID)
	require.NoError(t, err)
	assert.Equal(t, "3000.00", c.Consumed.StringFixed(2))
	assert.Equal(t, "7000.00", c.Available.StringFixed(2))
	assert.Equal(t, 2, c.InvoiceCount)

	file, err := f.ocs.ConsumptionPDF(ctx, oc.ID)
	require.NoError(t, err)
	assert.Equal(t, "consumo-"+oc.ID.String()+"-20260315.pdf", file.FileName)
	assert.Len(t, f.pdf.statement.Invoices, 3)
	assert.True(t, f.pdf.statement.Consumption.Available.Equal(c.Available))

	_, err = f.ocs.Consumption(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "OC-2026-001", sanitizeFileName("OC 2026/001"))
	assert.Equal(t, "abc", sanitizeFileName("a*b?c"))
}
