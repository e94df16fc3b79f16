package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/procurement-workflow/internal/model"
	"github.com/nurpe/procurement-workflow/internal/workflow"
)

func ocRows(amounts ...string) []BulkRow {
	rows := make([]BulkRow, 0, len(amounts))
	for i, amount := range amounts {
		in := ocInput(amount)
		rows = append(rows, BulkRow{Row: i + 2, Type: BulkRowOC, OC: &in})
	}
	return rows
}

func TestBulkService_DryRunPersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")

	result, err := f.bulk.Reconcile(ctx, BulkInput{Rows: ocRows("1000", "0", "2500"), DryRun: true, Principal: operator})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, BulkSummary{Created: 2, Errors: 1}, result.Summary)
	assert.Equal(t, BulkSummary{Created: 2, Errors: 1}, result.ByType[BulkRowOC])
	assert.Equal(t, BulkSummary{}, result.ByType[BulkRowInvoice])

	require.Len(t, result.Rows, 3)
	assert.Equal(t, 3, result.Rows[1].Row)
	assert.Equal(t, BulkActionError, result.Rows[1].Action)
	assert.Equal(t, "validation failed", result.Rows[1].Message)
	require.Len(t, result.Rows[1].Issues, 1)
	assert.Equal(t, []string{"amountExcludingTax"}, result.Rows[1].Issues[0].Path)
	for _, row := range result.Rows {
		assert.Nil(t, row.ID)
	}

	ocs, invoices := f.store.Counts()
	assert.Zero(t, ocs)
	assert.Zero(t, invoices)
	assert.Empty(t, f.events.statuses())
}

func TestBulkService_CommitMatchesDryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	rows := ocRows("1000", "0", "2500")

	preview, err := f.bulk.Reconcile(ctx, BulkInput{Rows: rows, DryRun: true, Principal: operator})
	require.NoError(t, err)
	result, err := f.bulk.Reconcile(ctx, BulkInput{Rows: rows, Principal: operator})
	require.NoError(t, err)

	assert.Equal(t, preview.Summary, result.Summary)
	for i := range result.Rows {
		assert.Equal(t, preview.Rows[i].Action, result.Rows[i].Action)
	}
	require.NotNil(t, result.Rows[0].ID)
	assert.Nil(t, result.Rows[1].ID)

	ocs, _ := f.store.Counts()
	assert.Equal(t, 2, ocs)

	stored, err := f.ocs.Get(ctx, *result.Rows[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "2500", stored.AmountExcludingTax.String())

	history, err := f.ocs.History(ctx, stored.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ana", history[0].ChangedBy)
}

func TestBulkService_UpdatesAndSkips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")
	inv := f.createInvoice(t, oc.ID, model.DocTypeInvoice, "1000")

	same := ocInput("10000")
	changed := invoiceInput(oc.ID, model.DocTypeInvoice, "1200")
	newInvoice := invoiceInput(oc.ID, model.DocTypeCreditNote, "100")
	rows := []BulkRow{
		{Type: BulkRowOC, ID: &oc.ID, OC: &same},
		{Type: BulkRowInvoice, ID: &inv.ID, Invoice: &changed},
		{Type: BulkRowInvoice, Invoice: &newInvoice},
		{Type: "contract"},
		{Type: BulkRowInvoice},
	}

	result, err := f.bulk.Reconcile(ctx, BulkInput{Rows: rows, Principal: operator})
	require.NoError(t, err)

	actions := make([]BulkAction, 0, len(result.Rows))
	for _, row := range result.Rows {
		actions = append(actions, row.Action)
	}
	assert.Equal(t, []BulkAction{BulkActionSkipped, BulkActionUpdated, BulkActionCreated, BulkActionError, BulkActionError}, actions)
	assert.Equal(t, BulkSummary{Created: 1, Updated: 1, Skipped: 1, Errors: 2}, result.Summary)
	assert.Equal(t, BulkSummary{Skipped: 1}, result.ByType[BulkRowOC])
	assert.Equal(t, BulkSummary{Created: 1, Updated: 1, Errors: 1}, result.ByType[BulkRowInvoice])
	assert.Equal(t, 4, result.Rows[3].Row)
	assert.Contains(t, result.Rows[3].Message, "unknown row type")

	stored, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "1200", stored.AmountExcludingTax.String())
	assert.Equal(t, int64(2), stored.Version)

	storedOC, err := f.ocs.Get(ctx, oc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), storedOC.Version)
}

func TestBulkService_DryRunUpdateLeavesDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "10000")

	in := ocInput("15000")
	result, err := f.bulk.Reconcile(ctx, BulkInput{
		Rows:      []BulkRow{{Type: BulkRowOC, ID: &oc.ID, OC: &in}},
		DryRun:    true,
		Principal: operator,
	})
	require.NoError(t, err)
	assert.Equal(t, BulkActionUpdated, result.Rows[0].Action)

	stored, err := f.ocs.Get(ctx, oc.ID)
	require.NoError(t, err)
	assert.Equal(t, "10000", stored.AmountExcludingTax.String())
	assert.Equal(t, int64(1), stored.Version)
}

func TestBulkService_UpdateKeepsInvoicedCurrency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "warn")
	oc := f.createOC(t, "5000")
	f.createInvoice(t, oc.ID, model.DocTypeInvoice, "2000")

	in := ocInput("5000")
	in.Currency = "USD"
	result, err := f.bulk.Reconcile(ctx, BulkInput{
		Rows:      []BulkRow{{Type: BulkRowOC, ID: &oc.ID, OC: &in}},
		DryRun:    true,
		Principal: operator,
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, BulkActionError, result.Rows[0].Action)
	require.Len(t, result.Rows[0].Issues, 1)
	assert.Equal(t, []string{"currency"}, result.Rows[0].Issues[0].Path)
}

func TestBulkService_DecodeFailure(t *testing.T) {
	f := newFixture(t, "warn")
	fieldErr := &workflow.ValidationError{}
	fieldErr.Add("invalid value", "amountExcludingTax")
	rows := []BulkRow{
		{Type: BulkRowOC, DecodeErr: fieldErr},
		{Type: BulkRowInvoice, DecodeErr: &json.UnmarshalTypeError{Value: "string", Type: reflect.TypeOf(0), Field: "allocations.0.percentage"}},
		{Type: BulkRowInvoice, DecodeErr: errors.New("unexpected end of JSON input")},
	}

	result, err := f.bulk.Reconcile(context.Background(), BulkInput{Rows: rows, DryRun: true, Principal: operator})
	require.NoError(t, err)

	want := [][]string{
		{"amountExcludingTax"},
		{"allocations", "0", "percentage"},
		{"data"},
	}
	for i, row := range result.Rows {
		assert.Equal(t, BulkActionError, row.Action)
		assert.Equal(t, "validation failed", row.Message)
		require.Len(t, row.Issues, 1)
		assert.Equal(t, want[i], row.Issues[0].Path)
	}
	assert.Equal(t, BulkSummary{Errors: 1}, result.ByType[BulkRowOC])
	assert.Equal(t, BulkSummary{Errors: 2}, result.ByType[BulkRowInvoice])
}

func TestBulkService_Export(t *testing.T) {
	f := newFixture(t, "warn")

	file, err := f.bulk.Export(&BulkResult{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "bulk-import-dry-run-20260315-100000.xlsx", file.FileName)
	assert.Equal(t, []byte("xlsx"), file.Content)

	file, err = f.bulk.Export(&BulkResult{})
	require.NoError(t, err)
	assert.Equal(t, "bulk-import-commit-20260315-100000.xlsx", file.FileName)
}
