package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nurpe/procurement-workflow/internal/model"
	"github.com/nurpe/procurement-workflow/internal/workflow"
)

type InvoiceService struct {
	invoices  InvoiceStore
	ocs       OCStore
	snapshots *Snapshots
	events    Publisher
	log       zerolog.Logger
}

type InvoiceInput struct {
	Number               string
	OCID                 *uuid.UUID
	SupportID            *uuid.UUID
	DocType              model.DocType
	Currency             string
	AmountExcludingTax   decimal.Decimal
	ExchangeRateOverride *decimal.Decimal
	Allocations          []model.CostCenterAllocation
	Periods              []string
	AccountingMonth      *string
	Version              *int64
	Principal            model.Principal
}

type InvoiceResult struct {
	Invoice  *model.Invoice `json:"invoice"`
	Warnings []string       `json:"warnings,omitempty"`
}

func NewInvoiceService(invoices InvoiceStore, ocs OCStore, snapshots *Snapshots, events Publisher, log zerolog.Logger) *InvoiceService {
	if events == nil {
		events = noopPublisher{}
	}
	return &InvoiceService{
		invoices:  invoices,
		ocs:       ocs,
		snapshots: snapshots,
		events:    events,
		log:       log,
	}
}

func (in InvoiceInput) apply(inv *model.Invoice) {
	inv.Number = in.Number
	inv.OCID = in.OCID
	inv.SupportID = in.SupportID
	inv.DocType = in.DocType
	if inv.DocType == "" {
		inv.DocType = model.DocTypeInvoice
	}
	inv.Currency = in.Currency
	inv.AmountExcludingTax = in.AmountExcludingTax
	inv.ExchangeRateOverride = in.ExchangeRateOverride
	inv.Allocations = append([]model.CostCenterAllocation(nil), in.Allocations...)
	inv.Periods = append([]string(nil), in.Periods...)
	inv.AccountingMonth = in.AccountingMonth
}

func (s *InvoiceService) Create(ctx context.Context, input InvoiceInput) (*InvoiceResult, error) {
	inv, warnings, err := s.prepareCreate(ctx, input)
	if err != nil {
		return nil, err
	}
	entry := model.StatusHistoryEntry{
		Status:    string(inv.Status),
		ChangedAt: inv.CreatedAt,
		Note:      "created",
		ChangedBy: input.Principal.Actor(),
	}
	if err := s.invoices.CreateInvoice(ctx, inv, entry); err != nil {
		return nil, storeError(err)
	}
	inv.StatusHistory = []model.StatusHistoryEntry{entry}

	event := s.log.Info().Str("invoice_id", inv.ID.String()).Str("actor", entry.ChangedBy)
	if len(warnings) > 0 {
		event = event.Strs("warnings", warnings)
	}
	event.Msg("invoice created")
	return &InvoiceResult{Invoice: inv, Warnings: warnings}, nil
}

func (s *InvoiceService) prepareCreate(ctx context.Context, input InvoiceInput) (*model.Invoice, []string, error) {
	now := s.snapshots.Now()
	inv := &model.Invoice{
		ID:        uuid.New(),
		Status:    model.InvoiceStatusIngresado,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	input.apply(inv)
	warnings, err := s.check(ctx, inv)
	if err != nil {
		return nil, nil, err
	}
	return inv, warnings, nil
}

type invoicePlan struct {
	current  *model.Invoice
	next     *model.Invoice
	changed  bool
	warnings []string
}

func (s *InvoiceService) Update(ctx context.Context, id uuid.UUID, input InvoiceInput) (*InvoiceResult, error) {
	plan, err := s.planUpdate(ctx, id, input)
	if err != nil {
		return nil, err
	}
	if !plan.changed {
		return &InvoiceResult{Invoice: plan.current}, nil
	}
	if err := s.invoices.UpdateInvoice(ctx, plan.next, plan.current.Version); err != nil {
		return nil, storeError(err)
	}
	s.log.Info().Str("invoice_id", id.String()).Int64("version", plan.next.Version).Msg("invoice updated")
	return &InvoiceResult{Invoice: plan.next, Warnings: plan.warnings}, nil
}

func (s *InvoiceService) planUpdate(ctx context.Context, id uuid.UUID, input InvoiceInput) (*invoicePlan, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Version != nil && *input.Version != current.Version {
		return nil, fmt.Errorf("%w: invoice %s is at version %d", ErrConcurrentModification, id, current.Version)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: invoice %s is %s and can no longer be edited", workflow.ErrGuardViolation, id, current.Status)
	}

	next := *current
	next.StatusHistory = nil
	input.apply(&next)
	warnings, err := s.check(ctx, &next)
	if err != nil {
		return nil, err
	}
	if sameInvoice(current, &next) {
		return &invoicePlan{current: current, next: current}, nil
	}
	next.UpdatedAt = s.snapshots.Now()
	return &invoicePlan{current: current, next: &next, changed: true, warnings: warnings}, nil
}

// check validates inv against its OC or support and applies the
// over-consumption policy when the invoice adds to an OC's consumption.
func (s *InvoiceService) check(ctx context.Context, inv *model.Invoice) ([]string, error) {
	verr := &workflow.ValidationError{}
	var (
		oc     *model.PurchaseOrder
		domain workflow.CostCenterDomain
	)
	switch {
	case inv.OCID != nil:
		found, err := s.ocs.GetOC(ctx, *inv.OCID)
		switch {
		case errors.Is(storeError(err), ErrNotFound):
			verr.Add("OC "+inv.OCID.String()+" does not exist", "ocId")
		case err != nil:
			return nil, err
		case found.Status == model.OCStatusAnulado:
			verr.Add("OC "+found.ID.String()+" is cancelled and accepts no invoices", "ocId")
		default:
			oc = found
			domain = workflow.NewCostCenterDomain(found.CostCenterIDs()...)
		}
	case inv.SupportID != nil:
		d, err := s.snapshots.supportDomain(ctx, *inv.SupportID)
		if err != nil {
			return nil, err
		}
		domain = d
	}

	if err := workflow.PrepareInvoice(inv, domain); err != nil {
		if !verr.Merge(err) {
			return nil, err
		}
	}
	if oc != nil && inv.Currency != oc.Currency {
		verr.Add("currency must match the OC currency "+oc.Currency, "currency")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	if oc == nil || inv.Status == model.InvoiceStatusRechazado {
		return nil, nil
	}

	warning, err := s.capacity(ctx, oc, inv)
	if err != nil {
		return nil, err
	}
	if warning == "" {
		return nil, nil
	}
	return []string{warning}, nil
}

// capacity compares the OC balance with and without inv's new state. Only a
// change that lowers the available balance is subject to the policy.
func (s *InvoiceService) capacity(ctx context.Context, oc *model.PurchaseOrder, inv *model.Invoice) (string, error) {
	stored, err := s.invoices.ListInvoicesByOC(ctx, oc.ID)
	if err != nil {
		return "", err
	}
	proposed := make([]model.Invoice, 0, len(stored)+1)
	for _, existing := range stored {
		if existing.ID != inv.ID {
			proposed = append(proposed, existing)
		}
	}
	proposed = append(proposed, *inv)

	before := workflow.Consumption(oc, stored)
	after := workflow.Consumption(oc, proposed)
	if !after.Available.LessThan(before.Available) {
		return "", nil
	}
	return s.snapshots.Policy().CheckCapacity(after)
}

func (s *InvoiceService) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	return s.get(ctx, id)
}

func (s *InvoiceService) History(ctx context.Context, id uuid.UUID) ([]model.StatusHistoryEntry, error) {
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.invoices.ListInvoiceHistory(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return history, nil
}

func (s *InvoiceService) ApproveHead(ctx context.Context, input TransitionInput) (*model.Invoice, error) {
	return s.transition(ctx, input.ID, func(e *workflow.Engine, inv *model.Invoice) (model.InvoiceTransition, error) {
		return e.ApproveInvoiceHead(inv, input.Principal.Actor())
	})
}

func (s *InvoiceService) ApproveVP(ctx context.Context, input TransitionInput) (*model.Invoice, error) {
	return s.transition(ctx, input.ID, func(e *workflow.Engine, inv *model.Invoice) (model.InvoiceTransition, error) {
		return e.ApproveInvoiceVP(inv, input.Principal.Actor())
	})
}

func (s *InvoiceService) Reject(ctx context.Context, input TransitionInput) (*model.Invoice, error) {
	return s.transition(ctx, input.ID, func(e *workflow.Engine, inv *model.Invoice) (model.InvoiceTransition, error) {
		return e.RejectInvoice(inv, input.Note, input.Principal.Actor())
	})
}

// Reopen puts a rejected invoice back into the flow. Its amount counts again,
// so the OC must still accept it and the consumption policy applies.
func (s *InvoiceService) Reopen(ctx context.Context, input TransitionInput) (*model.Invoice, error) {
	if !input.Principal.IsOperator() {
		return nil, ErrPermissionDenied
	}
	return s.transition(ctx, input.ID, func(e *workflow.Engine, inv *model.Invoice) (model.InvoiceTransition, error) {
		tr, err := e.ReopenInvoice(inv, input.Note, input.Principal.Actor())
		if err != nil {
			return tr, err
		}
		if inv.OCID == nil {
			return tr, nil
		}
		oc, err := s.ocs.GetOC(ctx, *inv.OCID)
		if err != nil {
			return tr, storeError(err)
		}
		if oc.Status == model.OCStatusAnulado {
			return tr, fmt.Errorf("%w: OC %s is cancelled, invoice %s cannot be reopened", workflow.ErrGuardViolation, oc.ID, inv.ID)
		}
		reopened := *inv
		reopened.Status = tr.To
		warning, err := s.capacity(ctx, oc, &reopened)
		if err != nil {
			return tr, err
		}
		if warning != "" {
			s.log.Warn().Str("invoice_id", inv.ID.String()).Msg(warning)
		}
		return tr, nil
	})
}

func (s *InvoiceService) SetStatus(ctx context.Context, input StatusChangeInput) (*model.Invoice, error) {
	if !input.Principal.IsOperator() {
		return nil, ErrPermissionDenied
	}
	target := model.InvoiceStatus(input.Status)
	return s.transition(ctx, input.ID, func(e *workflow.Engine, inv *model.Invoice) (model.InvoiceTransition, error) {
		return e.OverrideInvoiceStatus(inv, target, input.Note, input.Principal.Actor())
	})
}

type invoiceStep func(e *workflow.Engine, inv *model.Invoice) (model.InvoiceTransition, error)

func (s *InvoiceService) transition(ctx context.Context, id uuid.UUID, step invoiceStep) (*model.Invoice, error) {
	engine, err := s.snapshots.Engine(ctx)
	if err != nil {
		return nil, err
	}
	inv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	tr, err := step(engine, inv)
	if err != nil {
		return nil, err
	}
	updated, err := s.invoices.TransitionInvoice(ctx, id, inv.Version, tr)
	if err != nil {
		return nil, storeError(err)
	}

	s.log.Info().
		Str("invoice_id", id.String()).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Str("actor", tr.Entry.ChangedBy).
		Msg("invoice status changed")
	s.events.Publish(ctx, statusEvent(model.DocumentTypeInvoice, id, string(tr.To), tr.Entry.ChangedAt))
	return updated, nil
}

func (s *InvoiceService) get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	inv, err := s.invoices.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(storeError(err), ErrNotFound) {
			return nil, fmt.Errorf("%w: invoice %s", ErrNotFound, id)
		}
		return nil, err
	}
	return inv, nil
}

func sameInvoice(a, b *model.Invoice) bool {
	return a.Number == b.Number &&
		sameUUID(a.OCID, b.OCID) &&
		sameUUID(a.SupportID, b.SupportID) &&
		a.DocType == b.DocType &&
		a.Currency == b.Currency &&
		a.AmountExcludingTax.Equal(b.AmountExcludingTax) &&
		sameDecimal(a.ExchangeRateOverride, b.ExchangeRateOverride) &&
		slices.Equal(a.Periods, b.Periods) &&
		sameString(a.AccountingMonth, b.AccountingMonth) &&
		sameAllocations(a.Allocations, b.Allocations)
}

func sameDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
