package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nurpe/procurement-workflow/internal/model"
	"github.com/nurpe/procurement-workflow/internal/workflow"
)

type PDFGenerator interface {
	Generate(statement model.ConsumptionStatement) ([]byte, error)
}

type OCService struct {
	ocs       OCStore
	invoices  InvoiceStore
	snapshots *Snapshots
	events    Publisher
	pdf       PDFGenerator
	log       zerolog.Logger
}

type OCInput struct {
	Number             string
	SupportID          *uuid.UUID
	Currency           string
	AmountExcludingTax decimal.Decimal
	Requester          string
	Allocations        []model.CostCenterAllocation
	BudgetPeriodFrom   string
	BudgetPeriodTo     string
	Version            *int64
	Principal          model.Principal
}

type OCResult struct {
	OC       *model.PurchaseOrder `json:"oc"`
	Warnings []string            `json:"warnings,omitempty"`
}

// TransitionInput drives every guarded transition of both document types.
type TransitionInput struct {
	ID        uuid.UUID
	Note      string
	Principal model.Principal
}

// StatusChangeInput drives the privileged manual override.
type StatusChangeInput struct {
	ID        uuid.UUID
	Status    string
	Note      string
	Principal model.Principal
}

type FileResult struct {
	FileName string
	Content  []byte
}

func NewOCService(ocs OCStore, invoices InvoiceStore, snapshots *Snapshots, events Publisher, pdf PDFGenerator, log zerolog.Logger) *OCService {
	if events == nil {
		events = noopPublisher{}
	}
	return &OCService{
		ocs:       ocs,
		invoices:  invoices,
		snapshots: snapshots,
		events:    events,
		pdf:       pdf,
		log:       log,
	}
}

func (in OCInput) apply(oc *model.PurchaseOrder) {
	oc.Number = in.Number
	oc.SupportID = in.SupportID
	oc.Currency = in.Currency
	oc.AmountExcludingTax = in.AmountExcludingTax
	oc.Requester = in.Requester
	oc.Allocations = append([]model.CostCenterAllocation(nil), in.Allocations...)
	oc.BudgetPeriodFrom = in.BudgetPeriodFrom
	oc.BudgetPeriodTo = in.BudgetPeriodTo
}

func (s *OCService) Create(ctx context.Context, input OCInput) (*OCResult, error) {
	oc, err := s.prepareCreate(ctx, input)
	if err != nil {
		return nil, err
	}
	entry := model.StatusHistoryEntry{
		Status:    string(oc.Status),
		ChangedAt: oc.CreatedAt,
		Note:      "created",
		ChangedBy: input.Principal.Actor(),
	}
	if err := s.ocs.CreateOC(ctx, oc, entry); err != nil {
		return nil, storeError(err)
	}
	s.log.Info().Str("oc_id", oc.ID.String()).Str("actor", entry.ChangedBy).Msg("oc created")
	return &OCResult{OC: oc}, nil
}

func (s *OCService) prepareCreate(ctx context.Context, input OCInput) (*model.PurchaseOrder, error) {
	now := s.snapshots.Now()
	oc := &model.PurchaseOrder{
		ID:        uuid.New(),
		Status:    model.OCStatusPendiente,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	input.apply(oc)
	if err := s.validate(ctx, oc); err != nil {
		return nil, err
	}
	return oc, nil
}

type ocPlan struct {
	current  *model.PurchaseOrder
	next     *model.PurchaseOrder
	changed  bool
	warnings []string
}

func (s *OCService) Update(ctx context.Context, id uuid.UUID, input OCInput) (*OCResult, error) {
	plan, err := s.planUpdate(ctx, id, input)
	if err != nil {
		return nil, err
	}
	if !plan.changed {
		return &OCResult{OC: plan.current}, nil
	}
	if err := s.ocs.UpdateOC(ctx, plan.next, plan.current.Version); err != nil {
		return nil, storeError(err)
	}
	s.log.Info().Str("oc_id", id.String()).Int64("version", plan.next.Version).Msg("oc updated")
	return &OCResult{OC: plan.next, Warnings: plan.warnings}, nil
}

func (s *OCService) planUpdate(ctx context.Context, id uuid.UUID, input OCInput) (*ocPlan, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Version != nil && *input.Version != current.Version {
		return nil, fmt.Errorf("%w: OC %s is at version %d", ErrConcurrentModification, id, current.Version)
	}
	if current.Status.Terminal() || current.Status == model.OCStatusAnular {
		return nil, fmt.Errorf("%w: OC %s is %s and can no longer be edited", workflow.ErrGuardViolation, id, current.Status)
	}

	next := *current
	input.apply(&next)
	if err := s.validate(ctx, &next); err != nil {
		return nil, err
	}
	if sameOC(current, &next) {
		return &ocPlan{current: current, next: current}, nil
	}
	next.UpdatedAt = s.snapshots.Now()

	invoices, err := s.invoices.ListInvoicesByOC(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkInvoiceReferences(current, &next, invoices); err != nil {
		return nil, err
	}

	plan := &ocPlan{current: current, next: &next, changed: true}
	if next.AmountExcludingTax.LessThan(current.AmountExcludingTax) {
		warning, err := s.snapshots.Policy().CheckCapacity(workflow.Consumption(&next, invoices))
		if err != nil {
			return nil, err
		}
		if warning != "" {
			plan.warnings = append(plan.warnings, warning)
		}
	}
	return plan, nil
}

// checkInvoiceReferences keeps an edited OC compatible with the invoices
// charged to it. Rejected invoices hold no claim on the OC.
func checkInvoiceReferences(current, next *model.PurchaseOrder, invoices []model.Invoice) error {
	used := make(map[string]struct{})
	active := false
	for _, inv := range invoices {
		if inv.Status == model.InvoiceStatusRechazado {
			continue
		}
		active = true
		for _, a := range inv.Allocations {
			used[a.CostCenterID] = struct{}{}
		}
	}
	if !active {
		return nil
	}

	verr := &workflow.ValidationError{}
	if next.Currency != current.Currency {
		verr.Add("currency cannot change while invoices reference the OC in "+current.Currency, "currency")
	}
	domain := workflow.NewCostCenterDomain(next.CostCenterIDs()...)
	for _, ceco := range slices.Sorted(maps.Keys(used)) {
		if !domain.Contains(ceco) {
			verr.Add("cost center "+ceco+" is still allocated by invoices of the OC", "allocations")
		}
	}
	return verr.Err()
}

// validate checks the OC's fields against the cost centers of its support.
func (s *OCService) validate(ctx context.Context, oc *model.PurchaseOrder) error {
	var domain workflow.CostCenterDomain
	if oc.SupportID != nil {
		d, err := s.snapshots.supportDomain(ctx, *oc.SupportID)
		if err != nil {
			return err
		}
		domain = d
	}
	return workflow.PrepareOC(oc, domain)
}

func (s *OCService) Get(ctx context.Context, id uuid.UUID) (*model.PurchaseOrder, error) {
	return s.get(ctx, id)
}

func (s *OCService) History(ctx context.Context, id uuid.UUID) ([]model.StatusHistoryEntry, error) {
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.ocs.ListOCHistory(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return history, nil
}

// Consumption always recomputes the balance from the invoices as stored now.
func (s *OCService) Consumption(ctx context.Context, id uuid.UUID) (*model.Consumption, error) {
	oc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	invoices, err := s.invoices.ListInvoicesByOC(ctx, id)
	if err != nil {
		return nil, err
	}
	c := workflow.Consumption(oc, invoices)
	return &c, nil
}

func (s *OCService) ConsumptionPDF(ctx context.Context, id uuid.UUID) (*FileResult, error) {
	oc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	invoices, err := s.invoices.ListInvoicesByOC(ctx, id)
	if err != nil {
		return nil, err
	}
	statement := model.ConsumptionStatement{
		OC:          *oc,
		Consumption: workflow.Consumption(oc, invoices),
		Invoices:    invoices,
		GeneratedAt: s.snapshots.Now(),
	}
	content, err := s.pdf.Generate(statement)
	if err != nil {
		return nil, err
	}
	name := oc.Number
	if name == "" {
		name = oc.ID.String()
	}
	return &FileResult{
		FileName: fmt.Sprintf("consumo-%s-%s.pdf", sanitizeFileName(name), statement.GeneratedAt.Format("20060102")),
		Content:  content,
	}, nil
}

func (s *OCService) RouteApproval(ctx context.Context, input TransitionInput) (*model.PurchaseOrder, error) {
	return s.transition(ctx, input.ID, func(e *workflow.Engine, oc *model.PurchaseOrder) (model.OCTransition, error) {
		return e.RouteOCApproval(oc, input.Principal.Actor())
	})
}

func (s *OCService) ApproveVP(ctx context.Context, input TransitionInput) (*model.PurchaseOrder, error) {
	return s.transition(ctx, input.ID, func(e *workflow.Engine, oc *model.PurchaseOrder) (model.OCTransition, error) {
		return e.ApproveOCVP(oc, input.Principal.Actor())
	})
}

func (s *OCService) RequestCancel(ctx context.Context, input TransitionInput) (*model.PurchaseOrder, error) {
	return s.transition(ctx, input.ID, func(e *workflow.Engine, oc *model.PurchaseOrder) (model.OCTransition, error) {
		return e.RequestOCCancel(oc, input.Note, input.Principal.Actor())
	})
}

func (s *OCService) ApproveCancel(ctx context.Context, input TransitionInput) (*model.PurchaseOrder, error) {
	return s.transition(ctx, input.ID, func(e *workflow.Engine, oc *model.PurchaseOrder) (model.OCTransition, error) {
		return e.ConfirmOCCancel(oc, input.Principal.Actor())
	})
}

func (s *OCService) RejectCancel(ctx context.Context, input TransitionInput) (*model.PurchaseOrder, error) {
	return s.transition(ctx, input.ID, func(e *workflow.Engine, oc *model.PurchaseOrder) (model.OCTransition, error) {
		return e.RejectOCCancel(oc, input.Note, input.Principal.Actor())
	})
}

// SetStatus is the operator override. It bypasses routing but not the
// terminal and cancellation rules.
func (s *OCService) SetStatus(ctx context.Context, input StatusChangeInput) (*model.PurchaseOrder, error) {
	if !input.Principal.IsOperator() {
		return nil, ErrPermissionDenied
	}
	target := model.OCStatus(input.Status)
	return s.transition(ctx, input.ID, func(e *workflow.Engine, oc *model.PurchaseOrder) (model.OCTransition, error) {
		return e.OverrideOCStatus(oc, target, input.Note, input.Principal.Actor())
	})
}

type ocStep func(e *workflow.Engine, oc *model.PurchaseOrder) (model.OCTransition, error)

func (s *OCService) transition(ctx context.Context, id uuid.UUID, step ocStep) (*model.PurchaseOrder, error) {
	engine, err := s.snapshots.Engine(ctx)
	if err != nil {
		return nil, err
	}
	oc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	tr, err := step(engine, oc)
	if err != nil {
		return nil, err
	}
	updated, err := s.ocs.TransitionOC(ctx, id, oc.Version, tr)
	if err != nil {
		return nil, storeError(err)
	}

	s.log.Info().
		Str("oc_id", id.String()).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Str("actor", tr.Entry.ChangedBy).
		Msg("oc status changed")
	s.events.Publish(ctx, statusEvent(model.DocumentTypeOC, id, string(tr.To), tr.Entry.ChangedAt))
	return updated, nil
}

func (s *OCService) get(ctx context.Context, id uuid.UUID) (*model.PurchaseOrder, error) {
	oc, err := s.ocs.GetOC(ctx, id)
	if err != nil {
		if errors.Is(storeError(err), ErrNotFound) {
			return nil, fmt.Errorf("%w: OC %s", ErrNotFound, id)
		}
		return nil, err
	}
	return oc, nil
}

func sameOC(a, b *model.PurchaseOrder) bool {
	return a.Number == b.Number &&
		sameUUID(a.SupportID, b.SupportID) &&
		a.Currency == b.Currency &&
		a.AmountExcludingTax.Equal(b.AmountExcludingTax) &&
		a.Requester == b.Requester &&
		a.BudgetPeriodFrom == b.BudgetPeriodFrom &&
		a.BudgetPeriodTo == b.BudgetPeriodTo &&
		sameAllocations(a.Allocations, b.Allocations)
}

func sameAllocations(a, b []model.CostCenterAllocation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].CostCenterID != b[i].CostCenterID || !a[i].Percentage.Equal(b[i].Percentage) {
			return false
		}
	}
	return true
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sanitizeFileName(input string) string {
	result := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			result = append(result, r)
		case r == ' ' || r == '/':
			result = append(result, '-')
		}
	}
	return string(result)
}
