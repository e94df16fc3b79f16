package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nurpe/procurement-workflow/internal/model"
	"github.com/nurpe/procurement-workflow/internal/workflow"
)

type BulkRowType string

const (
	BulkRowOC      BulkRowType = "oc"
	BulkRowInvoice BulkRowType = "invoice"
)

type BulkAction string

const (
	BulkActionCreated BulkAction = "created"
	BulkActionUpdated BulkAction = "updated"
	BulkActionSkipped BulkAction = "skipped"
	BulkActionError   BulkAction = "error"
)

// BulkRow is one proposed change. ID selects an update; otherwise the row creates.
// DecodeErr carries a payload that could not be read into OC or Invoice.
type BulkRow struct {
	Row       int
	Type      BulkRowType
	ID        *uuid.UUID
	OC        *OCInput
	Invoice   *InvoiceInput
	DecodeErr error
}

type BulkInput struct {
	Rows      []BulkRow
	DryRun    bool
	Principal model.Principal
}

type BulkSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (s *BulkSummary) count(action BulkAction) {
	switch action {
	case BulkActionCreated:
		s.Created++
	case BulkActionUpdated:
		s.Updated++
	case BulkActionSkipped:
		s.Skipped++
	case BulkActionError:
		s.Errors++
	}
}

type BulkRowResult struct {
	Row     int              `json:"row"`
	Type    BulkRowType      `json:"type"`
	Action  BulkAction       `json:"action"`
	ID      *uuid.UUID       `json:"id,omitempty"`
	Message string           `json:"message"`
	Issues  []workflow.Issue `json:"issues,omitempty"`
}

type BulkResult struct {
	DryRun  bool                        `json:"dryRun"`
	Summary BulkSummary                 `json:"summary"`
	ByType  map[BulkRowType]BulkSummary `json:"byType"`
	Rows    []BulkRowResult             `json:"rows"`
}

type ExcelGenerator interface {
	Generate(result BulkResult) ([]byte, error)
}

// BulkService applies a batch of row-level changes through the same paths as
// the single-document endpoints. Rows are independent: the batch is not atomic.
type BulkService struct {
	ocs      *OCService
	invoices *InvoiceService
	excel    ExcelGenerator
	log      zerolog.Logger
}

func NewBulkService(ocs *OCService, invoices *InvoiceService, excel ExcelGenerator, log zerolog.Logger) *BulkService {
	return &BulkService{ocs: ocs, invoices: invoices, excel: excel, log: log}
}

// Reconcile classifies every row. In dry-run mode nothing is persisted and each
// row is checked against the stored state only, not against earlier rows.
func (s *BulkService) Reconcile(ctx context.Context, input BulkInput) (*BulkResult, error) {
	result := &BulkResult{
		DryRun: input.DryRun,
		ByType: map[BulkRowType]BulkSummary{
			BulkRowOC:      {},
			BulkRowInvoice: {},
		},
		Rows: make([]BulkRowResult, 0, len(input.Rows)),
	}
	for i, row := range input.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if row.Row == 0 {
			row.Row = i + 1
		}
		outcome := s.apply(ctx, row, input.DryRun, input.Principal)
		result.Rows = append(result.Rows, outcome)
		result.Summary.count(outcome.Action)
		if byType, ok := result.ByType[outcome.Type]; ok {
			byType.count(outcome.Action)
			result.ByType[outcome.Type] = byType
		}
	}

	s.log.Info().
		Bool("dry_run", input.DryRun).
		Int("rows", len(input.Rows)).
		Int("created", result.Summary.Created).
		Int("updated", result.Summary.Updated).
		Int("skipped", result.Summary.Skipped).
		Int("errors", result.Summary.Errors).
		Msg("bulk import reconciled")
	return result, nil
}

func (s *BulkService) apply(ctx context.Context, row BulkRow, dryRun bool, principal model.Principal) BulkRowResult {
	out := BulkRowResult{Row: row.Row, Type: row.Type}
	var (
		action   BulkAction
		id       uuid.UUID
		warnings []string
		err      error
	)
	switch {
	case row.DecodeErr != nil && (row.Type == BulkRowOC || row.Type == BulkRowInvoice):
		err = decodeFailure(row.DecodeErr)
	case row.Type == BulkRowOC:
		if row.OC == nil {
			err = fmt.Errorf("%w: row has no OC data", ErrInvalidInput)
			break
		}
		in := *row.OC
		in.Principal = principal
		action, id, warnings, err = s.applyOC(ctx, row.ID, in, dryRun)
	case row.Type == BulkRowInvoice:
		if row.Invoice == nil {
			err = fmt.Errorf("%w: row has no invoice data", ErrInvalidInput)
			break
		}
		in := *row.Invoice
		in.Principal = principal
		action, id, warnings, err = s.applyInvoice(ctx, row.ID, in, dryRun)
	default:
		err = fmt.Errorf("%w: unknown row type %q", ErrInvalidInput, row.Type)
	}

	if err != nil {
		out.Action = BulkActionError
		out.Message = err.Error()
		out.Issues = workflow.IssuesOf(err)
		if errors.Is(err, workflow.ErrValidation) || errors.Is(err, workflow.ErrAllocationMismatch) {
			out.Message = "validation failed"
		}
		return out
	}
	out.Action = action
	if id != uuid.Nil {
		out.ID = &id
	}
	out.Message = strings.Join(warnings, "; ")
	return out
}

// decodeFailure reports an unreadable payload as a validation issue on the
// offending field, or on the payload as a whole when no field is known.
func decodeFailure(err error) error {
	if len(workflow.IssuesOf(err)) > 0 {
		return err
	}
	path := []string{"data"}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		path = strings.Split(typeErr.Field, ".")
	}
	verr := &workflow.ValidationError{}
	verr.Add("invalid value: "+err.Error(), path...)
	return verr
}

func (s *BulkService) applyOC(ctx context.Context, id *uuid.UUID, in OCInput, dryRun bool) (BulkAction, uuid.UUID, []string, error) {
	if id == nil {
		if dryRun {
			_, err := s.ocs.prepareCreate(ctx, in)
			return BulkActionCreated, uuid.Nil, nil, err
		}
		res, err := s.ocs.Create(ctx, in)
		if err != nil {
			return "", uuid.Nil, nil, err
		}
		return BulkActionCreated, res.OC.ID, res.Warnings, nil
	}

	plan, err := s.ocs.planUpdate(ctx, *id, in)
	if err != nil {
		return "", uuid.Nil, nil, err
	}
	if !plan.changed {
		return BulkActionSkipped, *id, nil, nil
	}
	if dryRun {
		return BulkActionUpdated, *id, plan.warnings, nil
	}
	res, err := s.ocs.Update(ctx, *id, in)
	if err != nil {
		return "", uuid.Nil, nil, err
	}
	return BulkActionUpdated, *id, res.Warnings, nil
}

func (s *BulkService) applyInvoice(ctx context.Context, id *uuid.UUID, in InvoiceInput, dryRun bool) (BulkAction, uuid.UUID, []string, error) {
	if id == nil {
		if dryRun {
			_, warnings, err := s.invoices.prepareCreate(ctx, in)
			return BulkActionCreated, uuid.Nil, warnings, err
		}
		res, err := s.invoices.Create(ctx, in)
		if err != nil {
			return "", uuid.Nil, nil, err
		}
		return BulkActionCreated, res.Invoice.ID, res.Warnings, nil
	}

	plan, err := s.invoices.planUpdate(ctx, *id, in)
	if err != nil {
		return "", uuid.Nil, nil, err
	}
	if !plan.changed {
		return BulkActionSkipped, *id, nil, nil
	}
	if dryRun {
		return BulkActionUpdated, *id, plan.warnings, nil
	}
	res, err := s.invoices.Update(ctx, *id, in)
	if err != nil {
		return "", uuid.Nil, nil, err
	}
	return BulkActionUpdated, *id, res.Warnings, nil
}

// Export renders a reconciliation outcome as a workbook.
func (s *BulkService) Export(result *BulkResult) (*FileResult, error) {
	content, err := s.excel.Generate(*result)
	if err != nil {
		return nil, err
	}
	mode := "commit"
	if result.DryRun {
		mode = "dry-run"
	}
	return &FileResult{
		FileName: fmt.Sprintf("bulk-import-%s-%s.xlsx", mode, s.ocs.snapshots.Now().Format("20060102-150405")),
		Content:  content,
	}, nil
}
