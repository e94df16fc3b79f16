package workflow

import (
	"fmt"

	"github.com/nurpe/procurement-workflow/internal/model"
)

// RouteOCApproval moves a processed OC to VP approval or straight to purchasing.
func (e *Engine) RouteOCApproval(oc *model.PurchaseOrder, actor string) (model.OCTransition, error) {
	if oc.Status != model.OCStatusProcesado {
		return model.OCTransition{}, guardViolation("OC %s is %s, routing requires %s", oc.ID, oc.Status, model.OCStatusProcesado)
	}
	withTax := e.AmountWithTax(oc.AmountExcludingTax)
	local, err := e.settings.Rates.Normalize(withTax, oc.Currency, nil, oc.CreatedAt.Year())
	if err != nil {
		return model.OCTransition{}, err
	}
	next := model.OCStatusAtenderCompras
	if e.settings.Thresholds.RequiresEscalation(local, e.settings.OCVPKey) {
		next = model.OCStatusAprobacionVP
	}
	note := fmt.Sprintf("routed with amount with tax %s %s", local.StringFixed(2), e.settings.Rates.LocalCurrency())
	return model.OCTransition{From: oc.Status, To: next, Entry: e.entry(string(next), note, actor)}, nil
}

func (e *Engine) ApproveOCVP(oc *model.PurchaseOrder, actor string) (model.OCTransition, error) {
	if oc.Status != model.OCStatusAprobacionVP {
		return model.OCTransition{}, guardViolation("OC %s is %s, VP approval requires %s", oc.ID, oc.Status, model.OCStatusAprobacionVP)
	}
	next := model.OCStatusAtenderCompras
	return model.OCTransition{From: oc.Status, To: next, Entry: e.entry(string(next), "VP approval", actor)}, nil
}

// RequestOCCancel parks the OC in ANULAR and remembers where it came from.
func (e *Engine) RequestOCCancel(oc *model.PurchaseOrder, note, actor string) (model.OCTransition, error) {
	switch oc.Status {
	case model.OCStatusAnulado, model.OCStatusAtendido:
		return model.OCTransition{}, guardViolation("OC %s is %s and cannot be cancelled", oc.ID, oc.Status)
	case model.OCStatusAnular:
		return model.OCTransition{}, guardViolation("OC %s already has a pending cancellation", oc.ID)
	}
	previous := oc.Status
	next := model.OCStatusAnular
	if note == "" {
		note = "cancellation requested"
	}
	return model.OCTransition{
		From:            oc.Status,
		To:              next,
		PreCancelStatus: &previous,
		Entry:           e.entry(string(next), note, actor),
	}, nil
}

func (e *Engine) ConfirmOCCancel(oc *model.PurchaseOrder, actor string) (model.OCTransition, error) {
	if oc.Status != model.OCStatusAnular {
		return model.OCTransition{}, guardViolation("OC %s is %s, no cancellation to confirm", oc.ID, oc.Status)
	}
	next := model.OCStatusAnulado
	return model.OCTransition{From: oc.Status, To: next, Entry: e.entry(string(next), "cancellation confirmed", actor)}, nil
}

// RejectOCCancel restores the status held before the cancellation request.
func (e *Engine) RejectOCCancel(oc *model.PurchaseOrder, note, actor string) (model.OCTransition, error) {
	if oc.Status != model.OCStatusAnular {
		return model.OCTransition{}, guardViolation("OC %s is %s, no cancellation to reject", oc.ID, oc.Status)
	}
	if oc.PreCancelStatus == nil || !oc.PreCancelStatus.Valid() {
		return model.OCTransition{}, guardViolation("OC %s has no recorded pre-cancellation status", oc.ID)
	}
	if err := requireNote(note); err != nil {
		return model.OCTransition{}, err
	}
	next := *oc.PreCancelStatus
	return model.OCTransition{From: oc.Status, To: next, Entry: e.entry(string(next), note, actor)}, nil
}

// OverrideOCStatus is the operator path. Cancellation only happens through the
// request/confirm/reject protocol and terminal statuses are never left.
func (e *Engine) OverrideOCStatus(oc *model.PurchaseOrder, target model.OCStatus, note, actor string) (model.OCTransition, error) {
	if !target.Valid() {
		verr := &ValidationError{}
		verr.Add(fmt.Sprintf("unknown OC status %q", target), "status")
		return model.OCTransition{}, verr
	}
	switch {
	case oc.Status.Terminal():
		return model.OCTransition{}, guardViolation("OC %s is %s and can no longer change", oc.ID, oc.Status)
	case oc.Status == model.OCStatusAnular:
		return model.OCTransition{}, guardViolation("OC %s has a pending cancellation; confirm or reject it first", oc.ID)
	case target == oc.Status:
		return model.OCTransition{}, guardViolation("OC %s is already %s", oc.ID, oc.Status)
	case target == model.OCStatusAnular || target == model.OCStatusAnulado:
		return model.OCTransition{}, guardViolation("use request-cancel to cancel OC %s", oc.ID)
	case target == model.OCStatusAtendido && oc.Status != model.OCStatusAtenderCompras:
		return model.OCTransition{}, guardViolation("OC %s must be %s before %s", oc.ID, model.OCStatusAtenderCompras, model.OCStatusAtendido)
	}
	if note == "" {
		note = fmt.Sprintf("manual status change from %s", oc.Status)
	}
	return model.OCTransition{From: oc.Status, To: target, Entry: e.entry(string(target), note, actor)}, nil
}
