package workflow

import (
	"fmt"

	"github.com/nurpe/procurement-workflow/internal/model"
)

// ApproveInvoiceHead routes a head-approved invoice either to the VP or straight
// to accounting, depending on its tax-inclusive amount in local currency.
func (e *Engine) ApproveInvoiceHead(inv *model.Invoice, actor string) (model.InvoiceTransition, error) {
	if inv.Status != model.InvoiceStatusAprobacionHead {
		return model.InvoiceTransition{}, guardViolation("invoice %s is %s, head approval requires %s",
			inv.ID, inv.Status, model.InvoiceStatusAprobacionHead)
	}

	withTax := e.AmountWithTax(inv.AmountExcludingTax)
	local, err := e.settings.Rates.Normalize(withTax, inv.Currency, inv.ExchangeRateOverride, inv.FiscalYear())
	if err != nil {
		return model.InvoiceTransition{}, err
	}

	next := model.InvoiceStatusEnContabilidad
	if e.settings.Thresholds.RequiresEscalation(local, e.settings.InvoiceVPKey) {
		next = model.InvoiceStatusAprobacionVP
	}
	note := fmt.Sprintf("head approval, amount with tax %s %s", local.StringFixed(2), e.settings.Rates.LocalCurrency())
	return model.InvoiceTransition{
		From:  inv.Status,
		To:    next,
		Entry: e.entry(string(next), note, actor),
	}, nil
}

func (e *Engine) ApproveInvoiceVP(inv *model.Invoice, actor string) (model.InvoiceTransition, error) {
	if inv.Status != model.InvoiceStatusAprobacionVP {
		return model.InvoiceTransition{}, guardViolation("invoice %s is %s, VP approval requires %s",
			inv.ID, inv.Status, model.InvoiceStatusAprobacionVP)
	}
	next := model.InvoiceStatusEnContabilidad
	return model.InvoiceTransition{
		From:  inv.Status,
		To:    next,
		Entry: e.entry(string(next), "VP approval", actor),
	}, nil
}

func (e *Engine) RejectInvoice(inv *model.Invoice, note, actor string) (model.InvoiceTransition, error) {
	if inv.Status.Terminal() {
		return model.InvoiceTransition{}, guardViolation("invoice %s is %s and cannot be rejected", inv.ID, inv.Status)
	}
	if err := requireNote(note); err != nil {
		return model.InvoiceTransition{}, err
	}
	next := model.InvoiceStatusRechazado
	return model.InvoiceTransition{
		From:  inv.Status,
		To:    next,
		Entry: e.entry(string(next), note, actor),
	}, nil
}

// ReopenInvoice brings a rejected invoice back to the start of the flow.
func (e *Engine) ReopenInvoice(inv *model.Invoice, note, actor string) (model.InvoiceTransition, error) {
	if inv.Status != model.InvoiceStatusRechazado {
		return model.InvoiceTransition{}, guardViolation("invoice %s is %s, only %s invoices can be reopened",
			inv.ID, inv.Status, model.InvoiceStatusRechazado)
	}
	if err := requireNote(note); err != nil {
		return model.InvoiceTransition{}, err
	}
	next := model.InvoiceStatusIngresado
	return model.InvoiceTransition{
		From:  inv.Status,
		To:    next,
		Entry: e.entry(string(next), note, actor),
	}, nil
}

// OverrideInvoiceStatus is the operator path. It skips the routing guards but
// never leaves a terminal status and never rejects. Approved statuses are only
// reachable from another approved status, and PAGADO only as the last
// back-office step.
func (e *Engine) OverrideInvoiceStatus(inv *model.Invoice, target model.InvoiceStatus, note, actor string) (model.InvoiceTransition, error) {
	if !target.Valid() {
		verr := &ValidationError{}
		verr.Add(fmt.Sprintf("unknown invoice status %q", target), "status")
		return model.InvoiceTransition{}, verr
	}
	switch {
	case inv.Status.Terminal():
		return model.InvoiceTransition{}, guardViolation("invoice %s is %s; terminal statuses only change through reopen", inv.ID, inv.Status)
	case target == inv.Status:
		return model.InvoiceTransition{}, guardViolation("invoice %s is already %s", inv.ID, inv.Status)
	case target == model.InvoiceStatusRechazado:
		return model.InvoiceTransition{}, guardViolation("use reject to move invoice %s to %s", inv.ID, target)
	case target.Approved() && !inv.Status.Approved():
		return model.InvoiceTransition{}, guardViolation("invoice %s is %s; approvals cannot be skipped to reach %s",
			inv.ID, inv.Status, target)
	case target == model.InvoiceStatusPagado && inv.Status != model.InvoiceStatusEnEsperaDePago:
		return model.InvoiceTransition{}, guardViolation("invoice %s must be %s before %s",
			inv.ID, model.InvoiceStatusEnEsperaDePago, model.InvoiceStatusPagado)
	}
	if note == "" {
		note = fmt.Sprintf("manual status change from %s", inv.Status)
	}
	return model.InvoiceTransition{
		From:  inv.Status,
		To:    target,
		Entry: e.entry(string(target), note, actor),
	}, nil
}
