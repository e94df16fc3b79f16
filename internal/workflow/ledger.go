package workflow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nurpe/procurement-workflow/internal/model"
)

// Consumption derives the OC's balance from the invoices that reference it.
// Rejected invoices do not count; credit notes subtract.
func Consumption(oc *model.PurchaseOrder, invoices []model.Invoice) model.Consumption {
	consumed := decimal.Zero
	count := 0
	for i := range invoices {
		inv := &invoices[i]
		if inv.OCID == nil || *inv.OCID != oc.ID {
			continue
		}
		if inv.Status == model.InvoiceStatusRechazado {
			continue
		}
		consumed = consumed.Add(inv.SignedAmount())
		count++
	}
	return model.Consumption{
		OCID:         oc.ID.String(),
		Total:        oc.AmountExcludingTax,
		Consumed:     consumed,
		Available:    oc.AmountExcludingTax.Sub(consumed),
		Currency:     oc.Currency,
		InvoiceCount: count,
	}
}

type OverConsumptionPolicy string

const (
	OverConsumptionWarn  OverConsumptionPolicy = "warn"
	OverConsumptionBlock OverConsumptionPolicy = "block"
)

func ParseOverConsumptionPolicy(raw string) (OverConsumptionPolicy, error) {
	switch OverConsumptionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OverConsumptionWarn:
		return OverConsumptionWarn, nil
	case OverConsumptionBlock:
		return OverConsumptionBlock, nil
	default:
		return "", fmt.Errorf("unknown over-consumption policy %q", raw)
	}
}

// CheckCapacity applies the policy to a balance that already includes the
// document being saved. Under warn it returns a warning instead of an error.
func (p OverConsumptionPolicy) CheckCapacity(c model.Consumption) (string, error) {
	if !c.OverConsumed() {
		return "", nil
	}
	msg := fmt.Sprintf("OC %s over-consumed: consumed %s of %s %s (available %s)",
		c.OCID, c.Consumed.StringFixed(2), c.Total.StringFixed(2), c.Currency, c.Available.StringFixed(2))
	if p == OverConsumptionBlock {
		verr := &ValidationError{}
		verr.Add("amount exceeds the available balance of the OC ("+c.Available.StringFixed(2)+" after this document)", "amountExcludingTax")
		return "", verr
	}
	return msg, nil
}
