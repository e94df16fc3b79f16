package workflow

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nurpe/procurement-workflow/internal/model"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// PrepareOC validates an OC's own fields and derives its allocation amounts.
func PrepareOC(oc *model.PurchaseOrder, domain CostCenterDomain) error {
	verr := &ValidationError{}
	oc.Currency = normalizeCurrency(oc.Currency)
	if !currencyCode.MatchString(oc.Currency) {
		verr.Add("currency must be a 3-letter ISO code", "currency")
	}
	if !oc.AmountExcludingTax.IsPositive() {
		verr.Add("amount must be greater than 0", "amountExcludingTax")
	}
	if strings.TrimSpace(oc.Requester) == "" {
		verr.Add("requester is required", "requester")
	}

	from, fromErr := parseMonth(oc.BudgetPeriodFrom)
	if fromErr != nil {
		verr.Add("budget period must use YYYY-MM", "budgetPeriodFrom")
	}
	to, toErr := parseMonth(oc.BudgetPeriodTo)
	if toErr != nil {
		verr.Add("budget period must use YYYY-MM", "budgetPeriodTo")
	}
	if fromErr == nil && toErr == nil && from.After(to) {
		verr.Add("budget period start must not be after its end", "budgetPeriodTo")
	}

	allocations, err := ValidateAllocations(oc.AmountExcludingTax, oc.Allocations, domain)
	if err != nil {
		verr.Merge(err)
	} else {
		oc.Allocations = allocations
	}
	return verr.Err()
}

// PrepareInvoice validates an invoice's own fields and derives its allocation amounts.
// Checks that need the referenced OC are left to the caller.
func PrepareInvoice(inv *model.Invoice, domain CostCenterDomain) error {
	verr := &ValidationError{}
	inv.Currency = normalizeCurrency(inv.Currency)
	if !currencyCode.MatchString(inv.Currency) {
		verr.Add("currency must be a 3-letter ISO code", "currency")
	}
	if !inv.DocType.Valid() {
		verr.Add("document type must be INVOICE or CREDIT_NOTE", "docType")
	}
	if !inv.AmountExcludingTax.IsPositive() {
		verr.Add("amount must be greater than 0", "amountExcludingTax")
	}
	if inv.ExchangeRateOverride != nil && !inv.ExchangeRateOverride.IsPositive() {
		verr.Add("exchange rate override must be greater than 0", "exchangeRateOverride")
	}
	if inv.OCID == nil && inv.SupportID == nil {
		verr.Add("an invoice without OC must reference a support", "supportId")
	}
	if len(inv.Periods) == 0 {
		verr.Add("at least one budget period is required", "periods")
	}
	seen := make(map[string]struct{}, len(inv.Periods))
	for i, p := range inv.Periods {
		if _, err := parseMonth(p); err != nil {
			verr.Add("period must use YYYY-MM", "periods", strconv.Itoa(i))
			continue
		}
		if _, dup := seen[p]; dup {
			verr.Add("period "+p+" is listed twice", "periods", strconv.Itoa(i))
		}
		seen[p] = struct{}{}
	}
	if inv.AccountingMonth != nil {
		if _, err := parseMonth(*inv.AccountingMonth); err != nil {
			verr.Add("accounting month must use YYYY-MM", "accountingMonth")
		}
	}

	allocations, err := ValidateAllocations(inv.AmountExcludingTax, inv.Allocations, domain)
	if err != nil {
		verr.Merge(err)
	} else {
		inv.Allocations = allocations
	}
	return verr.Err()
}

func parseMonth(raw string) (time.Time, error) {
	return time.Parse(model.MonthLayout, strings.TrimSpace(raw))
}
