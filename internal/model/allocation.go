package model

import "github.com/shopspring/decimal"

// MonthLayout is the format of budget periods and accounting months.
const MonthLayout = "2006-01"

// CostCenterAllocation splits a document's amount onto a CECO. Amount is derived.
type CostCenterAllocation struct {
	CostCenterID string          `json:"costCenterId"`
	Percentage   decimal.Decimal `json:"percentage"`
	Amount       decimal.Decimal `json:"amount"`
}

type Consumption struct {
	OCID         string          `json:"ocId"`
	Total        decimal.Decimal `json:"total"`
	Consumed     decimal.Decimal `json:"consumed"`
	Available    decimal.Decimal `json:"available"`
	Currency     string          `json:"currency"`
	InvoiceCount int             `json:"invoiceCount"`
}

func (c Consumption) OverConsumed() bool {
	return c.Available.IsNegative()
}
