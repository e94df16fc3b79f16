package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusIngresado      InvoiceStatus = "INGRESADO"
	InvoiceStatusEnAprobacion   InvoiceStatus = "EN_APROBACION"
	InvoiceStatusAprobacionHead InvoiceStatus = "APROBACION_HEAD"
	InvoiceStatusAprobacionVP   InvoiceStatus = "APROBACION_VP"
	InvoiceStatusEnContabilidad InvoiceStatus = "EN_CONTABILIDAD"
	InvoiceStatusEnTesoreria    InvoiceStatus = "EN_TESORERIA"
	InvoiceStatusEnEsperaDePago InvoiceStatus = "EN_ESPERA_DE_PAGO"
	InvoiceStatusPagado         InvoiceStatus = "PAGADO"
	InvoiceStatusRechazado      InvoiceStatus = "RECHAZADO"
)

var invoiceStatuses = []InvoiceStatus{
	InvoiceStatusIngresado,
	InvoiceStatusEnAprobacion,
	InvoiceStatusAprobacionHead,
	InvoiceStatusAprobacionVP,
	InvoiceStatusEnContabilidad,
	InvoiceStatusEnTesoreria,
	InvoiceStatusEnEsperaDePago,
	InvoiceStatusPagado,
	InvoiceStatusRechazado,
}

func (s InvoiceStatus) Valid() bool {
	for _, known := range invoiceStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPagado || s == InvoiceStatusRechazado
}

// Approved reports whether the invoice has cleared head and VP approval and
// sits in the accounting, treasury or payment steps.
func (s InvoiceStatus) Approved() bool {
	switch s {
	case InvoiceStatusEnContabilidad, InvoiceStatusEnTesoreria, InvoiceStatusEnEsperaDePago, InvoiceStatusPagado:
		return true
	}
	return false
}

type DocType string

const (
	DocTypeInvoice    DocType = "INVOICE"
	DocTypeCreditNote DocType = "CREDIT_NOTE"
)

func (d DocType) Valid() bool {
	return d == DocTypeInvoice || d == DocTypeCreditNote
}

type Invoice struct {
	ID                   uuid.UUID              `json:"id"`
	Number               string                 `json:"number,omitempty"`
	OCID                 *uuid.UUID             `json:"ocId,omitempty"`
	SupportID            *uuid.UUID             `json:"supportId,omitempty"`
	DocType              DocType                `json:"docType"`
	Currency             string                 `json:"currency"`
	AmountExcludingTax   decimal.Decimal        `json:"amountExcludingTax"`
	ExchangeRateOverride *decimal.Decimal       `json:"exchangeRateOverride,omitempty"`
	Status               InvoiceStatus          `json:"status"`
	Allocations          []CostCenterAllocation `json:"allocations"`
	Periods              []string               `json:"periods"`
	AccountingMonth      *string                `json:"accountingMonth,omitempty"`
	Version              int64                  `json:"version"`
	CreatedAt            time.Time              `json:"createdAt"`
	UpdatedAt            time.Time              `json:"updatedAt"`
	StatusHistory        []StatusHistoryEntry   `json:"statusHistory,omitempty"`
}

// SignedAmount is the invoice's contribution to its OC's consumption.
func (inv *Invoice) SignedAmount() decimal.Decimal {
	if inv.DocType == DocTypeCreditNote {
		return inv.AmountExcludingTax.Neg()
	}
	return inv.AmountExcludingTax
}

// FiscalYear picks the accounting month's year when one is set.
func (inv *Invoice) FiscalYear() int {
	if inv.AccountingMonth != nil {
		if t, err := time.Parse(MonthLayout, *inv.AccountingMonth); err == nil {
			return t.Year()
		}
	}
	return inv.CreatedAt.Year()
}

type InvoiceTransition struct {
	From  InvoiceStatus
	To    InvoiceStatus
	Entry StatusHistoryEntry
}
