package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OCStatus string

const (
	OCStatusPendiente      OCStatus = "PENDIENTE"
	OCStatusProcesar       OCStatus = "PROCESAR"
	OCStatusProcesado      OCStatus = "PROCESADO"
	OCStatusAprobacionVP   OCStatus = "APROBACION_VP"
	OCStatusAtenderCompras OCStatus = "ATENDER_COMPRAS"
	OCStatusAtendido       OCStatus = "ATENDIDO"
	OCStatusAnular         OCStatus = "ANULAR"
	OCStatusAnulado        OCStatus = "ANULADO"
)

var ocStatuses = []OCStatus{
	OCStatusPendiente,
	OCStatusProcesar,
	OCStatusProcesado,
	OCStatusAprobacionVP,
	OCStatusAtenderCompras,
	OCStatusAtendido,
	OCStatusAnular,
	OCStatusAnulado,
}

func (s OCStatus) Valid() bool {
	for _, known := range ocStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s OCStatus) Terminal() bool {
	return s == OCStatusAtendido || s == OCStatusAnulado
}

// PurchaseOrder is an OC: a committed spending authorization against a budget line.
type PurchaseOrder struct {
	ID                 uuid.UUID              `json:"id"`
	Number             string                 `json:"number,omitempty"`
	SupportID          *uuid.UUID             `json:"supportId,omitempty"`
	Currency           string                 `json:"currency"`
	AmountExcludingTax decimal.Decimal        `json:"amountExcludingTax"`
	Status             OCStatus               `json:"status"`
	PreCancelStatus    *OCStatus              `json:"preCancelStatus,omitempty"`
	Requester          string                 `json:"requester"`
	Allocations        []CostCenterAllocation `json:"allocations"`
	BudgetPeriodFrom   string                 `json:"budgetPeriodFrom"`
	BudgetPeriodTo     string                 `json:"budgetPeriodTo"`
	Version            int64                  `json:"version"`
	CreatedAt          time.Time              `json:"createdAt"`
	UpdatedAt          time.Time              `json:"updatedAt"`
}

// CostCenterIDs returns the cost centers the OC is charged to, in allocation order.
func (oc *PurchaseOrder) CostCenterIDs() []string {
	ids := make([]string, 0, len(oc.Allocations))
	for _, a := range oc.Allocations {
		ids = append(ids, a.CostCenterID)
	}
	return ids
}

// OCTransition is the persisted effect of one successful OC state change.
type OCTransition struct {
	From            OCStatus
	To              OCStatus
	PreCancelStatus *OCStatus
	Entry           StatusHistoryEntry
}
