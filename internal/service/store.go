package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nurpe/procurement-workflow/internal/model"
	"github.com/nurpe/procurement-workflow/internal/repository"
)

// OCStore persists purchase orders. Writes are version-checked: a stale
// expectedVersion fails with repository.ErrVersionConflict.
type OCStore interface {
	CreateOC(ctx context.Context, oc *model.PurchaseOrder, entry model.StatusHistoryEntry) error
	GetOC(ctx context.Context, id uuid.UUID) (*model.PurchaseOrder, error)
	UpdateOC(ctx context.Context, oc *model.PurchaseOrder, expectedVersion int64) error
	TransitionOC(ctx context.Context, id uuid.UUID, expectedVersion int64, tr model.OCTransition) (*model.PurchaseOrder, error)
	ListOCHistory(ctx context.Context, id uuid.UUID) ([]model.StatusHistoryEntry, error)
}

type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *model.Invoice, entry model.StatusHistoryEntry) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *model.Invoice, expectedVersion int64) error
	TransitionInvoice(ctx context.Context, id uuid.UUID, expectedVersion int64, tr model.InvoiceTransition) (*model.Invoice, error)
	ListInvoiceHistory(ctx context.Context, id uuid.UUID) ([]model.StatusHistoryEntry, error)
	ListInvoicesByOC(ctx context.Context, ocID uuid.UUID) ([]model.Invoice, error)
}

// SettingsStore exposes the read-mostly configuration tables.
type SettingsStore interface {
	ListThresholds(ctx context.Context) ([]model.ApprovalThreshold, error)
	ListExchangeRates(ctx context.Context) ([]model.ExchangeRate, error)
	SupportCostCenters(ctx context.Context, supportID uuid.UUID) ([]string, error)
}

// Publisher receives status events after a transition is persisted.
// Delivery is best-effort; Publish must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, event model.StatusEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, model.StatusEvent) {}

func storeError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrVersionConflict):
		return ErrConcurrentModification
	default:
		return err
	}
}
