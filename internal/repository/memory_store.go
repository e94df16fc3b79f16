package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nurpe/procurement-workflow/internal/model"
)

// MemoryStore keeps documents and settings in process memory. It applies the
// same version checks as the Postgres store and backs the service tests.
type MemoryStore struct {
	mu         sync.RWMutex
	ocs        map[uuid.UUID]*model.PurchaseOrder
	ocHistory  map[uuid.UUID][]model.StatusHistoryEntry
	invoices   map[uuid.UUID]*model.Invoice
	thresholds []model.ApprovalThreshold
	rates      []model.ExchangeRate
	supports   map[uuid.UUID][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ocs:       make(map[uuid.UUID]*model.PurchaseOrder),
		ocHistory: make(map[uuid.UUID][]model.StatusHistoryEntry),
		invoices:  make(map[uuid.UUID]*model.Invoice),
		supports:  make(map[uuid.UUID][]string),
	}
}

func (s *MemoryStore) CreateOC(_ context.Context, oc *model.PurchaseOrder, entry model.StatusHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ocs[oc.ID] = cloneOC(oc)
	s.ocHistory[oc.ID] = []model.StatusHistoryEntry{entry}
	return nil
}

func (s *MemoryStore) GetOC(_ context.Context, id uuid.UUID) (*model.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	oc, ok := s.ocs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOC(oc), nil
}

func (s *MemoryStore) UpdateOC(_ context.Context, oc *model.PurchaseOrder, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.ocs[oc.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	oc.Version = expectedVersion + 1
	s.ocs[oc.ID] = cloneOC(oc)
	return nil
}

func (s *MemoryStore) TransitionOC(_ context.Context, id uuid.UUID, expectedVersion int64, tr model.OCTransition) (*model.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.ocs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion || current.Status != tr.From {
		return nil, ErrVersionConflict
	}
	current.Status = tr.To
	current.PreCancelStatus = tr.PreCancelStatus
	current.Version++
	current.UpdatedAt = tr.Entry.ChangedAt
	s.ocHistory[id] = append(s.ocHistory[id], tr.Entry)
	return cloneOC(current), nil
}

func (s *MemoryStore) ListOCHistory(_ context.Context, id uuid.UUID) ([]model.StatusHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.ocs[id]; !ok {
		return nil, ErrNotFound
	}
	return append([]model.StatusHistoryEntry(nil), s.ocHistory[id]...), nil
}

func (s *MemoryStore) CreateInvoice(_ context.Context, inv *model.Invoice, entry model.StatusHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneInvoice(inv)
	stored.StatusHistory = []model.StatusHistoryEntry{entry}
	s.invoices[inv.ID] = stored
	return nil
}

func (s *MemoryStore) GetInvoice(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *MemoryStore) UpdateInvoice(_ context.Context, inv *model.Invoice, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.invoices[inv.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	inv.Version = expectedVersion + 1
	stored := cloneInvoice(inv)
	stored.StatusHistory = current.StatusHistory
	s.invoices[inv.ID] = stored
	return nil
}

func (s *MemoryStore) TransitionInvoice(_ context.Context, id uuid.UUID, expectedVersion int64, tr model.InvoiceTransition) (*model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion || current.Status != tr.From {
		return nil, ErrVersionConflict
	}
	current.Status = tr.To
	current.Version++
	current.UpdatedAt = tr.Entry.ChangedAt
	current.StatusHistory = append(current.StatusHistory, tr.Entry)
	return cloneInvoice(current), nil
}

func (s *MemoryStore) ListInvoiceHistory(_ context.Context, id uuid.UUID) ([]model.StatusHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]model.StatusHistoryEntry(nil), inv.StatusHistory...), nil
}

func (s *MemoryStore) ListInvoicesByOC(_ context.Context, ocID uuid.UUID) ([]model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.Invoice
	for _, inv := range s.invoices {
		if inv.OCID != nil && *inv.OCID == ocID {
			result = append(result, *cloneInvoice(inv))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListThresholds(_ context.Context) ([]model.ApprovalThreshold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ApprovalThreshold(nil), s.thresholds...), nil
}

func (s *MemoryStore) ListExchangeRates(_ context.Context) ([]model.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ExchangeRate(nil), s.rates...), nil
}

func (s *MemoryStore) SupportCostCenters(_ context.Context, supportID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.supports[supportID]...), nil
}

// SetThresholds replaces the threshold table.
func (s *MemoryStore) SetThresholds(thresholds ...model.ApprovalThreshold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = append([]model.ApprovalThreshold(nil), thresholds...)
}

func (s *MemoryStore) SetExchangeRates(rates ...model.ExchangeRate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = append([]model.ExchangeRate(nil), rates...)
}

func (s *MemoryStore) SetSupportCostCenters(supportID uuid.UUID, costCenters ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supports[supportID] = append([]string(nil), costCenters...)
}

// Counts reports how many documents are stored.
func (s *MemoryStore) Counts() (ocs, invoices int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ocs), len(s.invoices)
}

func cloneOC(oc *model.PurchaseOrder) *model.PurchaseOrder {
	c := *oc
	c.Allocations = append([]model.CostCenterAllocation(nil), oc.Allocations...)
	if oc.PreCancelStatus != nil {
		status := *oc.PreCancelStatus
		c.PreCancelStatus = &status
	}
	return &c
}

func cloneInvoice(inv *model.Invoice) *model.Invoice {
	c := *inv
	c.Allocations = append([]model.CostCenterAllocation(nil), inv.Allocations...)
	c.Periods = append([]string(nil), inv.Periods...)
	c.StatusHistory = append([]model.StatusHistoryEntry(nil), inv.StatusHistory...)
	return &c
}
