package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nurpe/procurement-workflow/internal/config"
	"github.com/nurpe/procurement-workflow/internal/model"
	"github.com/nurpe/procurement-workflow/internal/workflow"
)

// Snapshots builds a workflow engine from the current threshold and rate tables.
// A fresh engine is built per operation; nothing is cached between requests.
type Snapshots struct {
	settings SettingsStore
	cfg      config.WorkflowConfig
	policy   workflow.OverConsumptionPolicy
	now      func() time.Time
}

func NewSnapshots(settings SettingsStore, cfg config.WorkflowConfig, now func() time.Time) (*Snapshots, error) {
	policy, err := workflow.ParseOverConsumptionPolicy(cfg.OverConsumptionPolicy)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Snapshots{settings: settings, cfg: cfg, policy: policy, now: now}, nil
}

func (s *Snapshots) Engine(ctx context.Context) (*workflow.Engine, error) {
	records, err := s.settings.ListThresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	thresholds, err := workflow.NewThresholds(records)
	if err != nil {
		return nil, err
	}
	rates, err := s.settings.ListExchangeRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load exchange rates: %w", err)
	}
	return workflow.NewEngine(workflow.Settings{
		Rates:        workflow.NewRateTable(s.cfg.LocalCurrency, rates),
		Thresholds:   thresholds,
		TaxRate:      s.cfg.TaxRate,
		InvoiceVPKey: s.cfg.InvoiceVPThresholdKey,
		OCVPKey:      s.cfg.OCVPThresholdKey,
	}, s.now), nil
}

func (s *Snapshots) Policy() workflow.OverConsumptionPolicy {
	return s.policy
}

func (s *Snapshots) Now() time.Time {
	return s.now().UTC()
}

// supportDomain returns the cost centers of a support. A support without
// configured cost centers does not restrict allocations.
func (s *Snapshots) supportDomain(ctx context.Context, supportID uuid.UUID) (workflow.CostCenterDomain, error) {
	ids, err := s.settings.SupportCostCenters(ctx, supportID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return workflow.NewCostCenterDomain(ids...), nil
}

func statusEvent(docType model.DocumentType, id uuid.UUID, status string, at time.Time) model.StatusEvent {
	return model.StatusEvent{
		DocumentType: docType,
		ID:           id.String(),
		NewStatus:    status,
		Timestamp:    at,
	}
}
