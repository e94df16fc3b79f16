package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurpe/procurement-workflow/internal/model"
)

// SettingsRepository reads the threshold, exchange-rate and support tables.
// The workflow never writes them.
type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) ListThresholds(ctx context.Context) ([]model.ApprovalThreshold, error) {
	var rows []model.ApprovalThreshold
	if err := r.db.WithContext(ctx).Raw(`
		SELECT key, amount_in_local_currency, active
		FROM approval_threshold
		WHERE active
		ORDER BY key ASC
	`).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SettingsRepository) ListExchangeRates(ctx context.Context) ([]model.ExchangeRate, error) {
	var rows []model.ExchangeRate
	if err := r.db.WithContext(ctx).Raw(`
		SELECT year, currency, rate
		FROM exchange_rate
		ORDER BY year ASC, currency ASC
	`).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SettingsRepository) SupportCostCenters(ctx context.Context, supportID uuid.UUID) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Raw(`
		SELECT cost_center_id
		FROM support_cost_center
		WHERE support_id = ?
		ORDER BY cost_center_id ASC
	`, supportID).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
