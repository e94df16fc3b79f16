package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nurpe/procurement-workflow/internal/model"
)

type OCRepository struct {
	db *gorm.DB
}

func NewOCRepository(db *gorm.DB) *OCRepository {
	return &OCRepository{db: db}
}

type ocRow struct {
	ID                 uuid.UUID
	Number             string
	SupportID          *uuid.UUID
	Currency           string
	AmountExcludingTax decimal.Decimal
	Status             string
	PreCancelStatus    *string
	Requester          string
	BudgetPeriodFrom   string
	BudgetPeriodTo     string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (row ocRow) toModel() *model.PurchaseOrder {
	oc := &model.PurchaseOrder{
		ID:                 row.ID,
		Number:             row.Number,
		SupportID:          row.SupportID,
		Currency:           row.Currency,
		AmountExcludingTax: row.AmountExcludingTax,
		Status:             model.OCStatus(row.Status),
		Requester:          row.Requester,
		BudgetPeriodFrom:   row.BudgetPeriodFrom,
		BudgetPeriodTo:     row.BudgetPeriodTo,
		Version:            row.Version,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if row.PreCancelStatus != nil {
		status := model.OCStatus(*row.PreCancelStatus)
		oc.PreCancelStatus = &status
	}
	return oc
}

func (r *OCRepository) CreateOC(ctx context.Context, oc *model.PurchaseOrder, entry model.StatusHistoryEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`
			INSERT INTO purchase_order (
				id,
				number,
				support_id,
				currency,
				amount_excluding_tax,
				status,
				pre_cancel_status,
				requester,
				budget_period_from,
				budget_period_to,
				version,
				created_at,
				updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			oc.ID,
			oc.Number,
			oc.SupportID,
			oc.Currency,
			oc.AmountExcludingTax,
			oc.Status,
			oc.PreCancelStatus,
			oc.Requester,
			oc.BudgetPeriodFrom,
			oc.BudgetPeriodTo,
			oc.Version,
			oc.CreatedAt,
			oc.UpdatedAt,
		).Error
		if err != nil {
			return err
		}
		if err := ocAllocations.replace(tx, oc.ID, oc.Allocations); err != nil {
			return err
		}
		return ocHistory.append(tx, oc.ID, entry)
	})
}

func (r *OCRepository) GetOC(ctx context.Context, id uuid.UUID) (*model.PurchaseOrder, error) {
	return r.getOC(ctx, r.db, id)
}

func (r *OCRepository) getOC(ctx context.Context, db *gorm.DB, id uuid.UUID) (*model.PurchaseOrder, error) {
	var row ocRow
	err := db.WithContext(ctx).Raw(`
		SELECT
			id,
			number,
			support_id,
			currency,
			amount_excluding_tax,
			status,
			pre_cancel_status,
			requester,
			budget_period_from,
			budget_period_to,
			version,
			created_at,
			updated_at
		FROM purchase_order
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, ErrNotFound
	}

	oc := row.toModel()
	allocations, err := ocAllocations.load(ctx, db, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	oc.Allocations = allocations[id]
	return oc, nil
}

func (r *OCRepository) UpdateOC(ctx context.Context, oc *model.PurchaseOrder, expectedVersion int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, _, err := lockVersion(tx, "purchase_order", oc.ID)
		if err != nil {
			return err
		}
		if version != expectedVersion {
			return ErrVersionConflict
		}
		err = tx.Exec(`
			UPDATE purchase_order
			SET
				number = ?,
				support_id = ?,
				currency = ?,
				amount_excluding_tax = ?,
				requester = ?,
				budget_period_from = ?,
				budget_period_to = ?,
				version = version + 1,
				updated_at = ?
			WHERE id = ? AND version = ?
		`,
			oc.Number,
			oc.SupportID,
			oc.Currency,
			oc.AmountExcludingTax,
			oc.Requester,
			oc.BudgetPeriodFrom,
			oc.BudgetPeriodTo,
			oc.UpdatedAt,
			oc.ID,
			expectedVersion,
		).Error
		if err != nil {
			return err
		}
		if err := ocAllocations.replace(tx, oc.ID, oc.Allocations); err != nil {
			return err
		}
		oc.Version = expectedVersion + 1
		return nil
	})
}

func (r *OCRepository) TransitionOC(ctx context.Context, id uuid.UUID, expectedVersion int64, tr model.OCTransition) (*model.PurchaseOrder, error) {
	var updated *model.PurchaseOrder
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, status, err := lockVersion(tx, "purchase_order", id)
		if err != nil {
			return err
		}
		if version != expectedVersion || status != string(tr.From) {
			return ErrVersionConflict
		}
		err = tx.Exec(`
			UPDATE purchase_order
			SET
				status = ?,
				pre_cancel_status = ?,
				version = version + 1,
				updated_at = ?
			WHERE id = ? AND version = ?
		`, tr.To, tr.PreCancelStatus, tr.Entry.ChangedAt, id, expectedVersion).Error
		if err != nil {
			return err
		}
		if err := ocHistory.append(tx, id, tr.Entry); err != nil {
			return err
		}
		updated, err = r.getOC(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *OCRepository) ListOCHistory(ctx context.Context, id uuid.UUID) ([]model.StatusHistoryEntry, error) {
	return ocHistory.list(ctx, r.db, id)
}
