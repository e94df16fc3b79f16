package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nurpe/procurement-workflow/internal/model"
)

type allocationRow struct {
	DocumentID   uuid.UUID
	CostCenterID string
	Percentage   decimal.Decimal
	Amount       decimal.Decimal
}

// allocationTable names the child table and its parent column.
type allocationTable struct {
	name   string
	parent string
}

var (
	ocAllocations      = allocationTable{name: "oc_allocation", parent: "oc_id"}
	invoiceAllocations = allocationTable{name: "invoice_allocation", parent: "invoice_id"}
)

// replace swaps the full allocation set of one document.
func (t allocationTable) replace(tx *gorm.DB, documentID uuid.UUID, allocations []model.CostCenterAllocation) error {
	if err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, t.name, t.parent), documentID).Error; err != nil {
		return err
	}
	for i, a := range allocations {
		if err := tx.Exec(fmt.Sprintf(`
			INSERT INTO %s (%s, position, cost_center_id, percentage, amount)
			VALUES (?, ?, ?, ?, ?)
		`, t.name, t.parent), documentID, i, a.CostCenterID, a.Percentage, a.Amount).Error; err != nil {
			return err
		}
	}
	return nil
}

// load returns the allocations of the given documents keyed by document id.
func (t allocationTable) load(ctx context.Context, db *gorm.DB, ids []uuid.UUID) (map[uuid.UUID][]model.CostCenterAllocation, error) {
	result := make(map[uuid.UUID][]model.CostCenterAllocation, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []allocationRow
	err := db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT %s AS document_id, cost_center_id, percentage, amount
		FROM %s
		WHERE %s IN ?
		ORDER BY %s, position
	`, t.parent, t.name, t.parent, t.parent), ids).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.DocumentID] = append(result[row.DocumentID], model.CostCenterAllocation{
			CostCenterID: row.CostCenterID,
			Percentage:   row.Percentage,
			Amount:       row.Amount,
		})
	}
	return result, nil
}

type historyTable struct {
	name   string
	parent string
}

var (
	ocHistory      = historyTable{name: "oc_status_history", parent: "oc_id"}
	invoiceHistory = historyTable{name: "invoice_status_history", parent: "invoice_id"}
)

func (t historyTable) append(tx *gorm.DB, documentID uuid.UUID, entry model.StatusHistoryEntry) error {
	return tx.Exec(fmt.Sprintf(`
		INSERT INTO %s (%s, status, changed_at, note, changed_by)
		VALUES (?, ?, ?, ?, ?)
	`, t.name, t.parent), documentID, entry.Status, entry.ChangedAt, entry.Note, entry.ChangedBy).Error
}

func (t historyTable) list(ctx context.Context, db *gorm.DB, documentID uuid.UUID) ([]model.StatusHistoryEntry, error) {
	var entries []model.StatusHistoryEntry
	err := db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT status, changed_at, note, changed_by
		FROM %s
		WHERE %s = ?
		ORDER BY id ASC
	`, t.name, t.parent), documentID).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// lockVersion reads the current version and status under a row lock.
func lockVersion(tx *gorm.DB, table string, id uuid.UUID) (int64, string, error) {
	var row struct {
		Version int64
		Status  string
	}
	result := tx.Raw(fmt.Sprintf(`SELECT version, status FROM %s WHERE id = ? FOR UPDATE`, table), id).Scan(&row)
	if result.Error != nil {
		return 0, "", result.Error
	}
	if result.RowsAffected == 0 {
		return 0, "", ErrNotFound
	}
	return row.Version, row.Status, nil
}
