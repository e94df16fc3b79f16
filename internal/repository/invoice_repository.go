package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nurpe/procurement-workflow/internal/model"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

type invoiceRow struct {
	ID                   uuid.UUID
	Number               string
	OCID                 *uuid.UUID `gorm:"column:oc_id"`
	SupportID            *uuid.UUID
	DocType              string
	Currency             string
	AmountExcludingTax   decimal.Decimal
	ExchangeRateOverride *decimal.Decimal
	Status               string
	AccountingMonth      *string
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (row invoiceRow) toModel() model.Invoice {
	return model.Invoice{
		ID:                   row.ID,
		Number:               row.Number,
		OCID:                 row.OCID,
		SupportID:            row.SupportID,
		DocType:              model.DocType(row.DocType),
		Currency:             row.Currency,
		AmountExcludingTax:   row.AmountExcludingTax,
		ExchangeRateOverride: row.ExchangeRateOverride,
		Status:               model.InvoiceStatus(row.Status),
		AccountingMonth:      row.AccountingMonth,
		Version:              row.Version,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
}

const invoiceColumns = `
	id,
	number,
	oc_id,
	support_id,
	doc_type,
	currency,
	amount_excluding_tax,
	exchange_rate_override,
	status,
	accounting_month,
	version,
	created_at,
	updated_at
`

func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *model.Invoice, entry model.StatusHistoryEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`INSERT INTO invoice (`+invoiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID,
			inv.Number,
			inv.OCID,
			inv.SupportID,
			inv.DocType,
			inv.Currency,
			inv.AmountExcludingTax,
			inv.ExchangeRateOverride,
			inv.Status,
			inv.AccountingMonth,
			inv.Version,
			inv.CreatedAt,
			inv.UpdatedAt,
		).Error
		if err != nil {
			return err
		}
		if err := invoiceAllocations.replace(tx, inv.ID, inv.Allocations); err != nil {
			return err
		}
		if err := replacePeriods(tx, inv.ID, inv.Periods); err != nil {
			return err
		}
		return invoiceHistory.append(tx, inv.ID, entry)
	})
}

func (r *InvoiceRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	return r.getInvoice(ctx, r.db, id)
}

func (r *InvoiceRepository) getInvoice(ctx context.Context, db *gorm.DB, id uuid.UUID) (*model.Invoice, error) {
	invoices, err := r.query(ctx, db, `SELECT `+invoiceColumns+` FROM invoice WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, ErrNotFound
	}
	inv := &invoices[0]
	inv.StatusHistory, err = invoiceHistory.list(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoicesByOC reads without locks; the result may already be stale.
func (r *InvoiceRepository) ListInvoicesByOC(ctx context.Context, ocID uuid.UUID) ([]model.Invoice, error) {
	return r.query(ctx, r.db, `SELECT `+invoiceColumns+` FROM invoice WHERE oc_id = ? ORDER BY created_at ASC`, ocID)
}

func (r *InvoiceRepository) query(ctx context.Context, db *gorm.DB, sql string, args ...interface{}) ([]model.Invoice, error) {
	var rows []invoiceRow
	if err := db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	allocations, err := invoiceAllocations.load(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	periods, err := loadPeriods(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	invoices := make([]model.Invoice, 0, len(rows))
	for _, row := range rows {
		inv := row.toModel()
		inv.Allocations = allocations[row.ID]
		inv.Periods = periods[row.ID]
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func (r *InvoiceRepository) UpdateInvoice(ctx context.Context, inv *model.Invoice, expectedVersion int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, _, err := lockVersion(tx, "invoice", inv.ID)
		if err != nil {
			return err
		}
		if version != expectedVersion {
			return ErrVersionConflict
		}
		err = tx.Exec(`
			UPDATE invoice
			SET
				number = ?,
				oc_id = ?,
				support_id = ?,
				doc_type = ?,
				currency = ?,
				amount_excluding_tax = ?,
				exchange_rate_override = ?,
				accounting_month = ?,
				version = version + 1,
				updated_at = ?
			WHERE id = ? AND version = ?
		`,
			inv.Number,
			inv.OCID,
			inv.SupportID,
			inv.DocType,
			inv.Currency,
			inv.AmountExcludingTax,
			inv.ExchangeRateOverride,
			inv.AccountingMonth,
			inv.UpdatedAt,
			inv.ID,
			expectedVersion,
		).Error
		if err != nil {
			return err
		}
		if err := invoiceAllocations.replace(tx, inv.ID, inv.Allocations); err != nil {
			return err
		}
		if err := replacePeriods(tx, inv.ID, inv.Periods); err != nil {
			return err
		}
		inv.Version = expectedVersion + 1
		return nil
	})
}

func (r *InvoiceRepository) TransitionInvoice(ctx context.Context, id uuid.UUID, expectedVersion int64, tr model.InvoiceTransition) (*model.Invoice, error) {
	var updated *model.Invoice
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, status, err := lockVersion(tx, "invoice", id)
		if err != nil {
			return err
		}
		if version != expectedVersion || status != string(tr.From) {
			return ErrVersionConflict
		}
		err = tx.Exec(`
			UPDATE invoice
			SET status = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`, tr.To, tr.Entry.ChangedAt, id, expectedVersion).Error
		if err != nil {
			return err
		}
		if err := invoiceHistory.append(tx, id, tr.Entry); err != nil {
			return err
		}
		updated, err = r.getInvoice(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *InvoiceRepository) ListInvoiceHistory(ctx context.Context, id uuid.UUID) ([]model.StatusHistoryEntry, error) {
	return invoiceHistory.list(ctx, r.db, id)
}

func replacePeriods(tx *gorm.DB, invoiceID uuid.UUID, periods []string) error {
	if err := tx.Exec(`DELETE FROM invoice_period WHERE invoice_id = ?`, invoiceID).Error; err != nil {
		return err
	}
	for i, period := range periods {
		if err := tx.Exec(`
			INSERT INTO invoice_period (invoice_id, position, period)
			VALUES (?, ?, ?)
		`, invoiceID, i, period).Error; err != nil {
			return err
		}
	}
	return nil
}

func loadPeriods(ctx context.Context, db *gorm.DB, ids []uuid.UUID) (map[uuid.UUID][]string, error) {
	var rows []struct {
		InvoiceID uuid.UUID
		Period    string
	}
	err := db.WithContext(ctx).Raw(`
		SELECT invoice_id, period
		FROM invoice_period
		WHERE invoice_id IN ?
		ORDER BY invoice_id, position
	`, ids).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[uuid.UUID][]string, len(ids))
	for _, row := range rows {
		result[row.InvoiceID] = append(result[row.InvoiceID], row.Period)
	}
	return result, nil
}
