package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS purchase_order (
		id UUID PRIMARY KEY,
		number VARCHAR(64) NOT NULL DEFAULT '',
		support_id UUID,
		currency CHAR(3) NOT NULL,
		amount_excluding_tax NUMERIC(18,2) NOT NULL CHECK (amount_excluding_tax > 0),
		status VARCHAR(32) NOT NULL,
		pre_cancel_status VARCHAR(32),
		requester TEXT NOT NULL,
		budget_period_from CHAR(7) NOT NULL,
		budget_period_to CHAR(7) NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (budget_period_from <= budget_period_to)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_purchase_order_status ON purchase_order (status);`,
	`CREATE TABLE IF NOT EXISTS oc_allocation (
		oc_id UUID NOT NULL REFERENCES purchase_order(id) ON DELETE CASCADE,
		position INT NOT NULL,
		cost_center_id VARCHAR(64) NOT NULL,
		percentage NUMERIC(7,4) NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		PRIMARY KEY (oc_id, cost_center_id)
	);`,
	`CREATE TABLE IF NOT EXISTS oc_status_history (
		id BIGSERIAL PRIMARY KEY,
		oc_id UUID NOT NULL REFERENCES purchase_order(id) ON DELETE CASCADE,
		status VARCHAR(32) NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		changed_by VARCHAR(128) NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS idx_oc_status_history_oc_id ON oc_status_history (oc_id, id);`,
	`CREATE TABLE IF NOT EXISTS invoice (
		id UUID PRIMARY KEY,
		number VARCHAR(64) NOT NULL DEFAULT '',
		oc_id UUID REFERENCES purchase_order(id),
		support_id UUID,
		doc_type VARCHAR(16) NOT NULL,
		currency CHAR(3) NOT NULL,
		amount_excluding_tax NUMERIC(18,2) NOT NULL CHECK (amount_excluding_tax > 0),
		exchange_rate_override NUMERIC(18,6) CHECK (exchange_rate_override > 0),
		status VARCHAR(32) NOT NULL,
		accounting_month CHAR(7),
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (oc_id IS NOT NULL OR support_id IS NOT NULL)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_oc_id ON invoice (oc_id) WHERE oc_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_status ON invoice (status);`,
	`CREATE TABLE IF NOT EXISTS invoice_allocation (
		invoice_id UUID NOT NULL REFERENCES invoice(id) ON DELETE CASCADE,
		position INT NOT NULL,
		cost_center_id VARCHAR(64) NOT NULL,
		percentage NUMERIC(7,4) NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		PRIMARY KEY (invoice_id, cost_center_id)
	);`,
	`CREATE TABLE IF NOT EXISTS invoice_period (
		invoice_id UUID NOT NULL REFERENCES invoice(id) ON DELETE CASCADE,
		position INT NOT NULL,
		period CHAR(7) NOT NULL,
		PRIMARY KEY (invoice_id, period)
	);`,
	`CREATE TABLE IF NOT EXISTS invoice_status_history (
		id BIGSERIAL PRIMARY KEY,
		invoice_id UUID NOT NULL REFERENCES invoice(id) ON DELETE CASCADE,
		status VARCHAR(32) NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		changed_by VARCHAR(128) NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_status_history_invoice_id ON invoice_status_history (invoice_id, id);`,
	`CREATE TABLE IF NOT EXISTS approval_threshold (
		id BIGSERIAL PRIMARY KEY,
		key VARCHAR(64) NOT NULL,
		amount_in_local_currency NUMERIC(18,2) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_approval_threshold_active_key ON approval_threshold (key) WHERE active;`,
	`CREATE TABLE IF NOT EXISTS exchange_rate (
		year INT NOT NULL,
		currency CHAR(3) NOT NULL,
		rate NUMERIC(18,6) NOT NULL CHECK (rate > 0),
		PRIMARY KEY (year, currency)
	);`,
	`CREATE TABLE IF NOT EXISTS support_cost_center (
		support_id UUID NOT NULL,
		cost_center_id VARCHAR(64) NOT NULL,
		PRIMARY KEY (support_id, cost_center_id)
	);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
