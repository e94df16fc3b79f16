package workflow

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nurpe/procurement-workflow/internal/model"
)

// Settings is the configuration snapshot one request runs against.
type Settings struct {
	Rates        RateTable
	Thresholds   Thresholds
	TaxRate      decimal.Decimal
	InvoiceVPKey string
	OCVPKey      string
}

// Engine owns the transition rules of both document types. It keeps no
// document state; every call receives the current document and returns the
// transition to persist.
type Engine struct {
	settings Settings
	now      func() time.Time
}

func NewEngine(settings Settings, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{settings: settings, now: now}
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// AmountWithTax applies the configured tax rate (IGV) to a net amount.
func (e *Engine) AmountWithTax(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(1).Add(e.settings.TaxRate)).Round(2)
}

func (e *Engine) entry(status, note, actor string) model.StatusHistoryEntry {
	return model.StatusHistoryEntry{
		Status:    status,
		ChangedAt: e.now().UTC(),
		Note:      strings.TrimSpace(note),
		ChangedBy: actor,
	}
}

func requireNote(note string) error {
	if strings.TrimSpace(note) == "" {
		verr := &ValidationError{}
		verr.Add("a note is required", "note")
		return verr
	}
	return nil
}
