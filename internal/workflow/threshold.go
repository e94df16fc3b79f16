package workflow

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nurpe/procurement-workflow/internal/model"
)

// Thresholds is a read-only snapshot of the active approval thresholds.
type Thresholds struct {
	byKey map[string]decimal.Decimal
}

// NewThresholds keeps only active records and refuses two active records for one key.
func NewThresholds(records []model.ApprovalThreshold) (Thresholds, error) {
	t := Thresholds{byKey: make(map[string]decimal.Decimal, len(records))}
	for _, r := range records {
		if !r.Active {
			continue
		}
		if _, dup := t.byKey[r.Key]; dup {
			return Thresholds{}, fmt.Errorf("more than one active threshold for %s", r.Key)
		}
		t.byKey[r.Key] = r.AmountInLocalCurrency
	}
	return t, nil
}

func (t Thresholds) Lookup(key string) (decimal.Decimal, bool) {
	v, ok := t.byKey[key]
	return v, ok
}

// RequiresEscalation reports whether amount meets or exceeds the active threshold
// for key. Without a configured threshold nothing escalates.
func (t Thresholds) RequiresEscalation(amount LocalAmount, key string) bool {
	limit, ok := t.byKey[key]
	if !ok {
		return false
	}
	return amount.GreaterThanOrEqual(limit)
}
