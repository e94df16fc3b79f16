package workflow

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nurpe/procurement-workflow/internal/model"
)

var (
	hundred             = decimal.NewFromInt(100)
	allocationTolerance = decimal.RequireFromString("0.01")
)

// CostCenterDomain is the set of cost centers a document may be charged to.
// A nil domain places no restriction.
type CostCenterDomain map[string]struct{}

func NewCostCenterDomain(ids ...string) CostCenterDomain {
	d := make(CostCenterDomain, len(ids))
	for _, id := range ids {
		d[strings.TrimSpace(id)] = struct{}{}
	}
	return d
}

func (d CostCenterDomain) Contains(id string) bool {
	if d == nil {
		return true
	}
	_, ok := d[id]
	return ok
}

// ValidateAllocations checks the allocation set against total and returns a copy
// with per-line amounts derived. Rounding drift is left in place.
func ValidateAllocations(total decimal.Decimal, allocations []model.CostCenterAllocation, domain CostCenterDomain) ([]model.CostCenterAllocation, error) {
	verr := &ValidationError{}
	if len(allocations) == 0 {
		verr.AddMismatch("at least one cost center allocation is required", "allocations")
		return nil, verr
	}

	sum := decimal.Zero
	seen := make(map[string]struct{}, len(allocations))
	derived := make([]model.CostCenterAllocation, 0, len(allocations))
	for i, a := range allocations {
		idx := strconv.Itoa(i)
		ceco := strings.TrimSpace(a.CostCenterID)
		switch {
		case ceco == "":
			verr.Add("cost center is required", "allocations", idx, "costCenterId")
		case !domain.Contains(ceco):
			verr.Add("cost center "+ceco+" is not associated with the document's OC or support", "allocations", idx, "costCenterId")
		default:
			if _, dup := seen[ceco]; dup {
				verr.Add("cost center "+ceco+" is allocated more than once", "allocations", idx, "costCenterId")
			}
			seen[ceco] = struct{}{}
		}
		if !a.Percentage.IsPositive() || a.Percentage.GreaterThan(hundred) {
			verr.Add("percentage must be greater than 0 and at most 100", "allocations", idx, "percentage")
		}
		sum = sum.Add(a.Percentage)
		derived = append(derived, model.CostCenterAllocation{
			CostCenterID: ceco,
			Percentage:   a.Percentage,
			Amount:       AllocationAmount(total, a.Percentage),
		})
	}

	if sum.Sub(hundred).Abs().GreaterThan(allocationTolerance) {
		verr.AddMismatch("percentages must add up to 100, got "+sum.String(), "allocations")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return derived, nil
}

// AllocationAmount is total × percentage / 100 rounded to cents.
func AllocationAmount(total, percentage decimal.Decimal) decimal.Decimal {
	return total.Mul(percentage).Div(hundred).Round(2)
}
