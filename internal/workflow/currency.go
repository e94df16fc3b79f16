package workflow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nurpe/procurement-workflow/internal/model"
)

// LocalAmount is an amount already expressed in the local currency.
// Only the normalizer produces one, so routing never sees a foreign amount.
type LocalAmount struct {
	decimal.Decimal
}

// RateTable is a read-only snapshot of the configured annual exchange rates.
type RateTable struct {
	local  string
	annual map[int]map[string]decimal.Decimal
}

func NewRateTable(localCurrency string, rates []model.ExchangeRate) RateTable {
	table := RateTable{
		local:  normalizeCurrency(localCurrency),
		annual: make(map[int]map[string]decimal.Decimal),
	}
	for _, r := range rates {
		byCurrency, ok := table.annual[r.Year]
		if !ok {
			byCurrency = make(map[string]decimal.Decimal)
			table.annual[r.Year] = byCurrency
		}
		byCurrency[normalizeCurrency(r.Currency)] = r.Rate
	}
	return table
}

func (t RateTable) LocalCurrency() string {
	return t.local
}

// StandardRate returns the configured rate of currency for the fiscal year.
func (t RateTable) StandardRate(currency string, year int) (decimal.Decimal, bool) {
	rate, ok := t.annual[year][normalizeCurrency(currency)]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}

// Normalize converts amount into local currency. An override rate wins over the
// standard rate of the fiscal year.
func (t RateTable) Normalize(amount decimal.Decimal, currency string, override *decimal.Decimal, fiscalYear int) (LocalAmount, error) {
	if normalizeCurrency(currency) == t.local {
		return LocalAmount{amount}, nil
	}
	if override != nil && override.IsPositive() {
		return LocalAmount{amount.Mul(*override)}, nil
	}
	rate, ok := t.StandardRate(currency, fiscalYear)
	if !ok {
		return LocalAmount{}, fmt.Errorf("%w: no rate for %s in %d", ErrMissingExchangeRate, normalizeCurrency(currency), fiscalYear)
	}
	return LocalAmount{amount.Mul(rate)}, nil
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
