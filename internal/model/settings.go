package model

import "github.com/shopspring/decimal"

type ApprovalThreshold struct {
	Key                   string          `json:"key"`
	AmountInLocalCurrency decimal.Decimal `json:"amountInLocalCurrency"`
	Active                bool            `json:"active"`
}

// ExchangeRate converts one unit of Currency into local currency for a fiscal year.
type ExchangeRate struct {
	Year     int             `json:"year"`
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
}
