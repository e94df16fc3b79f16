package model

import "time"

// ConsumptionStatement is the printable balance of one OC.
type ConsumptionStatement struct {
	OC          PurchaseOrder
	Consumption Consumption
	Invoices    []Invoice
	GeneratedAt time.Time
}
