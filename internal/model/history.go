package model

import "time"

// StatusHistoryEntry is immutable once appended.
type StatusHistoryEntry struct {
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
	Note      string    `json:"note,omitempty"`
	ChangedBy string    `json:"changedBy,omitempty"`
}

type DocumentType string

const (
	DocumentTypeOC      DocumentType = "oc"
	DocumentTypeInvoice DocumentType = "invoice"
)

// StatusEvent is emitted after every successful transition.
type StatusEvent struct {
	DocumentType DocumentType
	ID           string
	NewStatus    string
	Timestamp    time.Time
}
