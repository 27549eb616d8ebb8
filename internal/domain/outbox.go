package domain

import "time"

// Outbox delivery status values, updated from protocol receipt events.
const (
	OutboxSent      = "SENT"
	OutboxDelivered = "DELIVERED"
	OutboxRead      = "READ"
)

// WaOutbox is the append-only ledger of successfully sent messages.
// WaMessageID is the provider-assigned id, empty when the send returned
// none; receipt events are mirrored onto Status keyed by that id.
type WaOutbox struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	DeviceID    string    `json:"device_id" gorm:"index;size:128"`
	Target      string    `json:"target"`
	Message     string    `json:"message"`
	WaMessageID string    `json:"wa_message_id" gorm:"index;size:64"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (WaOutbox) TableName() string {
	return "wa_outbox"
}
