package domain

import "time"

// Queue item status values. pending -> processing -> sent|failed;
// failed is terminal, there is no automatic retry.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueSent       = "sent"
	QueueFailed     = "failed"
)

// WaQueueItem is one durable unit of outbound work: one message to one
// recipient. The auto-increment primary key defines per-device FIFO order.
type WaQueueItem struct {
	ID        int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	DeviceID  string     `json:"device_id" gorm:"index;size:128"`
	Target    string     `json:"target"`
	Message   string     `json:"message"`
	DelayMs   int64      `json:"delay_ms"`
	Status    string     `json:"status" gorm:"index"`
	Error     string     `json:"error"`
	SentAt    *time.Time `json:"sent_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (WaQueueItem) TableName() string {
	return "wa_queue"
}
