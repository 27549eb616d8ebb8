package domain

import "time"

// Auto-reply conversation roles.
const (
	HistoryRoleUser  = "user"
	HistoryRoleModel = "model"
)

// WaAiHistory is one turn of an auto-reply conversation, keyed by device
// and remote conversation id.
type WaAiHistory struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	DeviceID  string    `json:"device_id" gorm:"index;size:128"`
	ChatID    string    `json:"chat_id" gorm:"index;size:128"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (WaAiHistory) TableName() string {
	return "wa_ai_history"
}
