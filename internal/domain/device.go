package domain

import "time"

// Device status values persisted in the wa_device table. The live
// session registry is authoritative for moment-to-moment state; these
// reflect the last transition the lifecycle manager recorded.
const (
	DeviceDisconnected = "disconnected"
	DeviceConnecting   = "connecting"
	DeviceConnected    = "connected"
)

// WaDevice is one independently managed chat-protocol identity.
type WaDevice struct {
	ID              int64     `json:"id,string" gorm:"primaryKey"`
	DeviceID        string    `json:"device_id" gorm:"uniqueIndex;size:128"`
	ApiKey          string    `json:"api_key" gorm:"index;size:64"`
	PhoneNumber     string    `json:"phone_number"`
	Status          string    `json:"status"`
	AutoReply       bool      `json:"auto_reply"`
	AutoReplyPrompt string    `json:"auto_reply_prompt"`
	AiProvider      string    `json:"ai_provider"`
	AiModel         string    `json:"ai_model"`
	GeminiApiKey    string    `json:"gemini_api_key"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (WaDevice) TableName() string {
	return "wa_device"
}
