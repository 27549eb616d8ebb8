// Package autoreply answers inbound chat messages with LLM-generated
// replies, carrying a short per-chat memory in the database.
package autoreply

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/genai"
	"github.com/talkincode/wagate/internal/protocol"
	"github.com/talkincode/wagate/internal/session"
)

const (
	// historyLimit caps how many prior turns feed each generation.
	historyLimit = 10

	defaultPrompt = "You are a helpful assistant."
)

// Orchestrator wires inbound messages to the generation backend and
// back out through the originating session.
type Orchestrator struct {
	db    *gorm.DB
	genai *genai.Client
}

func NewOrchestrator(db *gorm.DB, client *genai.Client) *Orchestrator {
	return &Orchestrator{db: db, genai: client}
}

// HandleInbound runs the reply pipeline for one inbound message. All
// failures are logged and swallowed; a broken reply must never affect
// session handling.
func (o *Orchestrator) HandleInbound(ctx context.Context, deviceID string, msg protocol.Message, sender session.TextSender) {
	var device domain.WaDevice
	if err := o.db.Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		zap.L().Warn("auto reply device lookup failed", zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	if !device.AutoReply {
		return
	}

	o.addHistory(deviceID, msg.ChatID, domain.HistoryRoleUser, msg.Text)

	history, err := o.loadHistory(deviceID, msg.ChatID)
	if err != nil {
		zap.L().Warn("auto reply history load failed", zap.String("device_id", deviceID), zap.Error(err))
		return
	}

	prompt := systemContext(time.Now(), device.AutoReplyPrompt)

	reply, err := o.genai.Generate(ctx, genai.Request{
		Provider:     device.AiProvider,
		Model:        device.AiModel,
		SystemPrompt: prompt,
		History:      history,
		Message:      msg.Text,
		GeminiApiKey: device.GeminiApiKey,
	})
	if err != nil {
		zap.L().Warn("auto reply generation failed",
			zap.String("device_id", deviceID), zap.String("chat_id", msg.ChatID), zap.Error(err))
		return
	}

	if _, err := sender.SendText(ctx, msg.ChatID, reply); err != nil {
		zap.L().Warn("auto reply send failed",
			zap.String("device_id", deviceID), zap.String("chat_id", msg.ChatID), zap.Error(err))
		return
	}

	o.addHistory(deviceID, msg.ChatID, domain.HistoryRoleModel, reply)

	zap.L().Info("auto reply sent",
		zap.String("device_id", deviceID), zap.String("chat_id", msg.ChatID))
}

// systemContext assembles the generation system prompt: current time
// (24h, dot separated), the Indonesian time-of-day greeting and the
// device's instruction.
func systemContext(now time.Time, instruction string) string {
	if instruction == "" {
		instruction = defaultPrompt
	}
	return fmt.Sprintf("Current Time: %s\nGreeting Context: Selamat %s\nSystem Instruction: %s",
		now.Format("15.04"), greeting(now), instruction)
}

// greeting returns the Indonesian salutation for the hour of day.
func greeting(now time.Time) string {
	hour := now.Hour()
	switch {
	case hour < 11:
		return "Pagi"
	case hour < 15:
		return "Siang"
	case hour < 19:
		return "Sore"
	default:
		return "Malam"
	}
}

func (o *Orchestrator) addHistory(deviceID, chatID, role, content string) {
	row := domain.WaAiHistory{
		DeviceID: deviceID,
		ChatID:   chatID,
		Role:     role,
		Content:  content,
	}
	if err := o.db.Create(&row).Error; err != nil {
		zap.L().Warn("ai history insert failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// loadHistory returns the most recent turns for the chat, excluding
// the newest row (the inbound message itself, already the pending
// user turn), oldest first.
func (o *Orchestrator) loadHistory(deviceID, chatID string) ([]genai.Turn, error) {
	var rows []domain.WaAiHistory
	err := o.db.Where("device_id = ? and chat_id = ?", deviceID, chatID).
		Order("id desc").Offset(1).Limit(historyLimit).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load ai history")
	}
	turns := make([]genai.Turn, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		turns = append(turns, genai.Turn{Role: rows[i].Role, Content: rows[i].Content})
	}
	return turns, nil
}

// FlushHistory deletes all conversational memory for a device and
// reports whether anything was removed.
func (o *Orchestrator) FlushHistory(deviceID string) (bool, error) {
	res := o.db.Where("device_id = ?", deviceID).Delete(&domain.WaAiHistory{})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "flush ai history")
	}
	return res.RowsAffected > 0, nil
}
